package handler

import (
	"net/http"

	"github.com/nekazari/intelligence/internal/api/response"
)

// NewListPluginsHandler returns the handler for GET /plugins.
func NewListPluginsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, map[string]any{
			"plugins": svc.Plugins(),
		})
	}
}
