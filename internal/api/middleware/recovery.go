package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/nekazari/intelligence/internal/api/response"
	"github.com/nekazari/intelligence/pkg/models"
)

// Recovery converts handler panics into the standard error envelope. The
// tenant is logged when the request carries one so a crashing payload can be
// traced back to its submitter.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				attrs := []any{
					"error", err,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
				}
				// Recovery runs outside the tenant middleware, so read the
				// header rather than the request context.
				if tenantID := r.Header.Get(TenantHeader); tenantID != "" {
					attrs = append(attrs, "tenant_id", tenantID)
				}
				slog.Error("panic recovered", attrs...)
				response.Error(w, http.StatusInternalServerError,
					models.ErrKindInternal, "An unexpected error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
