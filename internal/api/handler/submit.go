// Package handler contains the HTTP handlers for the intelligence API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	mw "github.com/nekazari/intelligence/internal/api/middleware"
	"github.com/nekazari/intelligence/internal/api/response"
	"github.com/nekazari/intelligence/internal/intake"
	"github.com/nekazari/intelligence/internal/plugin"
	"github.com/nekazari/intelligence/pkg/models"
)

// Service defines the intake operations the handlers depend on.
type Service interface {
	Submit(ctx context.Context, params intake.SubmitParams) (*models.Job, error)
	Poll(ctx context.Context, id uuid.UUID, tenantID string) (*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID, tenantID string) error
	Plugins() []string
}

type submitRequest struct {
	EntityID       string          `json:"entity_id"`
	Attribute      string          `json:"attribute"`
	HistoricalData []models.Sample `json:"historical_data"`
	Horizon        int             `json:"prediction_horizon"`
	Plugin         string          `json:"plugin"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// NewSubmitHandler returns the handler for POST /analyze and POST /predict;
// kind selects whether the completed result is published to the broker.
func NewSubmitHandler(svc Service, kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "MISSING_TENANT", "X-Tenant-ID header is required", nil)
			return
		}

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.Submit(r.Context(), intake.SubmitParams{
			TenantID:  tenantID,
			Kind:      kind,
			EntityID:  req.EntityID,
			Attribute: req.Attribute,
			Samples:   req.HistoricalData,
			Horizon:   req.Horizon,
			Plugin:    req.Plugin,
		})
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		response.Accepted(w, submitResponse{
			JobID:  job.ID.String(),
			Status: job.Status,
		})
	}
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, plugin.ErrPluginNotFound):
		response.Error(w, http.StatusBadRequest, models.ErrKindPluginNotFound, err.Error(), nil)
	case errors.Is(err, intake.ErrValidation):
		response.Error(w, http.StatusBadRequest, models.ErrKindValidation, err.Error(), nil)
	case errors.Is(err, intake.ErrUnavailable):
		response.Error(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE",
			"Job store is temporarily unavailable, retry later", nil)
	default:
		response.Error(w, http.StatusInternalServerError, models.ErrKindInternal,
			"An unexpected error occurred", nil)
	}
}
