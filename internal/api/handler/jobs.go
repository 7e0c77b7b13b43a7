package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/nekazari/intelligence/internal/api/middleware"
	"github.com/nekazari/intelligence/internal/api/response"
	"github.com/nekazari/intelligence/internal/store"
	"github.com/nekazari/intelligence/pkg/models"
)

type jobResponse struct {
	JobID     string           `json:"job_id"`
	Kind      string           `json:"kind"`
	Plugin    string           `json:"plugin"`
	Status    string           `json:"status"`
	Result    *models.Forecast `json:"result,omitempty"`
	Error     *models.JobError `json:"error,omitempty"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
}

// NewPollJobHandler returns the handler for GET /jobs/{jobID}.
func NewPollJobHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, jobID, ok := jobRequest(w, r)
		if !ok {
			return
		}

		job, err := svc.Poll(r.Context(), jobID, tenantID)
		if err != nil {
			writeJobError(w, err)
			return
		}

		response.JSON(w, jobResponse{
			JobID:     job.ID.String(),
			Kind:      job.Kind,
			Plugin:    job.Plugin,
			Status:    job.Status,
			Result:    job.Result,
			Error:     job.Error,
			CreatedAt: job.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt: job.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
}

// NewCancelJobHandler returns the handler for POST /jobs/{jobID}/cancel.
// Cancellation is cooperative: only jobs still pending can be flagged.
func NewCancelJobHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, jobID, ok := jobRequest(w, r)
		if !ok {
			return
		}

		if err := svc.Cancel(r.Context(), jobID, tenantID); err != nil {
			writeJobError(w, err)
			return
		}

		response.JSON(w, map[string]any{
			"job_id":           jobID.String(),
			"cancel_requested": true,
		})
	}
}

func jobRequest(w http.ResponseWriter, r *http.Request) (string, uuid.UUID, bool) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusBadRequest, "MISSING_TENANT", "X-Tenant-ID header is required", nil)
		return "", uuid.Nil, false
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id must be a valid UUID", nil)
		return "", uuid.Nil, false
	}
	return tenantID, jobID, true
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, models.ErrKindJobNotFound, "Job not found", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_STATE", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, models.ErrKindInternal,
			"An unexpected error occurred", nil)
	}
}
