package handler

import (
	"encoding/json"
	"net/http"

	mw "github.com/nekazari/intelligence/internal/api/middleware"
	"github.com/nekazari/intelligence/internal/api/response"
	"github.com/nekazari/intelligence/internal/intake"
	"github.com/nekazari/intelligence/pkg/models"
)

type webhookRequest struct {
	EntityID     string `json:"entity_id"`
	Attribute    string `json:"attribute"`
	AnalysisType string `json:"analysis_type"`
	Data         struct {
		EntityID       string          `json:"entity_id"`
		Attribute      string          `json:"attribute"`
		HistoricalData []models.Sample `json:"historical_data"`
		Horizon        int             `json:"prediction_horizon"`
		Plugin         string          `json:"plugin"`
	} `json:"data"`
}

// NewWebhookHandler returns the handler for POST /webhook/n8n, the external
// automation trigger. Automation payloads are loosely shaped: analysis_type
// defaults to "predict", and entity_id and attribute may arrive either at the
// top level or inside data.
func NewWebhookHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := mw.GetTenantID(r)
		if !ok {
			response.Error(w, http.StatusBadRequest, "MISSING_TENANT", "X-Tenant-ID header is required", nil)
			return
		}

		var req webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		kind := models.JobKindAnalyze
		if req.AnalysisType == "" || req.AnalysisType == models.JobKindPredict {
			kind = models.JobKindPredict
		}
		entityID := req.EntityID
		if entityID == "" {
			entityID = req.Data.EntityID
		}
		attribute := req.Attribute
		if attribute == "" {
			attribute = req.Data.Attribute
		}

		job, err := svc.Submit(r.Context(), intake.SubmitParams{
			TenantID:  tenantID,
			Kind:      kind,
			EntityID:  entityID,
			Attribute: attribute,
			Samples:   req.Data.HistoricalData,
			Horizon:   req.Data.Horizon,
			Plugin:    req.Data.Plugin,
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
