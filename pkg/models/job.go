package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

const (
	JobKindAnalyze = "analyze"
	JobKindPredict = "predict"
)

// Error kinds captured on failed jobs and returned to polling clients.
const (
	ErrKindValidation     = "VALIDATION_ERROR"
	ErrKindPluginNotFound = "PLUGIN_NOT_FOUND"
	ErrKindPluginContract = "PLUGIN_CONTRACT_ERROR"
	ErrKindPluginTimeout  = "PLUGIN_TIMEOUT"
	ErrKindBrokerWrite    = "BROKER_WRITE_ERROR"
	ErrKindJobNotFound    = "JOB_NOT_FOUND"
	ErrKindJobCancelled   = "JOB_CANCELLED"
	ErrKindInternal       = "INTERNAL_ERROR"
)

// Sample is a single historical observation submitted for analysis.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// ForecastPoint is a single predicted observation.
type ForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Payload is the analysis input carried by a job.
type Payload struct {
	EntityID  string   `json:"entity_id"`
	Attribute string   `json:"attribute"`
	Samples   []Sample `json:"historical_data"`
	Horizon   int      `json:"prediction_horizon"`
}

// Forecast is the output of a plugin execution.
type Forecast struct {
	Points     []ForecastPoint `json:"predictions"`
	Confidence float64         `json:"confidence"`
	Model      string          `json:"model"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// JobError is the classified failure captured on a failed job.
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e JobError) Error() string { return e.Kind + ": " + e.Message }

// Job tracks one async analysis or prediction request. The API returns a
// job_id on POST /analyze or POST /predict; the client polls
// GET /jobs/{job_id} until status is completed or failed.
//
// Jobs are created by the intake layer in status pending and mutated only by
// the worker that claims them. Status transitions are monotonic:
// pending -> running -> completed|failed, with no backward moves.
type Job struct {
	ID              uuid.UUID `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Kind            string    `json:"kind"`
	Plugin          string    `json:"plugin"`
	Payload         Payload   `json:"payload"`
	Status          string    `json:"status"`
	Result          *Forecast `json:"result,omitempty"`
	Error           *JobError `json:"error,omitempty"`
	CancelRequested bool      `json:"cancel_requested"`
	RetryCount      int       `json:"retry_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
