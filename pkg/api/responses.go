package api

import (
	"github.com/curator-sh/curator/pkg/database"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/ratelimit"
)

// HealthCheck is one named component check inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health. Only curator's own components
// are checked; external dependencies (LLM, image APIs) are excluded so the
// orchestrator never restarts a replica for someone else's outage.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	Database *database.HealthStatus `json:"database,omitempty"`
	Checks   map[string]HealthCheck `json:"checks"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Version       string              `json:"version"`
	Configuration ConfigurationStats  `json:"configuration"`
	Queues        map[string]int      `json:"queues"`
	QueueErrors   map[string]string   `json:"queue_errors,omitempty"`
	WorkerPools   []*queue.PoolHealth `json:"worker_pools,omitempty"`
	RateLimiters  []ratelimit.Stats   `json:"rate_limiters,omitempty"`
}

// ConfigurationStats contains counts of loaded configuration items.
type ConfigurationStats struct {
	Sources      int `json:"sources"`
	ImageSources int `json:"image_sources"`
}

// TriggerResponse is returned by the manual trigger endpoints.
type TriggerResponse struct {
	Status  string `json:"status"`
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message"`
}

// ErrorResponse is the common error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
