package interfaces

import "context"

const (
	HealthServing    = "SERVING"
	HealthNotServing = "NOT_SERVING"
)

type HealthStatus struct {
	Status       string `json:"status"`
	Seq          uint64 `json:"seq"`
	StateHash    string `json:"state_hash"`
	Initialized  bool   `json:"initialized"`
	Timestamp    int64  `json:"timestamp"`
	Uptime       int64  `json:"uptime_seconds"`
	Version      string `json:"version"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type HealthService interface {
	Check(ctx context.Context) (*HealthStatus, error)
}
