package domain

import "time"

// ProgressEvent is a transient broadcast describing current stage, percent
// and message for a job. Events are delivered best-effort to subscribers
// present at publish time and are not retained afterwards; late subscribers
// recover current state through a status poll instead.
type ProgressEvent struct {
	JobID     string         `json:"job_id"`
	Stage     JobStatus      `json:"stage"`
	Percent   int            `json:"progress"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}
