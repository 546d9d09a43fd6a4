package dto

import "github.com/google/uuid"

// WSEvent is a WebSocket message for real-time job status delivery.
type WSEvent struct {
	Type   string     `json:"type"` // job_status
	JobID  uuid.UUID  `json:"job_id"`
	Status string     `json:"status"`
	RunID  *uuid.UUID `json:"run_id,omitempty"`
	Stage  string     `json:"stage,omitempty"`
	Error  string     `json:"error,omitempty"`
}
