package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

type Job struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	InputKey        string     `json:"input_key" db:"input_key"`
	OutputKey       string     `json:"output_key" db:"output_key"`
	NClusters       int        `json:"n_clusters" db:"n_clusters"`
	MaxCommonFrames int        `json:"max_common_frames" db:"max_common_frames"`
	Status          JobStatus  `json:"status" db:"status"`
	ErrorMessage    string     `json:"error_message,omitempty" db:"error_message"`
	RunID           *uuid.UUID `json:"run_id,omitempty" db:"run_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// JobMessage is the message published to NATS for worker processing.
type JobMessage struct {
	JobID           uuid.UUID `json:"job_id"`
	InputKey        string    `json:"input_key"` // MinIO object key
	OutputKey       string    `json:"output_key"`
	NClusters       int       `json:"n_clusters"`
	MaxCommonFrames int       `json:"max_common_frames"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// JobResult is published by a worker when a job finishes.
type JobResult struct {
	JobID      uuid.UUID  `json:"job_id"`
	RunID      *uuid.UUID `json:"run_id,omitempty"`
	Status     JobStatus  `json:"status"`
	Stage      string     `json:"stage,omitempty"` // failing stage
	Error      string     `json:"error,omitempty"`
	KEffective int        `json:"k_effective,omitempty"`
	Converged  bool       `json:"converged"`
	OutputKey  string     `json:"output_key,omitempty"`
	FinishedAt time.Time  `json:"finished_at"`
}
