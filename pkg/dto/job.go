package dto

import "github.com/google/uuid"

// CreateJobForm is bound from the multipart form of POST /v1/jobs. The
// tracker output array is sent as the "file" part.
type CreateJobForm struct {
	NClusters       int `form:"n_clusters" binding:"required,min=1"`
	MaxCommonFrames int `form:"max_common_frames" binding:"min=0"`
}

type JobResponse struct {
	ID              uuid.UUID  `json:"id"`
	Status          string     `json:"status"`
	NClusters       int        `json:"n_clusters"`
	MaxCommonFrames int        `json:"max_common_frames"`
	Error           string     `json:"error,omitempty"`
	RunID           *uuid.UUID `json:"run_id,omitempty"`
	OutputURL       string     `json:"output_url,omitempty"`
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
}

type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int           `json:"total"`
}
