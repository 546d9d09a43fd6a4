package dto

import "github.com/google/uuid"

type RunResponse struct {
	ID              uuid.UUID `json:"id"`
	JobID           uuid.UUID `json:"job_id"`
	KRequested      int       `json:"k_requested"`
	KEffective      int       `json:"k_effective"`
	Clusters        int       `json:"clusters"`
	MaxCommonFrames int       `json:"max_common_frames"`
	Status          string    `json:"status"`
	Iterations      int       `json:"iterations"`
	TrackCount      int       `json:"track_count"`
	ConstraintCount int       `json:"constraint_count"`
	RefFrame        int       `json:"ref_frame"`
	CreatedAt       string    `json:"created_at"`
}

type ClusterResponse struct {
	ClusterID int   `json:"cluster_id"`
	Size      int   `json:"size"`
	TrackIDs  []int `json:"track_ids"`
}

type TrackResponse struct {
	TrackID    int `json:"track_id"`
	ClusterID  int `json:"cluster_id"`
	FirstFrame int `json:"first_frame"`
	Length     int `json:"length"`
}

// SimilarTrack is one result from GET /v1/runs/:id/tracks/:trackId/similar.
type SimilarTrack struct {
	TrackResponse
	Score float32 `json:"score"`
}
