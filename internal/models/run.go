package models

import (
	"time"

	"github.com/google/uuid"
)

// Run is one completed clustering of a job's input.
type Run struct {
	ID              uuid.UUID `json:"id" db:"id"`
	JobID           uuid.UUID `json:"job_id" db:"job_id"`
	KRequested      int       `json:"k_requested" db:"k_requested"`
	KEffective      int       `json:"k_effective" db:"k_effective"` // k handed to k-means
	Clusters        int       `json:"clusters" db:"clusters"`       // non-empty clusters in the result
	MaxCommonFrames int       `json:"max_common_frames" db:"max_common_frames"`
	Status          string    `json:"status" db:"status"` // converged, not_converged
	Iterations      int       `json:"iterations" db:"iterations"`
	TrackCount      int       `json:"track_count" db:"track_count"`
	ConstraintCount int       `json:"constraint_count" db:"constraint_count"`
	RefFrame        int       `json:"ref_frame" db:"ref_frame"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`

	Assignments []TrackAssignment `json:"-" db:"-"`
	Centroids   []ClusterCentroid `json:"-" db:"-"`
}

// TrackAssignment records the cluster a track was merged into.
type TrackAssignment struct {
	RunID      uuid.UUID `json:"run_id" db:"run_id"`
	TrackID    int       `json:"track_id" db:"track_id"`
	FirstFrame int       `json:"first_frame" db:"first_frame"`
	Length     int       `json:"length" db:"length"`
	ClusterID  int       `json:"cluster_id" db:"cluster_id"`
	Direction  []float32 `json:"-" db:"direction"` // unit appearance vector
}

type ClusterCentroid struct {
	RunID     uuid.UUID `json:"run_id" db:"run_id"`
	ClusterID int       `json:"cluster_id" db:"cluster_id"`
	Size      int       `json:"size" db:"size"`
	Centroid  []float32 `json:"-" db:"centroid"`
}
