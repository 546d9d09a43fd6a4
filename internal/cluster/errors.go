package cluster

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput             = errors.New("empty input")
	ErrMalformedInput         = errors.New("malformed input")
	ErrNoTracks               = errors.New("no tracks survived filtering")
	ErrInfeasible             = errors.New("infeasible constraint configuration")
	ErrNotConverged           = errors.New("k-means did not converge")
	ErrConflictingConstraints = errors.New("pair is both must-link and cannot-link")
)

// InfeasibleError reports the track that could not be placed in any cluster.
type InfeasibleError struct {
	Index     int   // dense track position
	TrackID   int   // -1 when the caller did not know the id
	Exhausted []int // clusters tried, in similarity order
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("track %d (index %d) violates cannot-link constraints in every cluster %v",
		e.TrackID, e.Index, e.Exhausted)
}

func (e *InfeasibleError) Unwrap() error { return ErrInfeasible }

// Stage names used in StageError.
const (
	StageValidate    = "validate"
	StageFilter      = "filter"
	StageAggregate   = "aggregate"
	StageCooccur     = "cooccurrence"
	StageConstraints = "constraints"
	StageInitialize  = "initialize"
	StageKMeans      = "kmeans"
	StageMap         = "map"
)

// StageError tags a fatal pipeline error with the stage it came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
