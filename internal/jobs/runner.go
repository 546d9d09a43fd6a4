// Package jobs runs clustering jobs pulled from the queue: input and output
// arrays live in object storage, runs are persisted and a result is
// published when the job finishes.
package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/your-org/reid/internal/arrays"
	"github.com/your-org/reid/internal/cluster"
	"github.com/your-org/reid/internal/config"
	"github.com/your-org/reid/internal/models"
	"github.com/your-org/reid/internal/observability"
)

type ObjectStore interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type RunStore interface {
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string, runID *uuid.UUID) error
	// CompleteRun persists the run and marks its job succeeded atomically,
	// replacing any run an earlier delivery of the job left behind.
	CompleteRun(ctx context.Context, run *models.Run) error
}

type ResultPublisher interface {
	PublishResult(ctx context.Context, res models.JobResult) error
}

// Runner executes clustering jobs.
type Runner struct {
	objects   ObjectStore
	runs      RunStore
	publisher ResultPublisher
	cache     cluster.MatrixCache
	cfg       config.ClusteringConfig
	cacheMode cluster.CacheMode
}

func NewRunner(objects ObjectStore, runs RunStore, publisher ResultPublisher,
	cache cluster.MatrixCache, cfg config.ClusteringConfig, cacheMode cluster.CacheMode) *Runner {
	return &Runner{
		objects:   objects,
		runs:      runs,
		publisher: publisher,
		cache:     cache,
		cfg:       cfg,
		cacheMode: cacheMode,
	}
}

// Process runs one job. Jobs that fail because of their input or their
// constraints are marked failed and return nil so they are not redelivered;
// storage and messaging errors are returned for a retry.
func (r *Runner) Process(ctx context.Context, msg models.JobMessage) error {
	log := slog.With("job_id", msg.JobID)

	if err := r.runs.UpdateJobStatus(ctx, msg.JobID, models.JobStatusRunning, "", nil); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	data, err := r.objects.GetObject(ctx, msg.InputKey)
	if err != nil {
		return fmt.Errorf("fetch input: %w", err)
	}

	dets, err := arrays.DecodeDetections(bytes.NewReader(data))
	if err != nil {
		return r.fail(ctx, log, msg, "load", err)
	}

	out, err := cluster.Run(ctx, dets, cluster.Options{
		NClusters:          msg.NClusters,
		MaxCommonFrames:    msg.MaxCommonFrames,
		MinTrackLength:     r.cfg.MinTrackLength,
		MaxIterations:      r.cfg.MaxIterations,
		AcceptNonConverged: r.cfg.AcceptsNonConverged(),
		CacheMode:          r.cacheMode,
		Cache:              r.cache,
		Logger:             log,
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		stage := ""
		var se *cluster.StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		return r.fail(ctx, log, msg, stage, err)
	}

	var buf bytes.Buffer
	if err := arrays.EncodeRows(&buf, out.Rows); err != nil {
		return r.fail(ctx, log, msg, "save", err)
	}
	if err := r.objects.PutObject(ctx, msg.OutputKey, buf.Bytes(), "application/x-npy"); err != nil {
		return fmt.Errorf("upload output: %w", err)
	}

	run := BuildRun(msg.JobID, msg.MaxCommonFrames, out)
	if err := r.runs.CompleteRun(ctx, run); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	observability.JobsProcessed.WithLabelValues(string(models.JobStatusSucceeded)).Inc()

	log.Info("job finished", "run_id", run.ID, "k_effective", run.KEffective, "clusters", run.Clusters,
		"tracks", run.TrackCount, "status", run.Status)

	res := models.JobResult{
		JobID:      msg.JobID,
		RunID:      &run.ID,
		Status:     models.JobStatusSucceeded,
		KEffective: run.KEffective,
		Converged:  out.Result.Status == cluster.StatusConverged,
		OutputKey:  msg.OutputKey,
		FinishedAt: time.Now(),
	}
	if err := r.publisher.PublishResult(ctx, res); err != nil {
		log.Warn("publish job result", "error", err)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, log *slog.Logger, msg models.JobMessage, stage string, cause error) error {
	log.Error("job failed", "stage", stage, "error", cause)
	observability.JobsProcessed.WithLabelValues(string(models.JobStatusFailed)).Inc()

	if err := r.runs.UpdateJobStatus(ctx, msg.JobID, models.JobStatusFailed, cause.Error(), nil); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	res := models.JobResult{
		JobID:      msg.JobID,
		Status:     models.JobStatusFailed,
		Stage:      stage,
		Error:      cause.Error(),
		FinishedAt: time.Now(),
	}
	if err := r.publisher.PublishResult(ctx, res); err != nil {
		log.Warn("publish job result", "error", err)
	}
	return nil
}

// BuildRun converts a pipeline output into a persisted run. Track directions
// are stored at unit length.
func BuildRun(jobID uuid.UUID, maxCommonFrames int, out *cluster.Output) *models.Run {
	run := &models.Run{
		ID:              uuid.New(),
		JobID:           jobID,
		KRequested:      out.KRequested,
		KEffective:      out.KEffective,
		Clusters:        out.Result.K(),
		MaxCommonFrames: maxCommonFrames,
		Status:          out.Result.Status.String(),
		Iterations:      out.Result.Iterations,
		TrackCount:      out.Index.Len(),
		ConstraintCount: len(out.Constraints.CannotLink),
		RefFrame:        out.RefFrame,
		Assignments:     make([]models.TrackAssignment, len(out.Descriptors)),
		Centroids:       make([]models.ClusterCentroid, out.Result.K()),
	}
	for i, d := range out.Descriptors {
		run.Assignments[i] = models.TrackAssignment{
			RunID:      run.ID,
			TrackID:    d.TrackID,
			FirstFrame: d.FirstFrame,
			Length:     d.Length,
			ClusterID:  out.Result.Labels[i],
			Direction:  unit32(d.Vector),
		}
	}
	for c, centroid := range out.Result.Centroids {
		run.Centroids[c] = models.ClusterCentroid{
			RunID:     run.ID,
			ClusterID: c,
			Size:      out.Result.Sizes[c],
			Centroid:  unit32(centroid),
		}
	}
	return run
}

func unit32(v []float64) []float32 {
	out := make([]float32, len(v))
	norm := floats.Norm(v, 2)
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}
