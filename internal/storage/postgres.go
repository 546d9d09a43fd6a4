package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/reid/internal/config"
	"github.com/your-org/reid/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS jobs (
	id                UUID PRIMARY KEY,
	input_key         TEXT NOT NULL,
	output_key        TEXT NOT NULL,
	n_clusters        INT NOT NULL,
	max_common_frames INT NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	error_message     TEXT NOT NULL DEFAULT '',
	run_id            UUID,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id                UUID PRIMARY KEY,
	job_id            UUID NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	k_requested       INT NOT NULL,
	k_effective       INT NOT NULL,
	max_common_frames INT NOT NULL,
	status            TEXT NOT NULL,
	iterations        INT NOT NULL,
	track_count       INT NOT NULL,
	constraint_count  INT NOT NULL,
	ref_frame         INT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE runs ADD COLUMN IF NOT EXISTS clusters INT NOT NULL DEFAULT 0;
CREATE UNIQUE INDEX IF NOT EXISTS runs_job_id_key ON runs (job_id);

CREATE TABLE IF NOT EXISTS track_assignments (
	run_id      UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	track_id    INT NOT NULL,
	first_frame INT NOT NULL,
	length      INT NOT NULL,
	cluster_id  INT NOT NULL,
	direction   vector NOT NULL,
	PRIMARY KEY (run_id, track_id)
);

CREATE TABLE IF NOT EXISTS cluster_centroids (
	run_id     UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	cluster_id INT NOT NULL,
	size       INT NOT NULL,
	centroid   vector NOT NULL,
	PRIMARY KEY (run_id, cluster_id)
);
`

// EnsureSchema creates the tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.JobStatusQueued
	return s.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, input_key, output_key, n_clusters, max_common_frames, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		job.ID, job.InputKey, job.OutputKey, job.NClusters, job.MaxCommonFrames, job.Status,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j := &models.Job{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, input_key, output_key, n_clusters, max_common_frames, status, error_message, run_id, created_at, updated_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.InputKey, &j.OutputKey, &j.NClusters, &j.MaxCommonFrames, &j.Status,
		&j.ErrorMessage, &j.RunID, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, status models.JobStatus, limit, offset int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT id, input_key, output_key, n_clusters, max_common_frames, status, error_message, run_id, created_at, updated_at
		 FROM jobs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var j models.Job
		if err := rows.Scan(&j.ID, &j.InputKey, &j.OutputKey, &j.NClusters, &j.MaxCommonFrames, &j.Status,
			&j.ErrorMessage, &j.RunID, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus, errMsg string, runID *uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, run_id = COALESCE($3, run_id), updated_at = $4 WHERE id = $5`,
		status, errMsg, runID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", id)
	}
	return nil
}

// --- Runs ---

// CompleteRun stores a run with its track assignments and centroids and
// marks its job succeeded, all in one transaction. A run left by an earlier
// delivery of the same job is replaced, so a redelivered job never ends up
// with two runs.
func (s *PostgresStore) CompleteRun(ctx context.Context, run *models.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM runs WHERE job_id = $1`, run.JobID); err != nil {
		return fmt.Errorf("replace run: %w", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO runs (id, job_id, k_requested, k_effective, clusters, max_common_frames, status, iterations, track_count, constraint_count, ref_frame)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING created_at`,
		run.ID, run.JobID, run.KRequested, run.KEffective, run.Clusters, run.MaxCommonFrames, run.Status,
		run.Iterations, run.TrackCount, run.ConstraintCount, run.RefFrame,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for _, a := range run.Assignments {
		batch.Queue(
			`INSERT INTO track_assignments (run_id, track_id, first_frame, length, cluster_id, direction)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			run.ID, a.TrackID, a.FirstFrame, a.Length, a.ClusterID, pgvector.NewVector(a.Direction))
	}
	for _, c := range run.Centroids {
		batch.Queue(
			`INSERT INTO cluster_centroids (run_id, cluster_id, size, centroid) VALUES ($1, $2, $3, $4)`,
			run.ID, c.ClusterID, c.Size, pgvector.NewVector(c.Centroid))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert run details: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = '', run_id = $2, updated_at = $3 WHERE id = $4`,
		models.JobStatusSucceeded, run.ID, time.Now(), run.JobID)
	if err != nil {
		return fmt.Errorf("mark job succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", run.JobID)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	r := &models.Run{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, job_id, k_requested, k_effective, clusters, max_common_frames, status, iterations, track_count, constraint_count, ref_frame, created_at
		 FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.JobID, &r.KRequested, &r.KEffective, &r.Clusters, &r.MaxCommonFrames, &r.Status,
		&r.Iterations, &r.TrackCount, &r.ConstraintCount, &r.RefFrame, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListAssignments returns the tracks of a run ordered by first frame. When
// clusterID is non-nil only that cluster's tracks are returned.
func (s *PostgresStore) ListAssignments(ctx context.Context, runID uuid.UUID, clusterID *int) ([]models.TrackAssignment, error) {
	query := `SELECT run_id, track_id, first_frame, length, cluster_id, direction
		 FROM track_assignments WHERE run_id = $1`
	args := []interface{}{runID}
	if clusterID != nil {
		query += ` AND cluster_id = $2`
		args = append(args, *clusterID)
	}
	query += ` ORDER BY first_frame, track_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var out []models.TrackAssignment
	for rows.Next() {
		var a models.TrackAssignment
		var dir pgvector.Vector
		if err := rows.Scan(&a.RunID, &a.TrackID, &a.FirstFrame, &a.Length, &a.ClusterID, &dir); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a.Direction = dir.Slice()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetAssignment(ctx context.Context, runID uuid.UUID, trackID int) (*models.TrackAssignment, error) {
	a := &models.TrackAssignment{}
	var dir pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, track_id, first_frame, length, cluster_id, direction
		 FROM track_assignments WHERE run_id = $1 AND track_id = $2`, runID, trackID,
	).Scan(&a.RunID, &a.TrackID, &a.FirstFrame, &a.Length, &a.ClusterID, &dir)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}
	a.Direction = dir.Slice()
	return a, nil
}

func (s *PostgresStore) ListCentroids(ctx context.Context, runID uuid.UUID) ([]models.ClusterCentroid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, cluster_id, size, centroid FROM cluster_centroids WHERE run_id = $1 ORDER BY cluster_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list centroids: %w", err)
	}
	defer rows.Close()

	var out []models.ClusterCentroid
	for rows.Next() {
		var c models.ClusterCentroid
		var v pgvector.Vector
		if err := rows.Scan(&c.RunID, &c.ClusterID, &c.Size, &v); err != nil {
			return nil, fmt.Errorf("scan centroid: %w", err)
		}
		c.Centroid = v.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// NearestTracks finds the tracks of a run whose direction is closest to the
// given vector by cosine distance, excluding excludeTrack.
func (s *PostgresStore) NearestTracks(ctx context.Context, runID uuid.UUID, direction []float32, excludeTrack, limit int) ([]TrackMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	vec := pgvector.NewVector(direction)

	rows, err := s.pool.Query(ctx,
		`SELECT track_id, cluster_id, first_frame, length, (1 - (direction <=> $2))::real AS score
		 FROM track_assignments
		 WHERE run_id = $1 AND track_id <> $3
		 ORDER BY direction <=> $2
		 LIMIT $4`,
		runID, vec, excludeTrack, limit)
	if err != nil {
		return nil, fmt.Errorf("nearest tracks: %w", err)
	}
	defer rows.Close()

	var matches []TrackMatch
	for rows.Next() {
		var m TrackMatch
		if err := rows.Scan(&m.TrackID, &m.ClusterID, &m.FirstFrame, &m.Length, &m.Score); err != nil {
			return nil, fmt.Errorf("scan track match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

type TrackMatch struct {
	TrackID    int     `json:"track_id"`
	ClusterID  int     `json:"cluster_id"`
	FirstFrame int     `json:"first_frame"`
	Length     int     `json:"length"`
	Score      float32 `json:"score"`
}
