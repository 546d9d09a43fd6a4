package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/sbinet/npyio/npy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/your-org/reid/internal/arrays"
	"github.com/your-org/reid/internal/cluster"
	"github.com/your-org/reid/internal/config"
	"github.com/your-org/reid/internal/models"
)

type fakeObjects struct {
	data   map[string][]byte
	getErr error
}

func (f *fakeObjects) GetObject(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.data[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return d, nil
}

func (f *fakeObjects) PutObject(_ context.Context, key string, data []byte, _ string) error {
	f.data[key] = data
	return nil
}

type statusUpdate struct {
	status models.JobStatus
	errMsg string
	runID  *uuid.UUID
}

type fakeRuns struct {
	updates     []statusUpdate
	saved       []*models.Run
	completeErr error
}

func (f *fakeRuns) UpdateJobStatus(_ context.Context, _ uuid.UUID, status models.JobStatus, errMsg string, runID *uuid.UUID) error {
	f.updates = append(f.updates, statusUpdate{status, errMsg, runID})
	return nil
}

// CompleteRun replaces an earlier run of the same job, like the Postgres
// store does.
func (f *fakeRuns) CompleteRun(_ context.Context, run *models.Run) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	for i, r := range f.saved {
		if r.JobID == run.JobID {
			f.saved[i] = run
			return nil
		}
	}
	f.saved = append(f.saved, run)
	return nil
}

type fakePublisher struct {
	results []models.JobResult
}

func (f *fakePublisher) PublishResult(_ context.Context, res models.JobResult) error {
	f.results = append(f.results, res)
	return nil
}

// trackerArray builds an input array with two tracks on screen together and
// a third that reappears later looking like the first.
func trackerArray(t *testing.T) []byte {
	t.Helper()
	var data []float64
	add := func(trackID, from, to int, feature ...float64) {
		for f := from; f < to; f++ {
			row := []float64{float64(f), float64(trackID), 1, 2, 3, 4, -1, -1, -1, 0}
			data = append(data, append(row, feature...)...)
		}
	}
	add(1, 0, 20, 1, 0, 0)
	add(2, 0, 20, 0, 1, 0)
	add(3, 30, 50, 0.95, 0.05, 0)

	var buf bytes.Buffer
	require.NoError(t, npy.Write(&buf, mat.NewDense(60, 13, data)))
	return buf.Bytes()
}

func newJob() models.JobMessage {
	id := uuid.New()
	return models.JobMessage{
		JobID:     id,
		InputKey:  "jobs/" + id.String() + "/input.npy",
		OutputKey: "jobs/" + id.String() + "/output.npy",
		NClusters: 2,
	}
}

func TestRunner_Process(t *testing.T) {
	msg := newJob()
	objects := &fakeObjects{data: map[string][]byte{msg.InputKey: trackerArray(t)}}
	runs := &fakeRuns{}
	pub := &fakePublisher{}
	r := NewRunner(objects, runs, pub, nil, config.ClusteringConfig{}, cluster.CacheOff)

	require.NoError(t, r.Process(context.Background(), msg))

	require.Contains(t, objects.data, msg.OutputKey)
	m, err := arrays.ReadMatrix(bytes.NewReader(objects.data[msg.OutputKey]))
	require.NoError(t, err)
	rows, cols := m.Dims()
	assert.Equal(t, 60, rows)
	assert.Equal(t, models.OutputColumns, cols)
	assert.Equal(t, m.At(0, 1), m.At(40, 1), "track 3 joins track 1")
	assert.NotEqual(t, m.At(0, 1), m.At(20, 1))

	require.Len(t, runs.saved, 1)
	run := runs.saved[0]
	assert.Equal(t, msg.JobID, run.JobID)
	assert.Equal(t, 2, run.KEffective)
	assert.Equal(t, 2, run.Clusters)
	assert.Equal(t, 3, run.TrackCount)
	assert.Equal(t, 1, run.ConstraintCount)
	assert.Equal(t, "converged", run.Status)
	require.Len(t, run.Assignments, 3)
	assert.InDelta(t, 1.0, norm32(run.Assignments[0].Direction), 1e-5)

	// success is recorded by CompleteRun, not by a second status write
	require.Len(t, runs.updates, 1)
	assert.Equal(t, models.JobStatusRunning, runs.updates[0].status)

	require.Len(t, pub.results, 1)
	assert.Equal(t, models.JobStatusSucceeded, pub.results[0].Status)
	assert.Equal(t, run.ID, *pub.results[0].RunID)
	assert.True(t, pub.results[0].Converged)
}

func TestRunner_ProcessRedeliveryKeepsOneRun(t *testing.T) {
	msg := newJob()
	objects := &fakeObjects{data: map[string][]byte{msg.InputKey: trackerArray(t)}}
	runs := &fakeRuns{completeErr: errors.New("connection reset")}
	pub := &fakePublisher{}
	r := NewRunner(objects, runs, pub, nil, config.ClusteringConfig{}, cluster.CacheOff)

	err := r.Process(context.Background(), msg)
	require.ErrorContains(t, err, "connection reset")
	assert.Empty(t, runs.saved)
	assert.Empty(t, pub.results, "nothing is announced before the run is stored")
	for _, u := range runs.updates {
		assert.NotEqual(t, models.JobStatusSucceeded, u.status)
	}

	runs.completeErr = nil
	require.NoError(t, r.Process(context.Background(), msg))

	require.Len(t, runs.saved, 1)
	assert.Equal(t, msg.JobID, runs.saved[0].JobID)
	require.Len(t, pub.results, 1)
	assert.Equal(t, models.JobStatusSucceeded, pub.results[0].Status)
}

func TestRunner_ProcessBadInputFailsJob(t *testing.T) {
	msg := newJob()
	objects := &fakeObjects{data: map[string][]byte{msg.InputKey: []byte("garbage")}}
	runs := &fakeRuns{}
	pub := &fakePublisher{}
	r := NewRunner(objects, runs, pub, nil, config.ClusteringConfig{}, cluster.CacheOff)

	require.NoError(t, r.Process(context.Background(), msg), "permanent failures are not redelivered")

	require.Len(t, runs.updates, 2)
	assert.Equal(t, models.JobStatusFailed, runs.updates[1].status)
	assert.NotEmpty(t, runs.updates[1].errMsg)
	require.Len(t, pub.results, 1)
	assert.Equal(t, "load", pub.results[0].Stage)
	assert.Empty(t, runs.saved)
}

func TestRunner_ProcessDropsCrowdedFrames(t *testing.T) {
	msg := newJob()
	msg.NClusters = 1
	objects := &fakeObjects{data: map[string][]byte{msg.InputKey: trackerArray(t)}}
	runs := &fakeRuns{}
	r := NewRunner(objects, runs, &fakePublisher{}, nil, config.ClusteringConfig{}, cluster.CacheOff)

	// frames 0..19 show two tracks, more than one cluster allows
	require.NoError(t, r.Process(context.Background(), msg))

	m, err := arrays.ReadMatrix(bytes.NewReader(objects.data[msg.OutputKey]))
	require.NoError(t, err)
	rows, _ := m.Dims()
	assert.Equal(t, 20, rows)
	require.Len(t, runs.saved, 1)
	assert.Equal(t, 1, runs.saved[0].TrackCount)
}

func TestRunner_ProcessReportsFailedStage(t *testing.T) {
	msg := newJob()
	objects := &fakeObjects{data: map[string][]byte{msg.InputKey: trackerArray(t)}}
	runs := &fakeRuns{}
	pub := &fakePublisher{}
	strict := false
	cfg := config.ClusteringConfig{MaxIterations: 1, AcceptNonConverged: &strict}
	r := NewRunner(objects, runs, pub, nil, cfg, cluster.CacheOff)

	require.NoError(t, r.Process(context.Background(), msg))

	require.Len(t, pub.results, 1)
	assert.Equal(t, models.JobStatusFailed, pub.results[0].Status)
	assert.Equal(t, cluster.StageKMeans, pub.results[0].Stage)
	assert.NotContains(t, objects.data, msg.OutputKey)
}

func TestRunner_ProcessStorageErrorIsRetried(t *testing.T) {
	msg := newJob()
	objects := &fakeObjects{getErr: errors.New("minio down")}
	runs := &fakeRuns{}
	r := NewRunner(objects, runs, &fakePublisher{}, nil, config.ClusteringConfig{}, cluster.CacheOff)

	err := r.Process(context.Background(), msg)

	assert.ErrorContains(t, err, "minio down")
	require.Len(t, runs.updates, 1)
	assert.Equal(t, models.JobStatusRunning, runs.updates[0].status)
}

func TestBuildRun_KeepsKEffectiveAndClusterCount(t *testing.T) {
	// three tracks clustered with k=3 but one cluster ended empty
	out := &cluster.Output{
		Descriptors: []cluster.Descriptor{
			{TrackID: 1, FirstFrame: 0, Length: 10, Vector: []float64{10, 0}},
			{TrackID: 2, FirstFrame: 10, Length: 10, Vector: []float64{10, 0}},
			{TrackID: 3, FirstFrame: 20, Length: 10, Vector: []float64{0, 10}},
		},
		Index:      cluster.NewTrackIndex([]int{1, 2, 3}),
		KRequested: 4,
		KEffective: 3,
		Result: &cluster.Result{
			Labels:    []int{0, 0, 1},
			Centroids: [][]float64{{1, 0}, {0, 1}},
			Sizes:     []int{2, 1},
			Status:    cluster.StatusNotConverged,
		},
	}

	run := BuildRun(uuid.New(), 0, out)

	assert.Equal(t, 4, run.KRequested)
	assert.Equal(t, 3, run.KEffective)
	assert.Equal(t, 2, run.Clusters)
	assert.Len(t, run.Centroids, 2)
	assert.Equal(t, "not_converged", run.Status)
}

func norm32(v []float32) float64 {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	return floats.Norm(f, 2)
}
