package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/reid/internal/models"
	"github.com/your-org/reid/pkg/dto"
)

func receive(t *testing.T, c *Client) (dto.WSEvent, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		var evt dto.WSEvent
		require.NoError(t, json.Unmarshal(data, &evt))
		return evt, true
	case <-time.After(200 * time.Millisecond):
		return dto.WSEvent{}, false
	}
}

func TestHub_FiltersByJob(t *testing.T) {
	h := NewHub()
	go h.Run()

	jobA, jobB := uuid.New(), uuid.New()
	all := &Client{send: make(chan []byte, 4)}
	onlyA := &Client{send: make(chan []byte, 4), jobID: jobA}
	h.register <- all
	h.register <- onlyA

	runID := uuid.New()
	h.BroadcastResult(models.JobResult{JobID: jobB, Status: models.JobStatusFailed, Stage: "kmeans", Error: "boom"})
	h.BroadcastResult(models.JobResult{JobID: jobA, Status: models.JobStatusSucceeded, RunID: &runID})

	evt, ok := receive(t, all)
	require.True(t, ok)
	assert.Equal(t, jobB, evt.JobID)
	assert.Equal(t, "kmeans", evt.Stage)

	evt, ok = receive(t, all)
	require.True(t, ok)
	assert.Equal(t, jobA, evt.JobID)

	evt, ok = receive(t, onlyA)
	require.True(t, ok)
	assert.Equal(t, jobA, evt.JobID)
	assert.Equal(t, "job_status", evt.Type)
	assert.Equal(t, "succeeded", evt.Status)
	require.NotNil(t, evt.RunID)
	assert.Equal(t, runID, *evt.RunID)

	_, ok = receive(t, onlyA)
	assert.False(t, ok)
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := NewHub()
	go h.Run()

	id := uuid.New()
	slow := &Client{send: make(chan []byte, 1)}
	watcher := &Client{send: make(chan []byte, 4), jobID: id}
	h.register <- slow
	h.register <- watcher

	h.BroadcastResult(models.JobResult{JobID: id, Status: models.JobStatusRunning})
	h.BroadcastResult(models.JobResult{JobID: id, Status: models.JobStatusSucceeded})

	// Once the watcher has both events the hub is done with slow: the first
	// event fits its buffer and the second closes the channel.
	for i := 0; i < 2; i++ {
		_, ok := receive(t, watcher)
		require.True(t, ok)
	}
	evt, ok := receive(t, slow)
	require.True(t, ok)
	assert.Equal(t, "running", evt.Status)

	select {
	case _, open := <-slow.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("slow client was not dropped")
	}
}
