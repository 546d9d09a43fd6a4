package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/reid/internal/models"
	"github.com/your-org/reid/pkg/dto"
)

func serve(r *gin.Engine, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestReadyz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	r := gin.New()
	r.GET("/ready", NewSystemHandler(Dependency{"postgres", ok}, Dependency{"nats", ok}).Readyz)
	r.GET("/notready", NewSystemHandler(Dependency{"postgres", ok}, Dependency{"minio", down}).Readyz)

	w := serve(r, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(r, http.MethodGet, "/notready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "minio": "connection refused"}, body.Checks)
}

func TestInvalidIDsAreRejectedBeforeStorage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jobH := NewJobHandler(nil, nil, nil)
	runH := NewRunHandler(nil)

	r := gin.New()
	r.GET("/jobs", jobH.List)
	r.GET("/jobs/:id", jobH.Get)
	r.GET("/jobs/:id/output", jobH.Output)
	r.GET("/runs/:id", runH.Get)
	r.GET("/runs/:id/tracks/:trackId/similar", runH.Similar)

	for _, target := range []string{
		"/jobs?status=paused",
		"/jobs/not-a-uuid",
		"/jobs/not-a-uuid/output",
		"/runs/42",
		"/runs/6f1c1d8e-4b0a-4c55-9a3e-0c7b3a2f9d10/tracks/x/similar",
		"/runs/6f1c1d8e-4b0a-4c55-9a3e-0c7b3a2f9d10/tracks/-1/similar",
	} {
		w := serve(r, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
}

func TestCreateJobRequiresForm(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/jobs", NewJobHandler(nil, nil, nil).Create)

	w := serve(r, http.MethodPost, "/jobs")

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGroupClusters(t *testing.T) {
	centroids := []models.ClusterCentroid{{ClusterID: 0, Size: 2}, {ClusterID: 1, Size: 1}, {ClusterID: 2, Size: 0}}
	tracks := []models.TrackAssignment{
		{TrackID: 4, ClusterID: 0},
		{TrackID: 7, ClusterID: 1},
		{TrackID: 9, ClusterID: 0},
	}

	got := groupClusters(centroids, tracks)

	want := []dto.ClusterResponse{
		{ClusterID: 0, Size: 2, TrackIDs: []int{4, 9}},
		{ClusterID: 1, Size: 1, TrackIDs: []int{7}},
		{ClusterID: 2, Size: 0, TrackIDs: []int{}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("clusters mismatch (-want +got):\n%s", diff)
	}
}

func TestJobToResponse(t *testing.T) {
	job := &models.Job{Status: models.JobStatusQueued, NClusters: 3}
	assert.Empty(t, jobToResponse(job).OutputURL)

	job.Status = models.JobStatusSucceeded
	resp := jobToResponse(job)
	assert.Equal(t, "/v1/jobs/"+job.ID.String()+"/output", resp.OutputURL)
	assert.Equal(t, 3, resp.NClusters)
}
