package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/reid/internal/models"
	"github.com/your-org/reid/internal/storage"
	"github.com/your-org/reid/pkg/dto"
)

type RunHandler struct {
	db *storage.PostgresStore
}

func NewRunHandler(db *storage.PostgresStore) *RunHandler {
	return &RunHandler{db: db}
}

func (h *RunHandler) Get(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.RunResponse{
		ID:              run.ID,
		JobID:           run.JobID,
		KRequested:      run.KRequested,
		KEffective:      run.KEffective,
		Clusters:        run.Clusters,
		MaxCommonFrames: run.MaxCommonFrames,
		Status:          run.Status,
		Iterations:      run.Iterations,
		TrackCount:      run.TrackCount,
		ConstraintCount: run.ConstraintCount,
		RefFrame:        run.RefFrame,
		CreatedAt:       run.CreatedAt.Format(time.RFC3339),
	})
}

// Clusters lists the identities of a run with the tracks merged into each.
func (h *RunHandler) Clusters(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	centroids, err := h.db.ListCentroids(ctx, run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tracks, err := h.db.ListAssignments(ctx, run.ID, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"clusters": groupClusters(centroids, tracks), "total": len(centroids)})
}

// Tracks lists the tracks of a run, optionally filtered by ?cluster_id=.
func (h *RunHandler) Tracks(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}

	var clusterID *int
	if s := c.Query("cluster_id"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cluster_id"})
			return
		}
		clusterID = &n
	}

	tracks, err := h.db.ListAssignments(c.Request.Context(), run.ID, clusterID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.TrackResponse, 0, len(tracks))
	for _, t := range tracks {
		resp = append(resp, trackToResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tracks": resp, "total": len(resp)})
}

// Similar returns the tracks of the run closest in appearance to one track.
func (h *RunHandler) Similar(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}
	trackID, err := strconv.Atoi(c.Param("trackId"))
	if err != nil || trackID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid track id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	ctx := c.Request.Context()

	track, err := h.db.GetAssignment(ctx, runID, trackID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if track == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "track not found"})
		return
	}

	matches, err := h.db.NearestTracks(ctx, runID, track.Direction, trackID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.SimilarTrack, 0, len(matches))
	for _, m := range matches {
		resp = append(resp, dto.SimilarTrack{
			TrackResponse: dto.TrackResponse{
				TrackID:    m.TrackID,
				ClusterID:  m.ClusterID,
				FirstFrame: m.FirstFrame,
				Length:     m.Length,
			},
			Score: m.Score,
		})
	}
	c.JSON(http.StatusOK, gin.H{"track": trackToResponse(*track), "similar": resp})
}

func (h *RunHandler) loadRun(c *gin.Context) (*models.Run, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return nil, false
	}
	run, err := h.db.GetRun(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if run == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return nil, false
	}
	return run, true
}

func groupClusters(centroids []models.ClusterCentroid, tracks []models.TrackAssignment) []dto.ClusterResponse {
	resp := make([]dto.ClusterResponse, len(centroids))
	pos := make(map[int]int, len(centroids))
	for i, ce := range centroids {
		resp[i] = dto.ClusterResponse{ClusterID: ce.ClusterID, Size: ce.Size, TrackIDs: []int{}}
		pos[ce.ClusterID] = i
	}
	for _, t := range tracks {
		if i, ok := pos[t.ClusterID]; ok {
			resp[i].TrackIDs = append(resp[i].TrackIDs, t.TrackID)
		}
	}
	return resp
}

func trackToResponse(t models.TrackAssignment) dto.TrackResponse {
	return dto.TrackResponse{
		TrackID:    t.TrackID,
		ClusterID:  t.ClusterID,
		FirstFrame: t.FirstFrame,
		Length:     t.Length,
	}
}
