package handlers

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/reid/internal/arrays"
	"github.com/your-org/reid/internal/models"
	"github.com/your-org/reid/internal/queue"
	"github.com/your-org/reid/internal/storage"
	"github.com/your-org/reid/pkg/dto"
)

// maxUploadSize bounds a submitted tracker output array.
const maxUploadSize = 512 << 20

type JobHandler struct {
	db       *storage.PostgresStore
	minio    *storage.MinIOStore
	producer *queue.Producer
}

func NewJobHandler(db *storage.PostgresStore, minio *storage.MinIOStore, producer *queue.Producer) *JobHandler {
	return &JobHandler{db: db, minio: minio, producer: producer}
}

// Create accepts a multipart .npy upload and queues a clustering job.
func (h *JobHandler) Create(c *gin.Context) {
	var form dto.CreateJobForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if fh.Size > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Reject malformed arrays before anything is queued.
	if _, err := arrays.DecodeDetections(bytes.NewReader(data)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	job := &models.Job{ID: uuid.New(), NClusters: form.NClusters, MaxCommonFrames: form.MaxCommonFrames}
	job.InputKey = storage.JobInputKey(job.ID)
	job.OutputKey = storage.JobOutputKey(job.ID)

	if err := h.minio.PutObject(ctx, job.InputKey, data, storage.NPYContentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.db.CreateJob(ctx, job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	err = h.producer.PublishJob(ctx, models.JobMessage{
		JobID:           job.ID,
		InputKey:        job.InputKey,
		OutputKey:       job.OutputKey,
		NClusters:       job.NClusters,
		MaxCommonFrames: job.MaxCommonFrames,
		SubmittedAt:     time.Now(),
	})
	if err != nil {
		_ = h.db.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, err.Error(), nil)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, jobToResponse(job))
}

func (h *JobHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.db.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) List(c *gin.Context) {
	status := models.JobStatus(c.Query("status"))
	switch status {
	case "", models.JobStatusQueued, models.JobStatusRunning, models.JobStatusSucceeded, models.JobStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	jobs, err := h.db.ListJobs(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.JobResponse, 0, len(jobs))
	for i := range jobs {
		resp = append(resp, jobToResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, dto.JobListResponse{Jobs: resp, Total: len(resp)})
}

// Output streams the clustered rows of a finished job as .npy.
func (h *JobHandler) Output(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.db.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if job.Status != models.JobStatusSucceeded {
		c.JSON(http.StatusConflict, gin.H{"error": "job has no output", "status": job.Status})
		return
	}

	rc, size, err := h.minio.OpenObject(c.Request.Context(), job.OutputKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, size, storage.NPYContentType, rc, map[string]string{
		"Content-Disposition": `attachment; filename="` + id.String() + `.npy"`,
	})
}

func jobToResponse(j *models.Job) dto.JobResponse {
	r := dto.JobResponse{
		ID:              j.ID,
		Status:          string(j.Status),
		NClusters:       j.NClusters,
		MaxCommonFrames: j.MaxCommonFrames,
		Error:           j.ErrorMessage,
		RunID:           j.RunID,
		CreatedAt:       j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Status == models.JobStatusSucceeded {
		r.OutputURL = "/v1/jobs/" + j.ID.String() + "/output"
	}
	return r
}
