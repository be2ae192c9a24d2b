// internal/handlers/job/job_handler.go
package job

import (
	"io"
	"net/http"
	"strconv"

	"audiotricks-service/internal/domain/job"
	"audiotricks-service/internal/middleware"
	"audiotricks-service/internal/pkg/response"
	jobUsecase "audiotricks-service/internal/service/job"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type JobHandler struct {
	service *jobUsecase.JobService
	logger  *zap.Logger
}

func NewJobHandler(service *jobUsecase.JobService, logger *zap.Logger) *JobHandler {
	return &JobHandler{service: service, logger: logger}
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid job id", err)
		return 0, false
	}
	return id, true
}

func (h *JobHandler) CreateJob(c *gin.Context) {
	var req job.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	j, err := h.service.CreateJob(c.Request.Context(), middleware.MustGetUserID(c), &req)
	if err != nil {
		response.FromError(c, "failed to create job", err)
		return
	}
	response.Success(c, http.StatusCreated, "job queued", j)
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var filters job.ListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.ValidationError(c, err)
		return
	}

	list, err := h.service.ListJobs(c.Request.Context(), middleware.MustGetUserID(c), &filters)
	if err != nil {
		response.FromError(c, "failed to list jobs", err)
		return
	}
	response.Success(c, http.StatusOK, "jobs retrieved", list)
}

func (h *JobHandler) GetJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	j, err := h.service.GetJob(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to get job", err)
		return
	}
	response.Success(c, http.StatusOK, "job retrieved", j)
}

func (h *JobHandler) CancelJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	j, err := h.service.CancelJob(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to cancel job", err)
		return
	}
	response.Success(c, http.StatusOK, "job cancelled", j)
}

func (h *JobHandler) RetryJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	j, err := h.service.RetryJob(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to retry job", err)
		return
	}
	response.Success(c, http.StatusOK, "job requeued", j)
}

func (h *JobHandler) DeleteJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteJob(c.Request.Context(), middleware.MustGetUserID(c), id); err != nil {
		response.FromError(c, "failed to delete job", err)
		return
	}
	response.Success(c, http.StatusOK, "job deleted", nil)
}

// Speech streams the synthesized summary as audio/mpeg.
func (h *JobHandler) Speech(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	audio, err := h.service.Speech(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to synthesize speech", err)
		return
	}
	defer audio.Close()

	c.Header("Content-Type", "audio/mpeg")
	c.Header("Cache-Control", "no-store")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, audio); err != nil {
		h.logger.Warn("speech stream interrupted", zap.Int64("job_id", id), zap.Error(err))
	}
}
