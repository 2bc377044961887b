package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minhvt/portal-be/internal/api/dto"
)

// CreateJob handles POST /api/v1/pipelines/:kind/jobs
// Records the job and, for push pipelines, dispatches it to the worker.
// A failed dispatch still returns the recorded job, as 202.
func (h *PipelineHandler) CreateJob(c *gin.Context) {
	kind := c.Param("kind")

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	job, result, err := h.engine.Create(c.Request.Context(), kind, string(req.Payload), req.Source)
	if err != nil {
		h.renderError(c, err)
		return
	}

	if !result.OK {
		c.JSON(http.StatusAccepted, dto.CreateJobResponse{Job: job, Dispatch: &result})
		return
	}
	c.JSON(http.StatusCreated, dto.CreateJobResponse{Job: job})
}

// ListJobs handles GET /api/v1/pipelines/:kind/jobs
func (h *PipelineHandler) ListJobs(c *gin.Context) {
	kind := c.Param("kind")

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	jobs, err := h.engine.List(c.Request.Context(), kind, req.Status, req.RelatedID, req.Limit, req.Offset)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: jobs})
}

// GetJob handles GET /api/v1/pipelines/:kind/jobs/:job_id
func (h *PipelineHandler) GetJob(c *gin.Context) {
	job, err := h.engine.Get(c.Request.Context(), c.Param("kind"), c.Param("job_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// DeleteJob handles DELETE /api/v1/pipelines/:kind/jobs/:job_id
func (h *PipelineHandler) DeleteJob(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("kind"), c.Param("job_id")); err != nil {
		h.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RestartJob handles POST /api/v1/pipelines/:kind/jobs/:job_id/restart
// Operator recovery for stuck or failed jobs.
func (h *PipelineHandler) RestartJob(c *gin.Context) {
	job, err := h.engine.Restart(c.Request.Context(), c.Param("kind"), c.Param("job_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// ClaimJob handles POST /api/v1/pipelines/:kind/jobs/:job_id/claim
// Polling workers lock a job here before processing it.
func (h *PipelineHandler) ClaimJob(c *gin.Context) {
	job, err := h.engine.Claim(c.Request.Context(), c.Param("kind"), c.Param("job_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

// Callback handles POST /api/v1/pipelines/:kind/callback
// The worker-facing inbound endpoint. Auth comes from the X-Response-Token
// header or the token query parameter.
func (h *PipelineHandler) Callback(c *gin.Context) {
	kind := c.Param("kind")

	var req dto.CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	token := c.GetHeader("X-Response-Token")
	if token == "" {
		token = c.Query("token")
	}

	job, err := h.engine.Callback(c.Request.Context(), kind, req.JobID, req.Status, req.Result, token)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job})
}

// PublishJob handles POST /api/v1/pipelines/:kind/jobs/:job_id/publish
func (h *PipelineHandler) PublishJob(c *gin.Context) {
	var req dto.PublishJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	article, err := h.engine.Publish(c.Request.Context(), c.Param("kind"), c.Param("job_id"), req.TopicID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"article": article})
}
