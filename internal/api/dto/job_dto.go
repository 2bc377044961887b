package dto

import (
	"encoding/json"

	"github.com/minhvt/portal-be/internal/dispatch"
	"github.com/minhvt/portal-be/internal/queue/domain"
)

type CreateJobRequest struct {
	Payload json.RawMessage `json:"payload" binding:"required"`
	Source  string          `json:"source"`
}

type CreateJobResponse struct {
	Job      *domain.Job      `json:"job"`
	Dispatch *dispatch.Result `json:"dispatch,omitempty"`
}

type ListJobsRequest struct {
	Status    string `form:"status"`
	RelatedID string `form:"related_id"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

type ListJobsResponse struct {
	Jobs []domain.Job `json:"jobs"`
}

type CallbackRequest struct {
	JobID  string `json:"job_id" binding:"required"`
	Status string `json:"status"`
	Result string `json:"result"`
}

type PublishJobRequest struct {
	TopicID int64 `json:"topic_id" binding:"required"`
}
