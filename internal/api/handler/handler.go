package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minhvt/portal-be/internal/content"
	"github.com/minhvt/portal-be/internal/pipeline"
	"github.com/minhvt/portal-be/internal/queue"
	"github.com/minhvt/portal-be/internal/queue/domain"
	"github.com/minhvt/portal-be/internal/settings"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Engine   *queue.Engine
	Settings *settings.Cache
	Articles *content.Store
}

// PipelineHandler serves the job-pipeline HTTP surface
type PipelineHandler struct {
	logger   *slog.Logger
	engine   *queue.Engine
	settings *settings.Cache
	articles *content.Store
}

// NewPipelineHandler creates a new PipelineHandler instance
func NewPipelineHandler(deps *Dependencies) *PipelineHandler {
	return &PipelineHandler{
		logger:   deps.Logger,
		engine:   deps.Engine,
		settings: deps.Settings,
		articles: deps.Articles,
	}
}

// renderError maps domain errors onto HTTP statuses. Everything unexpected
// is a 500 with the detail kept in the log, not the response.
func (h *PipelineHandler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pipeline.ErrUnknownKind),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, content.ErrArticleNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, domain.ErrUnauthorized):
		// No job-existence detail for a bad token.
		c.JSON(http.StatusForbidden, gin.H{"error": domain.ErrUnauthorized.Error()})

	case errors.Is(err, domain.ErrAlreadyClaimed),
		errors.Is(err, domain.ErrAlreadyPublished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrEmptyResult):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	default:
		h.logger.Error("Request failed",
			slog.String("path", c.Request.URL.Path),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
