package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minhvt/portal-be/internal/settings"
)

// GetSettings handles GET /api/v1/pipelines/:kind/settings
// Returns the effective settings, environment overrides included. Token
// values are masked; the UI only needs to know whether they are set.
func (h *PipelineHandler) GetSettings(c *gin.Context) {
	kind, err := h.engine.Kinds().Get(c.Param("kind"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	cfg, err := h.settings.Load(c.Request.Context(), kind.Name, kind.EnvPrefix)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"webhook_url":        cfg.WebhookURL,
		"webhook_token_set":  cfg.WebhookToken != "",
		"response_token_set": cfg.ResponseToken != "",
	})
}

// SaveSettings handles POST /api/v1/pipelines/:kind/settings
func (h *PipelineHandler) SaveSettings(c *gin.Context) {
	kind, err := h.engine.Kinds().Get(c.Param("kind"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	var patch settings.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if err := h.settings.Save(c.Request.Context(), kind.Name, patch); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}
