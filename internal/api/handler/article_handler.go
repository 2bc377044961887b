package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetArticle handles GET /api/v1/articles/:article_id
// Read side of the publisher's output.
func (h *PipelineHandler) GetArticle(c *gin.Context) {
	article, err := h.articles.GetByID(c.Request.Context(), c.Param("article_id"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"article": article})
}

// ListTopicArticles handles GET /api/v1/topics/:topic_id/articles
func (h *PipelineHandler) ListTopicArticles(c *gin.Context) {
	topicID, err := strconv.ParseInt(c.Param("topic_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid topic id"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	articles, err := h.articles.ListByTopic(c.Request.Context(), topicID, limit)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles})
}
