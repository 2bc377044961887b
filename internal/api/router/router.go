package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/minhvt/portal-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "portal-service",
		})
	})

	h := handler.NewPipelineHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		pipelines := v1.Group("/pipelines/:kind")
		{
			jobs := pipelines.Group("/jobs")
			{
				// POST /api/v1/pipelines/:kind/jobs - Create and dispatch a job
				jobs.POST("", h.CreateJob)

				// GET /api/v1/pipelines/:kind/jobs - List jobs with filtering
				jobs.GET("", h.ListJobs)

				// GET /api/v1/pipelines/:kind/jobs/:job_id - Get job details
				jobs.GET("/:job_id", h.GetJob)

				// DELETE /api/v1/pipelines/:kind/jobs/:job_id - Delete a job
				jobs.DELETE("/:job_id", h.DeleteJob)

				// POST /api/v1/pipelines/:kind/jobs/:job_id/restart - Recover a stuck job
				jobs.POST("/:job_id/restart", h.RestartJob)

				// POST /api/v1/pipelines/:kind/jobs/:job_id/claim - Lock a job for a polling worker
				jobs.POST("/:job_id/claim", h.ClaimJob)

				// POST /api/v1/pipelines/:kind/jobs/:job_id/publish - Promote result into an article
				jobs.POST("/:job_id/publish", h.PublishJob)
			}

			// POST /api/v1/pipelines/:kind/callback - Worker-facing result callback
			pipelines.POST("/callback", h.Callback)

			// GET|POST /api/v1/pipelines/:kind/settings - Integration settings
			pipelines.GET("/settings", h.GetSettings)
			pipelines.POST("/settings", h.SaveSettings)
		}

		// GET /api/v1/articles/:article_id - Published article lookup
		v1.GET("/articles/:article_id", h.GetArticle)

		// GET /api/v1/topics/:topic_id/articles - Articles under a topic
		v1.GET("/topics/:topic_id/articles", h.ListTopicArticles)
	}

	return r
}
