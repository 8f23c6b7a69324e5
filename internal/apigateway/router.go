package apigateway

import (
	"net/http"

	"asr-eval-driver/internal/auth"
	"asr-eval-driver/internal/configmanagement"
	"asr-eval-driver/internal/jobmanagement"
	"asr-eval-driver/internal/logx"
	"asr-eval-driver/internal/metrics"

	"github.com/gin-gonic/gin"
)

// RouterOptions carries the dependencies of the HTTP API.
type RouterOptions struct {
	Jobs    *jobmanagement.JobService
	Metrics *metrics.Recorder
	APIKey  string
	Version string
	// Exec supplies the decoder, scorer command and output directory of submitted jobs.
	Exec    configmanagement.ExecSettings
}

// requestLogger logs each request through the shared logger.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logx.Log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// SetupRouter builds the gin engine: public health and metrics endpoints,
// and the job API under /api behind the API key.
func SetupRouter(opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": opts.Version})
	})
	router.GET("/metrics", gin.WrapH(opts.Metrics.Handler()))

	api := router.Group("/api")
	api.Use(auth.APIKeyMiddleware(opts.APIKey))
	{
		jobRoutes := api.Group("/jobs")
		jobRoutes.POST("", jobmanagement.CreateJobHandler(opts.Jobs, opts.Exec))
		jobRoutes.GET("", jobmanagement.ListJobsHandler(opts.Jobs))
		jobRoutes.GET("/:id", jobmanagement.GetJobHandler(opts.Jobs))
		jobRoutes.GET("/:id/results", jobmanagement.GetJobResultsHandler(opts.Jobs))
		jobRoutes.GET("/:id/artifacts/*name", jobmanagement.GetArtifactHandler(opts.Jobs))
	}
	return router
}
