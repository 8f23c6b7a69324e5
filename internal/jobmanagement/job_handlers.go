package jobmanagement

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"asr-eval-driver/internal/configmanagement"
	"asr-eval-driver/internal/objectstore"

	"github.com/gin-gonic/gin"
)

// CreateJobRequest is the payload of POST /api/jobs.
type CreateJobRequest struct {
	Name   string          `json:"name"`
	Config json.RawMessage `json:"config" binding:"required"`
}

// CreateJobHandler validates the run config and queues the job. The decoder,
// scorer command and output directory always come from exec; a request that
// sets any of them is rejected.
func CreateJobHandler(svc *JobService, exec configmanagement.ExecSettings) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request payload: " + err.Error()})
			return
		}
		cfg, err := configmanagement.ParseJSON(req.Config)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := cfg.ApplyExecSettings(exec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := cfg.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run config: " + err.Error()})
			return
		}
		job, err := svc.Submit(c.Request.Context(), req.Name, cfg)
		if err != nil {
			if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrServiceStopped) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job: " + err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, job)
	}
}

// GetJobHandler returns a single job with its results so far.
func GetJobHandler(svc *JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// ListJobsHandler lists jobs newest first, optionally filtered by ?status=.
func ListJobsHandler(svc *JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := svc.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list jobs: " + err.Error()})
			return
		}
		if status := c.Query("status"); status != "" {
			filtered := jobs[:0]
			for _, j := range jobs {
				if string(j.Status) == status {
					filtered = append(filtered, j)
				}
			}
			jobs = filtered
		}
		c.JSON(http.StatusOK, jobs)
	}
}

// GetJobResultsHandler returns only the per-variant results of a job.
func GetJobResultsHandler(svc *JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job.Results)
	}
}

// GetArtifactHandler serves one artifact of a job: results.json or
// <variant>/{text,wer,decode.log}.
func GetArtifactHandler(svc *JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, err := svc.Artifact(c.Request.Context(), c.Param("id"), strings.TrimPrefix(c.Param("name"), "/"))
		switch {
		case err == nil:
			c.Data(http.StatusOK, objectstore.ContentType(c.Param("name")), data)
		case errors.Is(err, ErrInvalidArtifact):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrJobNotFound), errors.Is(err, ErrArtifactNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read artifact: " + err.Error()})
		}
	}
}
