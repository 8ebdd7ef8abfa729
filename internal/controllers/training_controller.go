package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tunekit/backend/internal/services"
)

type TrainingController struct {
	runner *services.JobRunner
}

func NewTrainingController(runner *services.JobRunner) *TrainingController {
	return &TrainingController{runner: runner}
}

// CreateJob registers a fine-tuning job and queues it for training.
func (tc *TrainingController) CreateJob(c *gin.Context) {
	var req services.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := tc.runner.CreateJob(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (tc *TrainingController) ListJobs(c *gin.Context) {
	jobs, err := tc.runner.ListJobs()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (tc *TrainingController) GetJob(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	job, err := tc.runner.GetJob(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetProgress returns the live job state plus its recent metrics.
func (tc *TrainingController) GetProgress(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	progress, err := tc.runner.Progress(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (tc *TrainingController) CancelJob(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := tc.runner.Cancel(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job cancelled"})
}

func (tc *TrainingController) DeleteJob(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := tc.runner.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job deleted"})
}
