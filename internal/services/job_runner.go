package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/logger"
	"github.com/tunekit/backend/internal/models"
	"github.com/tunekit/backend/internal/store"
)

const jobQueueSize = 100

// CreateJobRequest is the input for registering a new fine-tuning job.
type CreateJobRequest struct {
	Name           string                 `json:"name" binding:"required"`
	ModelName      string                 `json:"model_name" binding:"required"`
	DatasetID      uint                   `json:"dataset_id" binding:"required"`
	LoRAConfig     *models.LoRAConfig     `json:"lora_config"`
	TrainingConfig *models.TrainingConfig `json:"training_config"`
}

// JobProgress is the live progress view of one job.
type JobProgress struct {
	JobID        uint                    `json:"job_id"`
	Status       models.TrainingStatus   `json:"status"`
	Progress     float64                 `json:"progress"`
	CurrentEpoch int                     `json:"current_epoch"`
	TotalEpochs  int                     `json:"total_epochs"`
	CurrentStep  int                     `json:"current_step"`
	TotalSteps   int                     `json:"total_steps"`
	Loss         *float64                `json:"loss"`
	BestLoss     *float64                `json:"best_loss"`
	ErrorMessage *string                 `json:"error_message"`
	Metrics      []models.TrainingMetric `json:"metrics"`
}

// JobRunner owns the background training workers. Jobs are queued on a
// channel and picked up by a fixed pool, so at most workerCount trainings
// run at once and submission returns immediately.
type JobRunner struct {
	store    *store.Store
	sm       *StateMachine
	trainer  Trainer
	progress *ProgressReporter
	cache    *ModelCache

	outputRoot  string
	workerCount int

	jobQueue chan uint
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[uint]bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewJobRunner(st *store.Store, trainer Trainer, progress *ProgressReporter, cache *ModelCache, outputRoot string) *JobRunner {
	if outputRoot == "" {
		outputRoot = "trained_models"
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &JobRunner{
		store:       st,
		sm:          NewStateMachine(st),
		trainer:     trainer,
		progress:    progress,
		cache:       cache,
		outputRoot:  outputRoot,
		workerCount: 2,
		jobQueue:    make(chan uint, jobQueueSize),
		stopChan:    make(chan struct{}),
		active:      make(map[uint]bool),
		ctx:         ctx,
		cancel:      cancel,
	}
	r.startWorkers()
	return r
}

func (r *JobRunner) startWorkers() {
	for i := 0; i < r.workerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	logger.Info("Job runner workers started", map[string]interface{}{
		"worker_count": r.workerCount,
		"queue_size":   jobQueueSize,
	})
}

// Stop shuts the worker pool down and waits for in-flight jobs.
func (r *JobRunner) Stop() {
	close(r.stopChan)
	r.cancel()
	r.wg.Wait()
}

func (r *JobRunner) worker(id int) {
	defer r.wg.Done()
	for {
		select {
		case jobID := <-r.jobQueue:
			r.execute(jobID)
			r.mu.Lock()
			delete(r.active, jobID)
			r.mu.Unlock()
		case <-r.stopChan:
			logger.Info("Job runner worker stopping", map[string]interface{}{"worker_id": id})
			return
		}
	}
}

// CreateJob validates and persists a new job, then queues it for training.
func (r *JobRunner) CreateJob(req CreateJobRequest) (*models.TrainingJob, error) {
	dataset, err := r.store.GetDataset(req.DatasetID)
	if err != nil {
		return nil, err
	}
	if dataset.Size == 0 {
		return nil, fmt.Errorf("dataset %d is empty: %w", req.DatasetID, apperrors.ErrValidation)
	}

	loraCfg := models.DefaultLoRAConfig()
	if req.LoRAConfig != nil {
		loraCfg = *req.LoRAConfig
	}
	trainCfg := models.DefaultTrainingConfig()
	if req.TrainingConfig != nil {
		trainCfg = *req.TrainingConfig
	}
	if trainCfg.NumEpochs <= 0 || trainCfg.BatchSize <= 0 {
		return nil, fmt.Errorf("epochs and batch size must be positive: %w", apperrors.ErrValidation)
	}

	job := &models.TrainingJob{
		Name:           req.Name,
		ModelName:      req.ModelName,
		DatasetID:      req.DatasetID,
		Status:         models.TrainingStatusPending,
		LoRAConfig:     loraCfg,
		TrainingConfig: trainCfg,
		TotalEpochs:    trainCfg.NumEpochs,
	}
	if err := r.store.CreateJob(job); err != nil {
		return nil, err
	}

	if err := r.Submit(job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRunner) GetJob(jobID uint) (*models.TrainingJob, error) {
	return r.store.GetJob(jobID)
}

func (r *JobRunner) ListJobs() ([]models.TrainingJob, error) {
	return r.store.ListJobs()
}

// ListCompletedJobs returns jobs whose artifacts can back chat sessions.
func (r *JobRunner) ListCompletedJobs() ([]models.TrainingJob, error) {
	return r.store.ListCompletedJobs()
}

// Submit queues a pending job for execution. Jobs that are already queued,
// running or finished are rejected, so resubmission cannot double-train.
func (r *JobRunner) Submit(jobID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[jobID] {
		return fmt.Errorf("job %d is already queued: %w", jobID, apperrors.ErrInvalidTransition)
	}
	job, err := r.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Status != models.TrainingStatusPending {
		return fmt.Errorf("job %d is %s, only pending jobs can be queued: %w",
			jobID, job.Status, apperrors.ErrInvalidTransition)
	}

	select {
	case r.jobQueue <- jobID:
		r.active[jobID] = true
		logger.WithJob(jobID).Info("Job queued for training")
		return nil
	default:
		return fmt.Errorf("job queue is full, try again later")
	}
}

// Cancel marks a job cancelled. Running jobs keep computing until their
// next terminal transition fails, at which point results are discarded.
func (r *JobRunner) Cancel(jobID uint) error {
	return r.sm.Cancel(jobID)
}

// Delete removes a job and everything derived from it: metrics, chat
// sessions bound to the job and their messages. Running jobs are refused.
func (r *JobRunner) Delete(jobID uint) error {
	job, err := r.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Status == models.TrainingStatusRunning {
		return fmt.Errorf("job %d is running, cancel it first: %w", jobID, apperrors.ErrDeleteRefused)
	}
	if err := r.store.DeleteJobCascade(jobID); err != nil {
		return err
	}
	if r.cache != nil && job.ModelPath != nil {
		r.cache.Invalidate(*job.ModelPath)
	}
	return nil
}

// Progress returns the current job state plus its recent metrics.
func (r *JobRunner) Progress(jobID uint) (*JobProgress, error) {
	job, err := r.store.GetJob(jobID)
	if err != nil {
		return nil, err
	}
	metrics, err := r.store.ListMetrics(jobID, 100)
	if err != nil {
		return nil, err
	}
	return &JobProgress{
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		CurrentEpoch: job.CurrentEpoch,
		TotalEpochs:  job.TotalEpochs,
		CurrentStep:  job.CurrentStep,
		TotalSteps:   job.TotalSteps,
		Loss:         job.Loss,
		BestLoss:     job.BestLoss,
		ErrorMessage: job.ErrorMessage,
		Metrics:      metrics,
	}, nil
}

// execute runs one job end to end. Every failure path lands the job in a
// terminal state; a panic in the trainer is converted to a failed status.
func (r *JobRunner) execute(jobID uint) {
	log := logger.WithJob(jobID)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error(fmt.Sprintf("training panicked: %v", rec))
			r.failJob(jobID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	job, err := r.store.GetJob(jobID)
	if err != nil {
		log.Error("failed to load queued job: " + err.Error())
		return
	}
	if job.Status.IsTerminal() {
		log.Info("job finished before execution, skipping")
		return
	}

	dataset, err := r.store.GetDataset(job.DatasetID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			r.failJob(jobID, fmt.Sprintf("dataset %d not found", job.DatasetID))
			return
		}
		r.failJob(jobID, "failed to load dataset: "+err.Error())
		return
	}

	if err := r.sm.MarkRunning(jobID); err != nil {
		// Cancelled between queueing and pickup.
		log.Info("skipping job: " + err.Error())
		return
	}

	baseModel := ResolveBaseModel(job.ModelName)
	trainCfg := ApplyMemorySizing(baseModel, job.TrainingConfig)
	records := FormatTrainingRecords(dataset.Data)
	// The step plan follows the configured batch size; memory sizing only
	// shrinks what the trainer runs with.
	totalSteps := TotalSteps(len(records), job.TrainingConfig)
	outputDir := filepath.Join(r.outputRoot, fmt.Sprintf("job_%d", jobID))

	if err := r.store.UpdateJob(jobID, map[string]interface{}{
		"total_steps": totalSteps,
		"output_dir":  outputDir,
	}); err != nil {
		log.Warn("failed to record training plan: " + err.Error())
	}

	log.WithField("base_model", baseModel).
		WithField("records", len(records)).
		WithField("total_steps", totalSteps).
		Info("Starting training")

	artifactPath, err := r.trainer.Run(r.ctx, TrainRequest{
		JobID:     jobID,
		BaseModel: baseModel,
		Records:   records,
		LoRA:      job.LoRAConfig,
		Training:  trainCfg,
		OutputDir: outputDir,
	}, func(ev StepEvent) {
		r.progress.Report(jobID, job.TotalEpochs, ev)
	})

	if err != nil {
		log.Error("training failed: " + err.Error())
		r.failJob(jobID, err.Error())
		return
	}

	if err := r.sm.MarkCompleted(jobID, artifactPath); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			log.Info("job was cancelled during training, discarding result")
			r.cleanupArtifact(outputDir)
			return
		}
		log.Error("failed to mark job completed: " + err.Error())
		return
	}
	log.WithField("model_path", artifactPath).Info("Training completed")
}

func (r *JobRunner) failJob(jobID uint, message string) {
	if err := r.sm.MarkFailed(jobID, message); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			logger.WithJob(jobID).Info("job already terminal, keeping existing status")
			return
		}
		logger.WithJob(jobID).Error("failed to mark job failed: " + err.Error())
	}
}

func (r *JobRunner) cleanupArtifact(outputDir string) {
	if outputDir == "" {
		return
	}
	if err := os.RemoveAll(outputDir); err != nil {
		logger.Warn("failed to remove discarded artifact", map[string]interface{}{
			"output_dir": outputDir,
			"error":      err.Error(),
		})
	}
}
