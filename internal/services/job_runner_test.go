package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/models"
	"github.com/tunekit/backend/internal/store"
)

// fakeTrainer simulates a training process without spawning anything.
type fakeTrainer struct {
	err      error
	onRun    func(req TrainRequest, onStep StepFunc)
	artifact string
}

func (f *fakeTrainer) Run(ctx context.Context, req TrainRequest, onStep StepFunc) (string, error) {
	if f.onRun != nil {
		f.onRun(req, onStep)
	}
	if f.err != nil {
		return "", f.err
	}
	if f.artifact != "" {
		return f.artifact, nil
	}
	return req.OutputDir + "/final_model", nil
}

func newTestRunner(t *testing.T, st *store.Store, trainer Trainer) *JobRunner {
	t.Helper()
	progress := NewProgressReporter(st)
	runner := NewJobRunner(st, trainer, progress, NewModelCache(&fakeRuntime{}), t.TempDir())
	t.Cleanup(func() {
		runner.Stop()
		progress.Close()
	})
	return runner
}

func waitForTerminal(t *testing.T, st *store.Store, jobID uint) *models.TrainingJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(jobID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state in time")
	return nil
}

func TestJobRunnerCompletesJob(t *testing.T) {
	st := newTestStore(t)
	dataset := createTestDataset(t, st, 10)

	recordsCh := make(chan int, 1)
	trainer := &fakeTrainer{
		onRun: func(req TrainRequest, onStep StepFunc) {
			recordsCh <- len(req.Records)
			for step := 1; step <= req.Training.NumEpochs*len(req.Records)/req.Training.BatchSize; step++ {
				onStep(StepEvent{Epoch: 1, Step: step, MaxSteps: 10, Loss: 2.0, LearningRate: 2e-4})
			}
		},
	}
	runner := newTestRunner(t, st, trainer)

	cfg := models.DefaultTrainingConfig()
	cfg.NumEpochs = 2
	cfg.BatchSize = 2
	job, err := runner.CreateJob(CreateJobRequest{
		Name:           "smalltalk",
		ModelName:      "rinna/japanese-gpt-neox-3.6b",
		DatasetID:      dataset.ID,
		TrainingConfig: &cfg,
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	final := waitForTerminal(t, st, job.ID)
	if final.Status != models.TrainingStatusCompleted {
		t.Fatalf("Expected completed, got %s (error: %v)", final.Status, final.ErrorMessage)
	}
	if final.ModelPath == nil || *final.ModelPath == "" {
		t.Error("Expected model_path to be set on completion")
	}
	if final.TotalSteps != 10 {
		t.Errorf("Expected total steps 10, got %d", final.TotalSteps)
	}
	if seen := <-recordsCh; seen != 10 {
		t.Errorf("Expected trainer to see 10 records, got %d", seen)
	}
}

func TestJobRunnerStepPlanUsesConfiguredBatchSize(t *testing.T) {
	st := newTestStore(t)
	dataset := createTestDataset(t, st, 8)

	reqCh := make(chan TrainRequest, 1)
	trainer := &fakeTrainer{
		onRun: func(req TrainRequest, onStep StepFunc) {
			reqCh <- req
		},
	}
	runner := newTestRunner(t, st, trainer)

	cfg := models.DefaultTrainingConfig()
	cfg.NumEpochs = 2
	cfg.BatchSize = 2
	job, err := runner.CreateJob(CreateJobRequest{
		Name:           "memory heavy",
		ModelName:      "gemma2:2b",
		DatasetID:      dataset.ID,
		TrainingConfig: &cfg,
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	final := waitForTerminal(t, st, job.ID)
	if final.Status != models.TrainingStatusCompleted {
		t.Fatalf("Expected completed, got %s (error: %v)", final.Status, final.ErrorMessage)
	}

	// The step plan keeps the configured batch size: 8 records / 2 * 2 epochs
	if final.TotalSteps != 8 {
		t.Errorf("Expected total steps 8, got %d", final.TotalSteps)
	}

	// The trainer itself runs memory sized
	req := <-reqCh
	if req.Training.BatchSize != 1 {
		t.Errorf("Expected trainer batch size 1, got %d", req.Training.BatchSize)
	}
	if req.Training.GradientAccumulationSteps != 8 {
		t.Errorf("Expected gradient accumulation 8, got %d", req.Training.GradientAccumulationSteps)
	}
}

func TestJobRunnerFailsJobOnTrainerError(t *testing.T) {
	st := newTestStore(t)
	dataset := createTestDataset(t, st, 4)
	trainer := &fakeTrainer{err: fmt.Errorf("CUDA out of memory")}
	runner := newTestRunner(t, st, trainer)

	job, err := runner.CreateJob(CreateJobRequest{
		Name:      "doomed",
		ModelName: "gemma2:2b",
		DatasetID: dataset.ID,
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	final := waitForTerminal(t, st, job.ID)
	if final.Status != models.TrainingStatusFailed {
		t.Fatalf("Expected failed, got %s", final.Status)
	}
	if final.ErrorMessage == nil || *final.ErrorMessage != "CUDA out of memory" {
		t.Errorf("Expected trainer error message, got %v", final.ErrorMessage)
	}
}

func TestJobRunnerFailsJobOnMissingDataset(t *testing.T) {
	st := newTestStore(t)
	dataset := createTestDataset(t, st, 4)
	trainer := &fakeTrainer{}
	runner := newTestRunner(t, st, trainer)

	job := createTestJob(t, st, dataset.ID, models.TrainingStatusPending)
	if err := st.DeleteDataset(dataset.ID); err != nil {
		t.Fatalf("DeleteDataset failed: %v", err)
	}

	if err := runner.Submit(job.ID); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	final := waitForTerminal(t, st, job.ID)
	if final.Status != models.TrainingStatusFailed {
		t.Fatalf("Expected failed, got %s", final.Status)
	}
}

func TestJobRunnerCreateJobRejectsMissingDataset(t *testing.T) {
	st := newTestStore(t)
	trainer := &fakeTrainer{}
	runner := newTestRunner(t, st, trainer)

	_, err := runner.CreateJob(CreateJobRequest{
		Name:      "no-dataset",
		ModelName: "gemma2:2b",
		DatasetID: 9999,
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestJobRunnerSubmitRejectsNonPending(t *testing.T) {
	st := newTestStore(t)
	dataset := createTestDataset(t, st, 4)
	trainer := &fakeTrainer{}
	runner := newTestRunner(t, st, trainer)

	for _, status := range []models.TrainingStatus{
		models.TrainingStatusRunning,
		models.TrainingStatusCompleted,
		models.TrainingStatusFailed,
		models.TrainingStatusCancelled,
	} {
		job := createTestJob(t, st, dataset.ID, status)
		if err := runner.Submit(job.ID); !errors.Is(err, apperrors.ErrInvalidTransition) {
			t.Errorf("%s: expected ErrInvalidTransition, got %v", status, err)
		}
	}
}

func TestJobRunnerCancelledDuringTraining(t *testing.T) {
	st := newTestStore(t)
	dataset := createTestDataset(t, st, 4)

	runnerCh := make(chan *JobRunner, 1)
	trainer := &fakeTrainer{
		onRun: func(req TrainRequest, onStep StepFunc) {
			r := <-runnerCh
			if err := r.Cancel(req.JobID); err != nil {
				t.Errorf("Cancel during training failed: %v", err)
			}
		},
	}
	runner := newTestRunner(t, st, trainer)
	runnerCh <- runner

	job, err := runner.CreateJob(CreateJobRequest{
		Name:      "cancelled-midway",
		ModelName: "gemma2:2b",
		DatasetID: dataset.ID,
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	final := waitForTerminal(t, st, job.ID)
	if final.Status != models.TrainingStatusCancelled {
		t.Fatalf("Expected cancelled, got %s", final.Status)
	}
	// The trainer finished successfully, but the result must be discarded
	time.Sleep(100 * time.Millisecond)
	again, _ := st.GetJob(job.ID)
	if again.Status != models.TrainingStatusCancelled {
		t.Errorf("Cancelled status was overwritten to %s", again.Status)
	}
	if again.ModelPath != nil {
		t.Errorf("Expected no model_path for cancelled job, got %v", *again.ModelPath)
	}
}

func TestJobRunnerDeleteRefusedWhileRunning(t *testing.T) {
	st := newTestStore(t)
	dataset := createTestDataset(t, st, 4)
	trainer := &fakeTrainer{}
	runner := newTestRunner(t, st, trainer)

	job := createTestJob(t, st, dataset.ID, models.TrainingStatusRunning)
	if err := runner.Delete(job.ID); !errors.Is(err, apperrors.ErrDeleteRefused) {
		t.Errorf("Expected ErrDeleteRefused, got %v", err)
	}

	// Still present
	if _, err := st.GetJob(job.ID); err != nil {
		t.Errorf("Job should still exist: %v", err)
	}
}

func TestJobRunnerDeleteCascades(t *testing.T) {
	st := newTestStore(t)
	dataset := createTestDataset(t, st, 4)
	trainer := &fakeTrainer{}
	runner := newTestRunner(t, st, trainer)

	job := createTestJob(t, st, dataset.ID, models.TrainingStatusRunning)

	metric := &models.TrainingMetric{JobID: job.ID, Step: 1, Epoch: 1, Loss: 2.0}
	if _, err := st.AppendMetric(metric, map[string]interface{}{"current_step": 1}); err != nil {
		t.Fatalf("AppendMetric failed: %v", err)
	}

	modelPath := "trained_models/job_x/final_model"
	if err := st.UpdateJob(job.ID, map[string]interface{}{
		"status":     models.TrainingStatusCompleted,
		"model_path": modelPath,
	}); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	session := &models.ChatSession{Name: "chat", JobID: &job.ID, ModelPath: &modelPath}
	if err := st.CreateSession(session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	msg := &models.ChatMessage{SessionID: session.ID, Role: models.ChatRoleUser, Content: "hello"}
	if err := st.CreateMessage(msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	if err := runner.Delete(job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := st.GetJob(job.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected job to be gone, got %v", err)
	}
	if _, err := st.GetSession(session.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected session to be gone, got %v", err)
	}
	metrics, err := st.ListMetrics(job.ID, 100)
	if err != nil {
		t.Fatalf("ListMetrics failed: %v", err)
	}
	if len(metrics) != 0 {
		t.Errorf("Expected no metrics after cascade, got %d", len(metrics))
	}
	messages, err := st.ListMessages(session.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("Expected no messages after cascade, got %d", len(messages))
	}
}

func TestJobRunnerDeleteInvalidatesCachedModel(t *testing.T) {
	st := newTestStore(t)
	dataset := createTestDataset(t, st, 4)
	rt := &fakeRuntime{}
	progress := NewProgressReporter(st)
	cache := NewModelCache(rt)
	runner := NewJobRunner(st, &fakeTrainer{}, progress, cache, t.TempDir())
	t.Cleanup(func() {
		runner.Stop()
		progress.Close()
	})

	job := createTestJob(t, st, dataset.ID, models.TrainingStatusCompleted)
	modelPath := "trained_models/job_y/final_model"
	if err := st.UpdateJob(job.ID, map[string]interface{}{"model_path": modelPath}); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	if _, err := cache.Get(context.Background(), modelPath); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loads := atomic.LoadInt64(&rt.modelLoads); loads != 1 {
		t.Fatalf("Expected 1 model load, got %d", loads)
	}

	if err := runner.Delete(job.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// The deleted job's handle must not be served from cache
	if _, err := cache.Get(context.Background(), modelPath); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loads := atomic.LoadInt64(&rt.modelLoads); loads != 2 {
		t.Errorf("Expected reload after delete, got %d loads", loads)
	}
}
