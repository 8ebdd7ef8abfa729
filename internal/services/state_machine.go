package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/models"
	"github.com/tunekit/backend/internal/store"
)

// allowedTransitions encodes the job lifecycle. Terminal states have no
// outgoing edges, keeping finished jobs immutable.
var allowedTransitions = map[models.TrainingStatus][]models.TrainingStatus{
	models.TrainingStatusPending: {models.TrainingStatusRunning, models.TrainingStatusFailed, models.TrainingStatusCancelled},
	models.TrainingStatusRunning: {models.TrainingStatusCompleted, models.TrainingStatusFailed, models.TrainingStatusCancelled},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to models.TrainingStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateMachine applies job status transitions through guarded updates, so
// concurrent writers cannot move a job out of a terminal state.
type StateMachine struct {
	store *store.Store
}

func NewStateMachine(st *store.Store) *StateMachine {
	return &StateMachine{store: st}
}

// MarkRunning moves a pending job to running and stamps its start time.
func (sm *StateMachine) MarkRunning(jobID uint) error {
	now := time.Now()
	rows, err := sm.store.UpdateJobWhereStatus(jobID,
		[]models.TrainingStatus{models.TrainingStatusPending},
		map[string]interface{}{
			"status":     models.TrainingStatusRunning,
			"started_at": &now,
		})
	if err != nil {
		return fmt.Errorf("failed to mark job %d running: %w", jobID, err)
	}
	if rows == 0 {
		return sm.transitionError(jobID, models.TrainingStatusRunning)
	}
	return nil
}

// MarkCompleted finalizes a running job with its trained artifact path.
func (sm *StateMachine) MarkCompleted(jobID uint, modelPath string) error {
	if modelPath == "" {
		return fmt.Errorf("job %d: completion requires an artifact path: %w", jobID, apperrors.ErrValidation)
	}
	now := time.Now()
	rows, err := sm.store.UpdateJobWhereStatus(jobID,
		[]models.TrainingStatus{models.TrainingStatusRunning},
		map[string]interface{}{
			"status":        models.TrainingStatusCompleted,
			"completed_at":  &now,
			"progress":      100.0,
			"model_path":    modelPath,
			"error_message": nil,
		})
	if err != nil {
		return fmt.Errorf("failed to mark job %d completed: %w", jobID, err)
	}
	if rows == 0 {
		return sm.transitionError(jobID, models.TrainingStatusCompleted)
	}
	return nil
}

// MarkFailed finalizes a job with an error message. An empty message is
// replaced with a generic one so failed jobs always explain themselves.
func (sm *StateMachine) MarkFailed(jobID uint, message string) error {
	if message == "" {
		message = "training failed for an unknown reason"
	}
	now := time.Now()
	rows, err := sm.store.UpdateJobWhereStatus(jobID,
		[]models.TrainingStatus{models.TrainingStatusPending, models.TrainingStatusRunning},
		map[string]interface{}{
			"status":        models.TrainingStatusFailed,
			"completed_at":  &now,
			"error_message": message,
		})
	if err != nil {
		return fmt.Errorf("failed to mark job %d failed: %w", jobID, err)
	}
	if rows == 0 {
		return sm.transitionError(jobID, models.TrainingStatusFailed)
	}
	return nil
}

// Cancel marks a pending or running job as cancelled. Cancellation is
// advisory for running jobs: the in-flight computation is not interrupted,
// but its results are discarded because the terminal status wins any later
// completion attempt.
func (sm *StateMachine) Cancel(jobID uint) error {
	now := time.Now()
	rows, err := sm.store.UpdateJobWhereStatus(jobID,
		[]models.TrainingStatus{models.TrainingStatusPending, models.TrainingStatusRunning},
		map[string]interface{}{
			"status":       models.TrainingStatusCancelled,
			"completed_at": &now,
		})
	if err != nil {
		return fmt.Errorf("failed to cancel job %d: %w", jobID, err)
	}
	if rows == 0 {
		return sm.transitionError(jobID, models.TrainingStatusCancelled)
	}
	return nil
}

// transitionError distinguishes a missing job from an illegal transition.
func (sm *StateMachine) transitionError(jobID uint, to models.TrainingStatus) error {
	job, err := sm.store.GetJob(jobID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to load job %d: %w", jobID, err)
	}
	return fmt.Errorf("job %d is %s, cannot transition to %s: %w",
		jobID, job.Status, to, apperrors.ErrInvalidTransition)
}
