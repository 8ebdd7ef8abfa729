// Package store is the durable record store for jobs, metrics, datasets
// and chat data. All multi-row deletes run as single transactions with a
// fixed order so partial cascades cannot be observed.
package store

import (
	"errors"
	"fmt"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/models"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for callers that need raw queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// NewSession returns a store over a fresh GORM session. The progress
// reporter uses this so its writes never share statement state with
// request handling.
func (s *Store) NewSession() *Store {
	return &Store{db: s.db.Session(&gorm.Session{NewDB: true})}
}

// --- training jobs ---

func (s *Store) CreateJob(job *models.TrainingJob) error {
	if err := s.db.Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(id uint) (*models.TrainingJob, error) {
	var job models.TrainingJob
	if err := s.db.First(&job, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("training job %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &job, nil
}

func (s *Store) ListJobs() ([]models.TrainingJob, error) {
	var jobs []models.TrainingJob
	if err := s.db.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListCompletedJobs returns jobs that produced a usable artifact.
func (s *Store) ListCompletedJobs() ([]models.TrainingJob, error) {
	var jobs []models.TrainingJob
	err := s.db.
		Where("status = ?", models.TrainingStatusCompleted).
		Where("model_path IS NOT NULL").
		Order("completed_at DESC").
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpdateJob applies the given fields to one job row.
func (s *Store) UpdateJob(id uint, fields map[string]interface{}) error {
	if err := s.db.Model(&models.TrainingJob{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("failed to update job %d: %w", id, err)
	}
	return nil
}

// UpdateJobWhereStatus applies fields only if the job is currently in one
// of the expected statuses. Returns the number of rows changed, which lets
// the state machine detect a lost race without a second read.
func (s *Store) UpdateJobWhereStatus(id uint, expected []models.TrainingStatus, fields map[string]interface{}) (int64, error) {
	res := s.db.Model(&models.TrainingJob{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(fields)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update job %d: %w", id, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteJobCascade removes a job together with its metrics and any chat
// sessions and messages that reference it. Order: metrics, messages,
// sessions, job.
func (s *Store) DeleteJobCascade(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&models.TrainingMetric{}).Error; err != nil {
			return err
		}

		var sessionIDs []uint
		if err := tx.Model(&models.ChatSession{}).Where("job_id = ?", id).Pluck("id", &sessionIDs).Error; err != nil {
			return err
		}
		if len(sessionIDs) > 0 {
			if err := tx.Where("session_id IN ?", sessionIDs).Delete(&models.ChatMessage{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", sessionIDs).Delete(&models.ChatSession{}).Error; err != nil {
				return err
			}
		}

		return tx.Delete(&models.TrainingJob{}, id).Error
	})
}

// --- training metrics ---

// AppendMetric adds one metric row and applies the job progress fields in
// the same transaction, so readers never see a metric without its
// matching progress update. The job update is guarded on RUNNING status:
// progress fields are frozen once a job is terminal, so a late event is
// dropped whole, metric row included. Returns whether the write landed.
func (s *Store) AppendMetric(metric *models.TrainingMetric, jobFields map[string]interface{}) (bool, error) {
	applied := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.TrainingJob{}).
			Where("id = ? AND status = ?", metric.JobID, models.TrainingStatusRunning).
			Updates(jobFields)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return tx.Create(metric).Error
	})
	return applied, err
}

// ListMetrics returns up to limit metrics for a job, newest first.
func (s *Store) ListMetrics(jobID uint, limit int) ([]models.TrainingMetric, error) {
	var metrics []models.TrainingMetric
	q := s.db.Where("job_id = ?", jobID).Order("timestamp DESC, step DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&metrics).Error; err != nil {
		return nil, err
	}
	return metrics, nil
}

// --- datasets ---

func (s *Store) CreateDataset(ds *models.Dataset) error {
	if err := s.db.Create(ds).Error; err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

func (s *Store) GetDataset(id uint) (*models.Dataset, error) {
	var ds models.Dataset
	if err := s.db.First(&ds, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("dataset %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &ds, nil
}

func (s *Store) ListDatasets() ([]models.Dataset, error) {
	var datasets []models.Dataset
	if err := s.db.Order("created_at DESC").Find(&datasets).Error; err != nil {
		return nil, err
	}
	return datasets, nil
}

func (s *Store) DeleteDataset(id uint) error {
	res := s.db.Delete(&models.Dataset{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("dataset %d: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// --- chat sessions and messages ---

func (s *Store) CreateSession(session *models.ChatSession) error {
	if err := s.db.Create(session).Error; err != nil {
		return fmt.Errorf("failed to create chat session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id uint) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := s.db.First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("chat session %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &session, nil
}

func (s *Store) ListSessions() ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	if err := s.db.Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// DeleteSessionCascade removes a session and all its messages as one unit.
func (s *Store) DeleteSessionCascade(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var session models.ChatSession
		if err := tx.First(&session, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("chat session %d: %w", id, apperrors.ErrNotFound)
			}
			return err
		}
		if err := tx.Where("session_id = ?", id).Delete(&models.ChatMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.ChatSession{}, id).Error
	})
}

func (s *Store) CreateMessage(msg *models.ChatMessage) error {
	if err := s.db.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create chat message: %w", err)
	}
	return nil
}

// ListMessages returns every message of a session in timestamp order.
func (s *Store) ListMessages(sessionID uint) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := s.db.Where("session_id = ?", sessionID).
		Order("timestamp ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
