package models

import "time"

// TrainingMetric is one step-level measurement emitted during training.
// Rows are append-only and removed only when their job is deleted.
type TrainingMetric struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	JobID        uint      `json:"jobId" gorm:"not null;index"`
	Step         int       `json:"step" gorm:"not null"`
	Epoch        int       `json:"epoch" gorm:"not null"`
	Loss         float64   `json:"loss" gorm:"not null"`
	LearningRate float64   `json:"learningRate" gorm:"not null"`
	Timestamp    time.Time `json:"timestamp" gorm:"autoCreateTime"`
}

func (TrainingMetric) TableName() string {
	return "training_metrics"
}
