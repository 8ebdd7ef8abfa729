package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type TrainingStatus string

const (
	TrainingStatusPending   TrainingStatus = "pending"
	TrainingStatusRunning   TrainingStatus = "running"
	TrainingStatusCompleted TrainingStatus = "completed"
	TrainingStatusFailed    TrainingStatus = "failed"
	TrainingStatusCancelled TrainingStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s TrainingStatus) IsTerminal() bool {
	return s == TrainingStatusCompleted || s == TrainingStatusFailed || s == TrainingStatusCancelled
}

// LoRAConfig holds the parameter-efficient adaptation settings for a job.
type LoRAConfig struct {
	R             int      `json:"r"`
	Alpha         int      `json:"alpha"`
	Dropout       float64  `json:"dropout"`
	TargetModules []string `json:"target_modules"`
}

func (c LoRAConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *LoRAConfig) Scan(value interface{}) error {
	return scanJSON(value, c)
}

// TrainingConfig holds the optimizer and schedule settings for a job.
type TrainingConfig struct {
	LearningRate              float64 `json:"learning_rate"`
	NumEpochs                 int     `json:"num_epochs"`
	BatchSize                 int     `json:"batch_size"`
	MaxLength                 int     `json:"max_length"`
	GradientAccumulationSteps int     `json:"gradient_accumulation_steps"`
	WarmupRatio               float64 `json:"warmup_ratio"`
	WeightDecay               float64 `json:"weight_decay"`
	LoggingSteps              int     `json:"logging_steps"`
	SaveSteps                 int     `json:"save_steps"`
}

func (c TrainingConfig) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *TrainingConfig) Scan(value interface{}) error {
	return scanJSON(value, c)
}

func scanJSON(value interface{}, dst interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported type for JSON column: %T", value)
	}
}

// DefaultLoRAConfig returns the adaptation defaults applied at job submission.
func DefaultLoRAConfig() LoRAConfig {
	return LoRAConfig{
		R:             8,
		Alpha:         16,
		Dropout:       0.1,
		TargetModules: []string{"q_proj", "v_proj"},
	}
}

// DefaultTrainingConfig returns the schedule defaults applied at job submission.
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		LearningRate:              2e-4,
		NumEpochs:                 3,
		BatchSize:                 4,
		MaxLength:                 512,
		GradientAccumulationSteps: 1,
		WarmupRatio:               0.1,
		WeightDecay:               0.01,
		LoggingSteps:              10,
		SaveSteps:                 500,
	}
}

type TrainingJob struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"not null;index"`
	ModelName string         `json:"modelName" gorm:"not null"`
	DatasetID uint           `json:"datasetId" gorm:"not null;index"`
	Status    TrainingStatus `json:"status" gorm:"not null;default:'pending'"`

	LoRAConfig     LoRAConfig     `json:"loraConfig" gorm:"type:jsonb"`
	TrainingConfig TrainingConfig `json:"trainingConfig" gorm:"type:jsonb"`

	Progress     float64 `json:"progress" gorm:"default:0"`
	CurrentEpoch int     `json:"currentEpoch" gorm:"default:0"`
	TotalEpochs  int     `json:"totalEpochs" gorm:"not null"`
	CurrentStep  int     `json:"currentStep" gorm:"default:0"`
	TotalSteps   int     `json:"totalSteps" gorm:"default:0"`

	Loss     *float64 `json:"loss"`
	BestLoss *float64 `json:"bestLoss"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`

	ErrorMessage *string `json:"errorMessage"`

	OutputDir *string `json:"outputDir" gorm:"size:500"`
	ModelPath *string `json:"modelPath" gorm:"size:500"`
}

func (TrainingJob) TableName() string {
	return "training_jobs"
}
