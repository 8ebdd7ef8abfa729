package services

import (
	"context"

	"github.com/tunekit/backend/internal/models"
)

// TrainingRecord is one formatted example fed to the trainer.
type TrainingRecord struct {
	Text string `json:"text"`
}

// StepEvent reports one optimizer step from a running training process.
type StepEvent struct {
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	MaxSteps     int     `json:"max_steps"`
	Loss         float64 `json:"loss"`
	LearningRate float64 `json:"learning_rate"`
}

// StepFunc receives step events as training progresses. Implementations
// must not block for long; the trainer calls it inline.
type StepFunc func(StepEvent)

// TrainRequest carries everything a trainer needs to run one job.
type TrainRequest struct {
	JobID     uint                  `json:"job_id"`
	BaseModel string                `json:"base_model"`
	Records   []TrainingRecord      `json:"records"`
	LoRA      models.LoRAConfig     `json:"lora_config"`
	Training  models.TrainingConfig `json:"training_config"`
	OutputDir string                `json:"output_dir"`
}

// Trainer runs one fine-tuning job to completion and returns the path of
// the produced artifact. It is synchronous; callers run it on a worker.
type Trainer interface {
	Run(ctx context.Context, req TrainRequest, onStep StepFunc) (string, error)
}
