package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/tunekit/backend/internal/logger"
)

// trainerEvent is one JSON line emitted by the training worker on stdout.
type trainerEvent struct {
	Event        string  `json:"event"`
	Epoch        int     `json:"epoch"`
	Step         int     `json:"step"`
	MaxSteps     int     `json:"max_steps"`
	Loss         float64 `json:"loss"`
	LearningRate float64 `json:"learning_rate"`
	ArtifactPath string  `json:"artifact_path"`
	Message      string  `json:"message"`
}

// ProcessTrainer runs fine-tuning in an external worker process. The worker
// reads a request file, streams JSON step events on stdout and writes the
// adapter artifact under the request's output directory.
type ProcessTrainer struct {
	pythonBin  string
	scriptPath string
}

func NewProcessTrainer() *ProcessTrainer {
	python := os.Getenv("TRAINER_PYTHON")
	if python == "" {
		python = "python3"
	}
	script := os.Getenv("TRAINER_SCRIPT")
	if script == "" {
		script = "scripts/train_lora.py"
	}
	return &ProcessTrainer{pythonBin: python, scriptPath: script}
}

func (t *ProcessTrainer) Run(ctx context.Context, req TrainRequest, onStep StepFunc) (string, error) {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	requestPath := filepath.Join(req.OutputDir, "train_request.json")
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal train request: %w", err)
	}
	if err := os.WriteFile(requestPath, payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write train request: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.pythonBin, t.scriptPath, "--request", requestPath)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to open trainer stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start trainer process: %w", err)
	}

	var artifactPath string
	var workerErr string

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var ev trainerEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			logger.WithJob(req.JobID).Debug(fmt.Sprintf("ignoring trainer output: %s", string(line)))
			continue
		}
		switch ev.Event {
		case "step":
			if onStep != nil {
				onStep(StepEvent{
					Epoch:        ev.Epoch,
					Step:         ev.Step,
					MaxSteps:     ev.MaxSteps,
					Loss:         ev.Loss,
					LearningRate: ev.LearningRate,
				})
			}
		case "done":
			artifactPath = ev.ArtifactPath
		case "error":
			workerErr = ev.Message
		}
	}

	waitErr := cmd.Wait()
	if scanErr := scanner.Err(); scanErr != nil {
		return "", fmt.Errorf("failed to read trainer output: %w", scanErr)
	}
	if waitErr != nil {
		if workerErr != "" {
			return "", fmt.Errorf("trainer process failed: %s", workerErr)
		}
		return "", fmt.Errorf("trainer process failed: %w", waitErr)
	}
	if workerErr != "" {
		return "", fmt.Errorf("trainer reported error: %s", workerErr)
	}
	if artifactPath == "" {
		return "", fmt.Errorf("trainer exited without producing an artifact")
	}
	return artifactPath, nil
}
