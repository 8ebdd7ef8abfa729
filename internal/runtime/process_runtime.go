package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ProcessRuntime runs model operations in an external Python worker, one
// invocation per call. The worker owns device and precision selection; the
// Go side only passes paths, prompts and bounds.
type ProcessRuntime struct {
	pythonBin  string
	scriptPath string
}

type processTokenizer struct {
	modelDir string
}

type processModel struct {
	modelDir string
	adapter  bool
}

func NewProcessRuntime() *ProcessRuntime {
	python := os.Getenv("RUNTIME_PYTHON")
	if python == "" {
		python = "python3"
	}
	script := os.Getenv("RUNTIME_SCRIPT")
	if script == "" {
		script = "scripts/run_model.py"
	}
	return &ProcessRuntime{pythonBin: python, scriptPath: script}
}

func (p *ProcessRuntime) LoadTokenizer(ctx context.Context, modelDir string) (TokenizerHandle, error) {
	if err := p.check(ctx, modelDir, "tokenizer", false); err != nil {
		return nil, fmt.Errorf("failed to load tokenizer from %s: %w", modelDir, err)
	}
	return &processTokenizer{modelDir: modelDir}, nil
}

func (p *ProcessRuntime) LoadModel(ctx context.Context, modelDir string, adapter bool) (ModelHandle, error) {
	if err := p.check(ctx, modelDir, "model", adapter); err != nil {
		return nil, fmt.Errorf("failed to load model from %s (adapter=%v): %w", modelDir, adapter, err)
	}
	return &processModel{modelDir: modelDir, adapter: adapter}, nil
}

// check asks the worker to load one component and release it, verifying
// that later generate calls will succeed.
func (p *ProcessRuntime) check(ctx context.Context, modelDir, component string, adapter bool) error {
	args := []string{p.scriptPath, "check", "--model-dir", modelDir, "--component", component}
	if adapter {
		args = append(args, "--adapter")
	}
	cmd := exec.CommandContext(ctx, p.pythonBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %s", err, msg)
		}
		return err
	}
	return nil
}

func (p *ProcessRuntime) Generate(ctx context.Context, model ModelHandle, tokenizer TokenizerHandle, prompt string, opts GenerateOptions) (string, error) {
	m, ok := model.(*processModel)
	if !ok {
		return "", fmt.Errorf("model handle was not produced by this runtime")
	}

	optsJSON, err := json.Marshal(map[string]interface{}{
		"temperature":        opts.Temperature,
		"top_p":              opts.TopP,
		"repetition_penalty": opts.RepetitionPenalty,
		"max_new_tokens":     opts.MaxNewTokens,
	})
	if err != nil {
		return "", err
	}

	args := []string{p.scriptPath, "generate", "--model-dir", m.modelDir, "--options", string(optsJSON)}
	if m.adapter {
		args = append(args, "--adapter")
	}
	cmd := exec.CommandContext(ctx, p.pythonBin, args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("generation worker failed: %s", msg)
		}
		return "", fmt.Errorf("generation worker failed: %w", err)
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return "", fmt.Errorf("failed to decode worker response: %w", err)
	}
	return result.Response, nil
}
