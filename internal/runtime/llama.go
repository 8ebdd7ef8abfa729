//go:build llama

package runtime

import (
	"context"
	"fmt"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaRuntime serves GGUF artifacts in-process through llama.cpp bindings.
// Loaded models are kept per path; GGUF weights are immutable so there is
// no invalidation.
type llamaRuntime struct {
	mu     sync.Mutex
	models map[string]*llama.LLama
}

func NewAccelerated() AcceleratedRuntime {
	return &llamaRuntime{models: make(map[string]*llama.LLama)}
}

func (r *llamaRuntime) Available() bool { return true }

func (r *llamaRuntime) Generate(ctx context.Context, ggufPath, prompt string, opts GenerateOptions) (string, error) {
	model, err := r.open(ggufPath)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	maxTokens := opts.MaxNewTokens
	if maxTokens <= 0 {
		maxTokens = 30
	}
	text, err := model.Predict(prompt,
		llama.SetTokens(maxTokens),
		llama.SetTemperature(float32(opts.Temperature)),
		llama.SetTopP(float32(opts.TopP)),
		llama.SetPenalty(float32(opts.RepetitionPenalty)),
	)
	if err != nil {
		return "", fmt.Errorf("llama predict failed: %w", err)
	}
	return text, nil
}

func (r *llamaRuntime) open(ggufPath string) (*llama.LLama, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if model, ok := r.models[ggufPath]; ok {
		return model, nil
	}
	model, err := llama.New(ggufPath, llama.SetContext(512), llama.EnableF16Memory)
	if err != nil {
		return nil, fmt.Errorf("failed to open GGUF model %s: %w", ggufPath, err)
	}
	r.models[ggufPath] = model
	return model, nil
}
