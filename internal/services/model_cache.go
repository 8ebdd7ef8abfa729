package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/logger"
	"github.com/tunekit/backend/internal/runtime"
)

// LoadedModel pairs a model with its tokenizer, ready for generation.
type LoadedModel struct {
	ModelDir  string
	Model     runtime.ModelHandle
	Tokenizer runtime.TokenizerHandle
}

type cacheEntry struct {
	done   chan struct{}
	loaded *LoadedModel
	err    error
}

// ModelCache loads trained artifacts at most once and shares the handles
// across chat sessions. Concurrent requests for the same artifact wait on
// a single in-flight load; failed loads are evicted so the next request
// retries.
type ModelCache struct {
	rt               runtime.LocalRuntime
	tokenizerTimeout time.Duration
	modelTimeout     time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

func NewModelCache(rt runtime.LocalRuntime) *ModelCache {
	return &ModelCache{
		rt:               rt,
		tokenizerTimeout: 60 * time.Second,
		modelTimeout:     300 * time.Second,
		entries:          make(map[string]*cacheEntry),
	}
}

// Get returns the loaded model for an artifact directory, loading it on
// first use.
func (c *ModelCache) Get(ctx context.Context, modelDir string) (*LoadedModel, error) {
	c.mu.Lock()
	if entry, ok := c.entries[modelDir]; ok {
		c.mu.Unlock()
		select {
		case <-entry.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return entry.loaded, entry.err
	}

	entry := &cacheEntry{done: make(chan struct{})}
	c.entries[modelDir] = entry
	c.mu.Unlock()

	entry.loaded, entry.err = c.load(ctx, modelDir)
	if entry.err != nil {
		c.mu.Lock()
		delete(c.entries, modelDir)
		c.mu.Unlock()
	}
	close(entry.done)
	return entry.loaded, entry.err
}

// Invalidate drops a cached artifact, typically after its job is deleted.
func (c *ModelCache) Invalidate(modelDir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[modelDir]; ok {
		select {
		case <-entry.done:
			delete(c.entries, modelDir)
		default:
			// In-flight load; the loader's error path will clean up.
		}
	}
}

func (c *ModelCache) load(ctx context.Context, modelDir string) (*LoadedModel, error) {
	start := time.Now()

	tokCtx, cancel := context.WithTimeout(ctx, c.tokenizerTimeout)
	tokenizer, err := c.rt.LoadTokenizer(tokCtx, modelDir)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("tokenizer load for %s exceeded %s: %w", modelDir, c.tokenizerTimeout, apperrors.ErrLoadTimeout)
		}
		return nil, err
	}

	modelCtx, cancel := context.WithTimeout(ctx, c.modelTimeout)
	defer cancel()

	model, err := c.rt.LoadModel(modelCtx, modelDir, true)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("model load for %s exceeded %s: %w", modelDir, c.modelTimeout, apperrors.ErrLoadTimeout)
		}
		// Artifact may be a full model rather than an adapter.
		logger.Warn("adapter load failed, retrying as plain model", map[string]interface{}{
			"model_dir": modelDir,
			"error":     err.Error(),
		})
		model, err = c.rt.LoadModel(modelCtx, modelDir, false)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("model load for %s exceeded %s: %w", modelDir, c.modelTimeout, apperrors.ErrLoadTimeout)
			}
			return nil, err
		}
	}

	logger.Info("Model loaded", map[string]interface{}{
		"model_dir":   modelDir,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return &LoadedModel{ModelDir: modelDir, Model: model, Tokenizer: tokenizer}, nil
}
