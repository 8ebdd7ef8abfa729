package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/runtime"
)

// fakeRuntime counts loads and lets tests script failures and delays.
type fakeRuntime struct {
	tokenizerLoads int64
	modelLoads     int64

	tokenizerErr error
	adapterErr   error
	plainErr     error
	loadDelay    time.Duration
	response     string
	generateErr  error
}

func (f *fakeRuntime) LoadTokenizer(ctx context.Context, modelDir string) (runtime.TokenizerHandle, error) {
	atomic.AddInt64(&f.tokenizerLoads, 1)
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.tokenizerErr != nil {
		return nil, f.tokenizerErr
	}
	return struct{}{}, nil
}

func (f *fakeRuntime) LoadModel(ctx context.Context, modelDir string, adapter bool) (runtime.ModelHandle, error) {
	atomic.AddInt64(&f.modelLoads, 1)
	if f.loadDelay > 0 {
		select {
		case <-time.After(f.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if adapter && f.adapterErr != nil {
		return nil, f.adapterErr
	}
	if !adapter && f.plainErr != nil {
		return nil, f.plainErr
	}
	return struct{}{}, nil
}

func (f *fakeRuntime) Generate(ctx context.Context, model runtime.ModelHandle, tokenizer runtime.TokenizerHandle, prompt string, opts runtime.GenerateOptions) (string, error) {
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return f.response, nil
}

func TestModelCacheLoadsOnce(t *testing.T) {
	rt := &fakeRuntime{}
	cache := NewModelCache(rt)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Get(context.Background(), "trained_models/job_1"); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if loads := atomic.LoadInt64(&rt.modelLoads); loads != 1 {
		t.Errorf("Expected exactly 1 model load, got %d", loads)
	}
	if loads := atomic.LoadInt64(&rt.tokenizerLoads); loads != 1 {
		t.Errorf("Expected exactly 1 tokenizer load, got %d", loads)
	}
}

func TestModelCacheRetriesAsPlainModel(t *testing.T) {
	rt := &fakeRuntime{adapterErr: fmt.Errorf("not an adapter")}
	cache := NewModelCache(rt)

	loaded, err := cache.Get(context.Background(), "trained_models/job_2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("Expected a loaded model")
	}
	// One adapter attempt plus one plain attempt
	if loads := atomic.LoadInt64(&rt.modelLoads); loads != 2 {
		t.Errorf("Expected 2 load attempts, got %d", loads)
	}
}

func TestModelCacheFailedLoadIsRetried(t *testing.T) {
	rt := &fakeRuntime{tokenizerErr: fmt.Errorf("tokenizer files missing")}
	cache := NewModelCache(rt)

	if _, err := cache.Get(context.Background(), "trained_models/job_3"); err == nil {
		t.Fatal("Expected first load to fail")
	}

	// The failure must not be cached
	rt.tokenizerErr = nil
	if _, err := cache.Get(context.Background(), "trained_models/job_3"); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
}

func TestModelCacheLoadTimeout(t *testing.T) {
	rt := &fakeRuntime{loadDelay: time.Hour}
	cache := NewModelCache(rt)
	cache.tokenizerTimeout = 20 * time.Millisecond

	_, err := cache.Get(context.Background(), "trained_models/job_4")
	if !errors.Is(err, apperrors.ErrLoadTimeout) {
		t.Errorf("Expected ErrLoadTimeout, got %v", err)
	}
}

func TestModelCacheInvalidate(t *testing.T) {
	rt := &fakeRuntime{}
	cache := NewModelCache(rt)

	if _, err := cache.Get(context.Background(), "trained_models/job_5"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	cache.Invalidate("trained_models/job_5")
	if _, err := cache.Get(context.Background(), "trained_models/job_5"); err != nil {
		t.Fatalf("Get after invalidate failed: %v", err)
	}

	if loads := atomic.LoadInt64(&rt.modelLoads); loads != 2 {
		t.Errorf("Expected a fresh load after invalidate, got %d loads", loads)
	}
}
