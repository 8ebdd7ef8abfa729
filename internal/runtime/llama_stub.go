//go:build !llama

package runtime

import (
	"context"
	"fmt"

	"github.com/tunekit/backend/internal/apperrors"
)

type noopAccelerated struct{}

// NewAccelerated returns a disabled accelerated runtime. Build with the
// llama tag to enable native GGUF serving.
func NewAccelerated() AcceleratedRuntime {
	return noopAccelerated{}
}

func (noopAccelerated) Available() bool { return false }

func (noopAccelerated) Generate(ctx context.Context, ggufPath, prompt string, opts GenerateOptions) (string, error) {
	return "", fmt.Errorf("accelerated runtime not compiled in: %w", apperrors.ErrTierUnavailable)
}
