// Package runtime abstracts how trained models are loaded and queried on
// the local machine. The default implementation shells out to a Python
// worker; an accelerated GGUF path is available behind the llama build tag.
package runtime

import "context"

// TokenizerHandle is an opaque reference to a loaded tokenizer.
type TokenizerHandle interface{}

// ModelHandle is an opaque reference to a loaded model.
type ModelHandle interface{}

// GenerateOptions bounds one generation call.
type GenerateOptions struct {
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
	MaxNewTokens      int
}

// LocalRuntime loads trained artifacts and runs generation against them.
// All methods honor context cancellation and deadlines.
type LocalRuntime interface {
	LoadTokenizer(ctx context.Context, modelDir string) (TokenizerHandle, error)
	// LoadModel loads the artifact at modelDir. With adapter set, the
	// directory is treated as an adapter over its recorded base model;
	// otherwise it is loaded as a plain standalone model.
	LoadModel(ctx context.Context, modelDir string, adapter bool) (ModelHandle, error)
	Generate(ctx context.Context, model ModelHandle, tokenizer TokenizerHandle, prompt string, opts GenerateOptions) (string, error)
}

// AcceleratedRuntime serves quantized GGUF artifacts natively.
type AcceleratedRuntime interface {
	// Available reports whether the accelerated path was compiled in.
	Available() bool
	Generate(ctx context.Context, ggufPath, prompt string, opts GenerateOptions) (string, error)
}
