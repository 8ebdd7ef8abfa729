package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/tunekit/backend/internal/apperrors"
	"github.com/tunekit/backend/internal/logger"
	"github.com/tunekit/backend/internal/models"
	"github.com/tunekit/backend/internal/runtime"
)

// Localized replies for failure paths. Users always get text, never an
// error, out of the generation pipeline.
const (
	replyRemoteFailure = "Ollamaでの生成中にエラーが発生しました。"
	replyRemoteEmpty   = "申し訳ございませんが、応答を生成できませんでした。"
	replyLoadTimeout   = "モデルの読み込みに時間がかかっています。しばらくしてからもう一度お試しください。"
	replyGenericError  = "エラーが発生しました。"
	replyFallback      = "そうですね。他に何かお話ししませんか？"
)

const (
	minTemperature   = 0.3
	maxTemperature   = 0.8
	defaultTopP      = 0.8
	maxNewTokenLimit = 30
)

// lexicalReplies maps prompt substrings to canned responses, checked in
// order. It is the tier of last resort when every model tier fails.
var lexicalReplies = []struct {
	Trigger string
	Reply   string
}{
	{"おはよう", "おはようございます！"},
	{"こんにちは", "こんにちは！お元気ですか？"},
	{"こんばんは", "こんばんは！今日はどんな一日でしたか？"},
	{"ありがとう", "どういたしまして！"},
	{"さようなら", "さようなら！またお話ししましょう。"},
	{"元気", "元気です！あなたはいかがですか？"},
	{"天気", "今日はいい天気ですね！"},
	{"名前", "私はあなたの学習済みモデルです。"},
}

// strippedPrefixes are role markers models tend to echo back.
var strippedPrefixes = []string{"Bot:", "Assistant:", "AI:", "Response:", "Reply:"}

// GenerateParams bounds one chat generation request.
type GenerateParams struct {
	Temperature float64
	MaxTokens   int
}

// generationTier is one execution path for producing a reply. A non-nil
// error means the tier is unavailable and the next one should be tried;
// a nil error with empty text means the tier ran but produced nothing
// usable, which also falls through.
type generationTier interface {
	name() string
	attempt(ctx context.Context, session *models.ChatSession, prompt string, opts runtime.GenerateOptions) (string, error)
}

// Dispatcher routes a chat turn through an ordered list of generation
// tiers. Remote-bound sessions go to Ollama; job-bound sessions try the
// accelerated GGUF artifact, then the standard local runtime. The lexical
// fallback closes the chain, so Generate always returns non-empty text.
type Dispatcher struct {
	remote      generationTier
	accelerated generationTier
	standard    generationTier
}

func NewDispatcher(ollama *OllamaService, cache *ModelCache, rt runtime.LocalRuntime, accel runtime.AcceleratedRuntime) *Dispatcher {
	return &Dispatcher{
		remote:      &remoteTier{ollama: ollama},
		accelerated: &acceleratedTier{accel: accel},
		standard:    &standardTier{cache: cache, rt: rt},
	}
}

// Generate produces the assistant reply for one turn. The returned tier
// names which path produced the text.
func (d *Dispatcher) Generate(ctx context.Context, session *models.ChatSession, prompt string, params GenerateParams) (reply string, tier string) {
	opts := clampOptions(params)

	var tiers []generationTier
	if session.ModelName != nil {
		tiers = []generationTier{d.remote}
	} else {
		tiers = []generationTier{d.accelerated, d.standard}
	}

	for _, t := range tiers {
		text, err := t.attempt(ctx, session, prompt, opts)
		if err != nil {
			logger.WithTier(session.ID, t.name()).Warn("tier unavailable: " + err.Error())
			continue
		}
		if text != "" {
			return text, t.name()
		}
	}

	return lexicalFallback(prompt), "fallback"
}

func clampOptions(params GenerateParams) runtime.GenerateOptions {
	temp := params.Temperature
	if temp < minTemperature {
		temp = minTemperature
	}
	if temp > maxTemperature {
		temp = maxTemperature
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 || maxTokens > maxNewTokenLimit {
		maxTokens = maxNewTokenLimit
	}
	return runtime.GenerateOptions{
		Temperature:       temp,
		TopP:              defaultTopP,
		RepetitionPenalty: 1.0,
		MaxNewTokens:      maxTokens,
	}
}

// remoteTier delegates to the Ollama service. It is conclusive: failures
// become a localized message instead of falling through, since a
// remote-bound session has no local artifact to fall back on.
type remoteTier struct {
	ollama *OllamaService
}

func (t *remoteTier) name() string { return "remote" }

func (t *remoteTier) attempt(ctx context.Context, session *models.ChatSession, prompt string, opts runtime.GenerateOptions) (string, error) {
	text, err := t.ollama.Generate(ctx, *session.ModelName, prompt, map[string]interface{}{
		"temperature": opts.Temperature,
		"top_p":       opts.TopP,
		"num_predict": opts.MaxNewTokens,
	})
	if err != nil {
		logger.WithTier(session.ID, t.name()).Warn("remote generation failed: " + err.Error())
		return replyRemoteFailure, nil
	}
	cleaned := cleanOutput(text)
	if cleaned == "" {
		return replyRemoteEmpty, nil
	}
	return cleaned, nil
}

// acceleratedTier serves a quantized artifact when one exists for the
// session's job and the accelerated runtime was compiled in.
type acceleratedTier struct {
	accel runtime.AcceleratedRuntime
}

func (t *acceleratedTier) name() string { return "accelerated" }

func (t *acceleratedTier) attempt(ctx context.Context, session *models.ChatSession, prompt string, opts runtime.GenerateOptions) (string, error) {
	if !t.accel.Available() {
		return "", apperrors.ErrTierUnavailable
	}
	if session.ModelPath == nil {
		return "", apperrors.ErrTierUnavailable
	}
	ggufPath := filepath.Join(*session.ModelPath, "model.gguf")
	if _, err := os.Stat(ggufPath); err != nil {
		return "", fmt.Errorf("no accelerated artifact: %w", apperrors.ErrTierUnavailable)
	}

	text, err := t.accel.Generate(ctx, ggufPath, formatPrompt(prompt), opts)
	if err != nil {
		return "", err
	}
	return cleanOutput(text), nil
}

// standardTier runs the adapted model through the cached local runtime.
type standardTier struct {
	cache *ModelCache
	rt    runtime.LocalRuntime
}

func (t *standardTier) name() string { return "standard" }

func (t *standardTier) attempt(ctx context.Context, session *models.ChatSession, prompt string, opts runtime.GenerateOptions) (string, error) {
	if session.ModelPath == nil {
		return "", apperrors.ErrTierUnavailable
	}

	loaded, err := t.cache.Get(ctx, *session.ModelPath)
	if err != nil {
		if errors.Is(err, apperrors.ErrLoadTimeout) {
			logger.WithTier(session.ID, t.name()).Warn("model load timed out: " + err.Error())
			return replyLoadTimeout, nil
		}
		return "", err
	}

	text, err := t.rt.Generate(ctx, loaded.Model, loaded.Tokenizer, formatPrompt(prompt), opts)
	if err != nil {
		return "", err
	}
	return cleanOutput(text), nil
}

func formatPrompt(userText string) string {
	return fmt.Sprintf("User: %s Bot:", userText)
}

// cleanOutput normalizes model text and rejects degenerate completions.
// An empty result means the caller should fall through to the next tier.
func cleanOutput(text string) string {
	text = strings.ReplaceAll(text, "<|endoftext|>", "")
	text = strings.TrimSpace(text)
	for _, prefix := range strippedPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
		}
	}
	// Models sometimes continue the dialogue with another user turn.
	if idx := strings.Index(text, "User:"); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
	}
	if isDegenerate(text) {
		return ""
	}
	return text
}

// isDegenerate flags output that carries no conversational content, such
// as bare digit runs or punctuation.
func isDegenerate(text string) bool {
	if text == "" {
		return true
	}
	for _, r := range text {
		if !unicode.IsDigit(r) && !unicode.IsPunct(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func lexicalFallback(prompt string) string {
	for _, entry := range lexicalReplies {
		if strings.Contains(prompt, entry.Trigger) {
			return entry.Reply
		}
	}
	return replyFallback
}
