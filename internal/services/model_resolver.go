package services

import (
	"fmt"

	"github.com/tunekit/backend/internal/models"
)

// DefaultBaseModel is used when a requested model name has no mapping.
const DefaultBaseModel = "rinna/japanese-gpt-neox-3.6b"

// baseModelAliases maps user-facing model names to trainable base models.
var baseModelAliases = map[string]string{
	"gemma2:2b":                    "google/gemma-2-2b",
	"gemma-2-2b":                   "google/gemma-2-2b",
	"rinna-1b":                     "rinna/japanese-gpt-1b",
	"rinna/japanese-gpt-neox-3.6b": "rinna/japanese-gpt-neox-3.6b",
}

// memoryHeavyModels need reduced batch sizes to fit on common hardware.
// The effective batch size is preserved through gradient accumulation.
var memoryHeavyModels = map[string]struct{}{
	"google/gemma-2-2b": {},
}

// ResolveBaseModel turns a requested model name into a trainable base model.
func ResolveBaseModel(name string) string {
	if resolved, ok := baseModelAliases[name]; ok {
		return resolved
	}
	return DefaultBaseModel
}

// ApplyMemorySizing shrinks the batch size for memory-heavy base models,
// compensating with gradient accumulation.
func ApplyMemorySizing(baseModel string, cfg models.TrainingConfig) models.TrainingConfig {
	if _, heavy := memoryHeavyModels[baseModel]; heavy {
		cfg.BatchSize = 1
		cfg.GradientAccumulationSteps = 8
	}
	return cfg
}

// FormatTrainingRecords renders raw dataset entries into the conversational
// text format the trainer consumes. Several common key pairs are accepted;
// entries with none of them get a canned response so training never sees
// an empty example.
func FormatTrainingRecords(data models.JSONArray) []TrainingRecord {
	records := make([]TrainingRecord, 0, len(data))
	for _, item := range data {
		prompt, reply := extractPair(item)
		records = append(records, TrainingRecord{
			Text: fmt.Sprintf("User: %s Bot: %s<|endoftext|>", prompt, reply),
		})
	}
	return records
}

func extractPair(item map[string]interface{}) (string, string) {
	pairs := [][2]string{
		{"instruction", "output"},
		{"input", "output"},
		{"question", "answer"},
	}
	for _, p := range pairs {
		prompt, ok1 := asString(item[p[0]])
		reply, ok2 := asString(item[p[1]])
		if ok1 && ok2 {
			return prompt, reply
		}
	}
	return fmt.Sprintf("%v", item), "こんにちは"
}

func asString(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// TotalSteps computes the optimizer step count for a training run.
func TotalSteps(recordCount int, cfg models.TrainingConfig) int {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return recordCount / batch * cfg.NumEpochs
}
