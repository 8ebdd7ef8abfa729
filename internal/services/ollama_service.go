package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

// OllamaService talks to a remote Ollama server. It is the backing client
// of the remote generation tier and of the model catalog endpoints.
type OllamaService struct {
	baseURL   string
	client    *http.Client
	apiCalls  []OllamaAPICall
	callMutex sync.RWMutex
}

type OllamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type OllamaGenerateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
}

type OllamaModel struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
	ModifiedAt string `json:"modified_at"`
}

type OllamaModelsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaAPICall tracks one request to the remote service for diagnostics.
type OllamaAPICall struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Endpoint  string        `json:"endpoint"`
	Model     string        `json:"model"`
	Status    int           `json:"status"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

func NewOllamaService(baseURL string) *OllamaService {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	// Get timeout from environment or use default
	timeout := 300 * time.Second
	if timeoutStr := os.Getenv("OLLAMA_TIMEOUT_SECONDS"); timeoutStr != "" {
		if t, err := time.ParseDuration(timeoutStr + "s"); err == nil {
			timeout = t
		}
	}

	return &OllamaService{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		apiCalls: make([]OllamaAPICall, 0),
	}
}

// GetAPICalls returns a copy of the tracked remote calls.
func (os *OllamaService) GetAPICalls() []OllamaAPICall {
	os.callMutex.RLock()
	defer os.callMutex.RUnlock()

	calls := make([]OllamaAPICall, len(os.apiCalls))
	copy(calls, os.apiCalls)
	return calls
}

func (os *OllamaService) trackAPICall(call OllamaAPICall) {
	os.callMutex.Lock()
	defer os.callMutex.Unlock()

	// Keep only last 100 calls to prevent memory issues
	if len(os.apiCalls) >= 100 {
		os.apiCalls = os.apiCalls[1:]
	}
	os.apiCalls = append(os.apiCalls, call)
}

// Generate requests a completion from the remote service.
func (os *OllamaService) Generate(ctx context.Context, model, prompt string, options map[string]interface{}) (string, error) {
	startTime := time.Now()
	call := OllamaAPICall{
		ID:        fmt.Sprintf("ollama_%d", startTime.UnixNano()),
		Timestamp: startTime,
		Endpoint:  "/api/generate",
		Model:     model,
	}

	request := OllamaGenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		call.Error = fmt.Sprintf("failed to marshal request: %v", err)
		os.trackAPICall(call)
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/generate", os.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		call.Error = fmt.Sprintf("failed to create request: %v", err)
		os.trackAPICall(call)
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := os.client.Do(req)
	call.Duration = time.Since(startTime)

	if err != nil {
		call.Error = fmt.Sprintf("HTTP request failed: %v", err)
		os.trackAPICall(call)
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	call.Status = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		call.Error = fmt.Sprintf("Ollama API returned status %d", resp.StatusCode)
		os.trackAPICall(call)
		return "", fmt.Errorf("Ollama API returned status %d, body: %s", resp.StatusCode, string(body))
	}

	var ollamaResp OllamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		call.Error = fmt.Sprintf("failed to decode response: %v", err)
		os.trackAPICall(call)
		return "", fmt.Errorf("failed to decode Ollama response: %w", err)
	}

	os.trackAPICall(call)
	return ollamaResp.Response, nil
}

// ListModels returns the models available on the remote service.
func (os *OllamaService) ListModels(ctx context.Context) ([]OllamaModel, error) {
	url := fmt.Sprintf("%s/api/tags", os.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := os.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get models: status %d", resp.StatusCode)
	}

	var modelsResp OllamaModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, err
	}

	return modelsResp.Models, nil
}

// CheckModelExists reports whether the named model is present remotely.
func (os *OllamaService) CheckModelExists(ctx context.Context, name string) (bool, error) {
	models, err := os.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, model := range models {
		if model.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// PullModel asks the remote service to download a model.
func (os *OllamaService) PullModel(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/pull", os.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := os.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to pull model %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to pull model %s: status %d", name, resp.StatusCode)
	}
	return nil
}

// HealthCheck verifies that the remote service is reachable.
func (os *OllamaService) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/tags", os.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := os.client.Do(req)
	if err != nil {
		return fmt.Errorf("Ollama service not available: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Ollama service returned status %d", resp.StatusCode)
	}
	return nil
}
