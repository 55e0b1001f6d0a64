package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// OllamaBackend calls an Ollama-compatible /api/generate endpoint.
type OllamaBackend struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaBackend creates a backend against baseURL (e.g.
// http://localhost:11434). A non-positive timeout disables the client-side
// bound; callers then rely on per-call contexts.
func NewOllamaBackend(baseURL string, timeout time.Duration, logger *zap.Logger) *OllamaBackend {
	return &OllamaBackend{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     logger,
	}
}

// Invoke sends a non-streaming generate request for modelID.
func (o *OllamaBackend) Invoke(ctx context.Context, modelID, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  modelID,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}

	o.logger.Debug("Ollama generation complete",
		zap.String("model", modelID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out.Response, nil
}
