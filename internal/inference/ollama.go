// Package inference provides the Ollama text-generation client used by
// the extract stage. Errors are classified so callers can distinguish
// backend unavailability (retryable) from rejected requests (not).
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ratescan/ratescan/internal/config"
)

// Inference errors.
var (
	// ErrUnavailable indicates the backend could not be reached or
	// answered with a server error. Safe to retry.
	ErrUnavailable = errors.New("inference backend unavailable")
	// ErrRejected indicates the backend rejected the request itself.
	// Retrying the same request will not help.
	ErrRejected = errors.New("inference request rejected")
	// ErrEmptyResponse indicates the backend returned no generated text.
	ErrEmptyResponse = errors.New("inference returned empty response")
)

// System defines the text-generation contract for the extract stage.
type System interface {
	// Generate produces a completion for the prompt. The configured
	// model runs non-streaming; the full response text is returned.
	Generate(ctx context.Context, prompt string) (string, error)
	// Model returns the configured model identifier.
	Model() string
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type ollama struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewOllama creates an inference system backed by an Ollama server.
func NewOllama(cfg *config.InferenceConfig, logger *slog.Logger) System {
	return &ollama{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.TimeoutDuration()},
		logger:  logger.With("system", "inference", "model", cfg.Model),
	}
}

func (o *ollama) Model() string {
	return o.model
}

func (o *ollama) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		o.baseURL+"/api/generate",
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	o.logger.Info("calling inference backend", "prompt_chars", len(prompt))
	start := time.Now()

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(detail))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", ErrEmptyResponse
	}

	o.logger.Info("inference response received",
		"duration", time.Since(start).Round(time.Millisecond),
		"response_chars", len(out.Response),
	)
	return out.Response, nil
}
