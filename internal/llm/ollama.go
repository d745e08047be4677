// Package llm provides the chat completion clients behind the voice assistant: a
// native Ollama client and an OpenAI-compatible client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
)

const (
	apiGenerate       = "/api/generate"
	maxErrorBodyBytes = 1024
)

// ErrEmptyReply is returned when the model answers with nothing but whitespace.
var ErrEmptyReply = errors.New("llm returned an empty reply")

// OllamaConfig holds the connection settings for an Ollama server.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaClient implements core.ChatCompleter with Ollama's /api/generate endpoint.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// GenerateRequest is the non-streaming /api/generate payload.
type GenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// GenerateResponse is the subset of the /api/generate reply the service reads.
type GenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaClient creates a client for the server at cfg.BaseURL.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	return &OllamaClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string {
	return c.model
}

// Complete sends a single-turn prompt and returns the trimmed reply.
func (c *OllamaClient) Complete(ctx context.Context, prompt core.Prompt) (string, error) {
	req := GenerateRequest{
		Model:   c.model,
		Prompt:  prompt.Message,
		System:  prompt.System,
		Stream:  false,
		Options: map[string]any{},
	}

	if prompt.Temperature > 0 {
		req.Options["temperature"] = prompt.Temperature
	}

	if prompt.MaxTokens > 0 {
		req.Options["num_predict"] = prompt.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiGenerate, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: ollama at %s: %w", core.ErrUpstreamUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return "", fmt.Errorf("%w: ollama returned status %d: %s",
			core.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var result GenerateResponse

	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode ollama response: %w", core.ErrUpstreamUnavailable, err)
	}

	if result.Error != "" {
		return "", fmt.Errorf("%w: ollama: %s", core.ErrUpstreamUnavailable, result.Error)
	}

	reply := strings.TrimSpace(result.Response)
	if reply == "" {
		return "", fmt.Errorf("%w: %w", core.ErrUpstreamUnavailable, ErrEmptyReply)
	}

	return reply, nil
}

// New builds the completer selected by cfg.API.
func New(cfg config.LLMConfig) (core.ChatCompleter, error) {
	switch strings.ToLower(cfg.API) {
	case config.LLMAPIOllama, "":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.URL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		}), nil
	case config.LLMAPIOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.URL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout(),
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownLLMAPI, cfg.API)
	}
}
