// Package client talks to a running voice service over HTTP.
package client

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

	"github.com/book-expert/voice-service/internal/chat"
	"github.com/book-expert/voice-service/internal/server"
	"github.com/book-expert/voice-service/internal/tts"
)

const (
	contentTypeJSON = "application/json"
	contentTypeWAV  = "audio/wav"

	maxErrorBody = 64 * 1024
)

// ErrUnexpectedContentType is returned when an audio endpoint answers with something else.
var ErrUnexpectedContentType = errors.New("unexpected content type")

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("voice service returned %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("voice service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Client calls the voice service endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the service at baseURL. A zero timeout disables it.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Synthesize posts to /tts and returns the wav bytes.
func (c *Client) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	return c.postForAudio(ctx, "/tts", req)
}

// Speak posts to /chat and returns the spoken reply.
func (c *Client) Speak(ctx context.Context, req chat.Request) ([]byte, error) {
	return c.postForAudio(ctx, "/chat", req)
}

// ChatText posts to /chat/text.
func (c *Client) ChatText(ctx context.Context, req chat.Request) (chat.Reply, error) {
	var reply chat.Reply

	resp, err := c.do(ctx, http.MethodPost, "/chat/text", req)
	if err != nil {
		return reply, err
	}
	defer resp.Body.Close()

	err = json.NewDecoder(resp.Body).Decode(&reply)
	if err != nil {
		return reply, fmt.Errorf("failed to decode chat reply: %w", err)
	}

	return reply, nil
}

// Health fetches /health.
func (c *Client) Health(ctx context.Context) (server.HealthResponse, error) {
	var health server.HealthResponse

	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return health, err
	}
	defer resp.Body.Close()

	err = json.NewDecoder(resp.Body).Decode(&health)
	if err != nil {
		return health, fmt.Errorf("failed to decode health response: %w", err)
	}

	return health, nil
}

func (c *Client) postForAudio(ctx context.Context, path string, payload any) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, contentTypeWAV) {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedContentType, contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	return data, nil
}

// do sends the request and turns non-2xx answers into *APIError. The caller closes
// the body of a successful response.
func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", contentTypeJSON)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", path, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return resp, nil
	}

	defer resp.Body.Close()

	return nil, parseError(resp)
}

func parseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}

	var body server.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}

	return apiErr
}
