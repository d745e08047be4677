package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/book-expert/voice-service/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errUnexpectedContentType   = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "TTS service returned non-OK status: %s, body: %s"
)

// ErrEmptyAudio is returned when the service answers 200 with no body.
var ErrEmptyAudio = errors.New("received empty audio data")

// HTTPRuntime implements core.SpeechRuntime against a standalone XTTS HTTP service
// that holds the model in its own process.
type HTTPRuntime struct {
	httpClient *http.Client
	baseURL    string
}

// TTSRequest defines the JSON payload structure for TTS generation requests.
type TTSRequest struct {
	Text string `json:"text"`

	// SpeakerRefPath is a path on the service host. Empty selects its default speaker.
	SpeakerRefPath string `json:"speaker_ref_path,omitempty"`

	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

// TTSErrorResponse represents a structured error response from the TTS service.
type TTSErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPRuntime creates a runtime for the service at baseURL (e.g.
// "http://localhost:8000"). A zero timeout leaves requests unbounded.
func NewHTTPRuntime(baseURL string, timeout time.Duration) *HTTPRuntime {
	return &HTTPRuntime{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name identifies the runtime in health output.
func (c *HTTPRuntime) Name() string {
	return "xtts-v2-http"
}

// Synthesize posts params to the service and writes the returned wav to outputPath.
func (c *HTTPRuntime) Synthesize(ctx context.Context, params core.SynthesisParams, outputPath string) error {
	req := TTSRequest{
		Text:           params.Text,
		SpeakerRefPath: params.SpeakerWavPath,
		Language:       params.Language,
		Temperature:    params.Temperature,
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+apiGenerateSpeech,
		bytes.NewReader(requestBody),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: failed to send request to TTS service at %s: %w",
			core.ErrSynthesisFailed, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if !strings.HasPrefix(contentType, contentTypeWAV) {
		return fmt.Errorf("%w: "+errUnexpectedContentType, core.ErrSynthesisFailed, contentType)
	}

	return writeBody(resp.Body, outputPath)
}

// HealthCheck verifies that the TTS service is running and operational.
func (c *HTTPRuntime) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error from the service, falling back to
// the raw body. 4xx answers are the caller's fault and map to core.ErrInvalidInput.
func (c *HTTPRuntime) parseErrorResponse(resp *http.Response) error {
	kind := core.ErrSynthesisFailed
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
		kind = core.ErrInvalidInput
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxOutputInError))

	var errorResp TTSErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf("%w: "+errFmtServiceErrorWithCode,
			kind, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf("%w: "+errFmtServiceNonOKStatus, kind, resp.Status, string(body))
}

func writeBody(body io.Reader, outputPath string) error {
	file, err := os.OpenFile(outputPath, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", outputPath, err)
	}

	written, copyErr := io.Copy(file, body)
	closeErr := file.Close()

	if copyErr != nil {
		return fmt.Errorf("%w: failed to read audio data: %w", core.ErrSynthesisFailed, copyErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", outputPath, closeErr)
	}

	if written == 0 {
		return fmt.Errorf("%w: %w", core.ErrSynthesisFailed, ErrEmptyAudio)
	}

	return nil
}
