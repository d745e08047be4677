// Package core defines the core business logic and interfaces for the voice service.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SynthesisParams holds the parameters for a single inference call.
// SpeakerWavPath is empty when the runtime's built-in voice should be used.
type SynthesisParams struct {
	Text           string
	SpeakerWavPath string
	Language       string
	Temperature    float64
}

// SpeechRuntime is the loaded text-to-speech model. It is constructed once at
// process start and shared by every request.
type SpeechRuntime interface {
	Name() string
	Synthesize(ctx context.Context, params SynthesisParams, outputPath string) error
}

// HealthChecker is implemented by runtimes that live behind another process.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Prompt is a single-turn completion request.
type Prompt struct {
	System      string
	Message     string
	Temperature float64
	MaxTokens   int
}

// ChatCompleter generates a reply for a prompt using an external LLM.
type ChatCompleter interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
	Model() string
}
