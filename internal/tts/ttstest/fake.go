// Package ttstest provides a deterministic speech runtime for tests. The wav it writes
// carries the request text as its samples, so callers can prove which request an
// artifact belongs to.
package ttstest

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts/audio"
)

// SampleRate of the wav files written by Runtime.
const SampleRate = 24000

const wavHeaderSize = 44

// Runtime is a core.SpeechRuntime that never loads a model.
type Runtime struct {
	// Delay is slept inside Synthesize to widen race windows.
	Delay time.Duration
	// Hook replaces the default behaviour when set.
	Hook func(ctx context.Context, params core.SynthesisParams, outputPath string) error

	mu        sync.Mutex
	calls     []core.SynthesisParams
	active    atomic.Int32
	maxActive atomic.Int32
}

// Name identifies the runtime in health output.
func (r *Runtime) Name() string {
	return "fake"
}

// Synthesize records params and writes a wav encoding params.Text.
func (r *Runtime) Synthesize(ctx context.Context, params core.SynthesisParams, outputPath string) error {
	current := r.active.Add(1)
	defer r.active.Add(-1)

	for {
		seen := r.maxActive.Load()
		if current <= seen || r.maxActive.CompareAndSwap(seen, current) {
			break
		}
	}

	r.mu.Lock()
	r.calls = append(r.calls, params)
	r.mu.Unlock()

	if r.Hook != nil {
		return r.Hook(ctx, params, outputPath)
	}

	if r.Delay > 0 {
		time.Sleep(r.Delay)
	}

	return WriteTextWAV(outputPath, params.Text)
}

// Calls returns the parameters of every Synthesize call so far.
func (r *Runtime) Calls() []core.SynthesisParams {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]core.SynthesisParams(nil), r.calls...)
}

// MaxConcurrent returns the highest number of overlapping Synthesize calls observed.
func (r *Runtime) MaxConcurrent() int {
	return int(r.maxActive.Load())
}

// WriteTextWAV writes a mono 16-bit wav whose samples are the bytes of text.
func WriteTextWAV(path, text string) error {
	samples := make([]int16, len(text))
	for i := range len(text) {
		samples[i] = int16(text[i])
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	encodeErr := audio.EncodePCM16(file, samples, SampleRate, 1)
	closeErr := file.Close()

	if encodeErr != nil {
		return encodeErr
	}

	return closeErr
}

// DecodeText recovers the text written by WriteTextWAV.
func DecodeText(wav []byte) string {
	if len(wav) <= wavHeaderSize {
		return ""
	}

	data := wav[wavHeaderSize:]
	text := make([]byte, 0, len(data)/2)

	for i := 0; i+1 < len(data); i += 2 {
		text = append(text, data[i])
	}

	return string(text)
}
