// Package tts turns validated text into wav artifacts using the process-wide speech
// runtime.
package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts/audio"
	"github.com/book-expert/voice-service/internal/tts/ttsutils"
	"golang.org/x/sync/semaphore"
)

// ErrNilRuntime is returned when a Service is built without a runtime.
var ErrNilRuntime = errors.New("speech runtime is required")

// Options tune a Service.
type Options struct {
	TempDir           string
	DefaultSpeakerWav string
	VoicesDir         string
	DefaultLanguage   string
	MinReference      time.Duration
	// Timeout bounds a single inference call. Zero means no timeout.
	Timeout       time.Duration
	Temperature   float64
	MaxConcurrent int
}

// OptionsFromConfig maps the tts_service section onto Options.
func OptionsFromConfig(cfg config.TTSServiceConfig, tempDir string) Options {
	return Options{
		TempDir:           tempDir,
		DefaultSpeakerWav: cfg.DefaultSpeakerWav,
		VoicesDir:         cfg.VoicesDir,
		DefaultLanguage:   cfg.DefaultLanguage,
		MinReference:      time.Duration(cfg.MinReferenceSeconds * float64(time.Second)),
		Timeout:           cfg.Timeout(),
		Temperature:       cfg.Temperature,
		MaxConcurrent:     cfg.MaxConcurrent,
	}
}

// Service validates synthesis requests, serialises access to the runtime and owns the
// temporary files in between.
type Service struct {
	runtime core.SpeechRuntime
	slots   *semaphore.Weighted
	opts    Options
	log     *logger.Logger
}

// NewService creates a Service around an already loaded runtime.
func NewService(runtime core.SpeechRuntime, opts Options, log *logger.Logger) (*Service, error) {
	if runtime == nil {
		return nil, ErrNilRuntime
	}

	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}

	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	err := ttsutils.EnsureDir(opts.TempDir)
	if err != nil {
		return nil, err
	}

	return &Service{
		runtime: runtime,
		slots:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		opts:    opts,
		log:     log,
	}, nil
}

// Runtime returns the runtime the service synthesizes with.
func (s *Service) Runtime() core.SpeechRuntime {
	return s.runtime
}

// DefaultLanguage returns the language used when a request names none.
func (s *Service) DefaultLanguage() string {
	return s.opts.DefaultLanguage
}

// Synthesize renders req to a wav artifact. The caller must Close the artifact.
// Waiting for an inference slot honours ctx; inference itself runs to completion
// even if ctx is cancelled, bounded only by the configured timeout.
func (s *Service) Synthesize(ctx context.Context, req SynthesisRequest) (*Artifact, error) {
	requestID := core.RequestID(ctx)

	req, err := req.normalize(s.opts.DefaultLanguage)
	if err != nil {
		return nil, err
	}

	speaker, err := s.resolveSpeaker(req.SpeakerWav)
	if err != nil {
		return nil, err
	}
	defer speaker.release()

	err = s.slots.Acquire(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for the speech runtime: %w", core.ErrSynthesisFailed, err)
	}
	defer s.slots.Release(1)

	output, err := os.CreateTemp(s.opts.TempDir, "tts-*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create output file: %w", core.ErrSynthesisFailed, err)
	}

	outputPath := output.Name()
	_ = output.Close()

	params := core.SynthesisParams{
		Text:           req.Text,
		SpeakerWavPath: speaker.path,
		Language:       req.Language,
		Temperature:    s.opts.Temperature,
	}

	started := time.Now()

	info, err := s.infer(ctx, params, outputPath)
	if err != nil {
		s.removeTemp(outputPath)
		s.log.Error("[%s] Synthesis failed after %s: %v", requestID,
			ttsutils.FormatDuration(time.Since(started).Seconds()), err)

		return nil, err
	}

	artifact, err := openArtifact(outputPath, info.Duration)
	if err != nil {
		s.removeTemp(outputPath)

		return nil, fmt.Errorf("%w: %w", core.ErrSynthesisFailed, err)
	}

	s.log.Info("[%s] Synthesized %d chars (%s) into %s of audio, %s, in %s", requestID,
		len(req.Text), req.Language, ttsutils.FormatDuration(info.Duration.Seconds()),
		ttsutils.FormatFileSize(artifact.Size()), ttsutils.FormatDuration(time.Since(started).Seconds()))

	return artifact, nil
}

// infer runs the runtime once and validates what it wrote.
func (s *Service) infer(ctx context.Context, params core.SynthesisParams, outputPath string) (info audio.Info, err error) {
	inferCtx := context.WithoutCancel(ctx)

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc

		inferCtx, cancel = context.WithTimeout(inferCtx, s.opts.Timeout)
		defer cancel()
	}

	defer func() {
		recovered := recover()
		if recovered != nil {
			err = fmt.Errorf("%w: runtime %s panicked: %v", core.ErrSynthesisFailed, s.runtime.Name(), recovered)
		}
	}()

	runErr := s.runtime.Synthesize(inferCtx, params, outputPath)
	if runErr != nil {
		if errors.Is(runErr, core.ErrInvalidInput) || errors.Is(runErr, core.ErrSynthesisFailed) {
			return info, runErr
		}

		return info, fmt.Errorf("%w: %w", core.ErrSynthesisFailed, runErr)
	}

	info, err = audio.InspectFile(outputPath)
	if err != nil {
		return info, fmt.Errorf("%w: runtime produced no usable audio: %w", core.ErrSynthesisFailed, err)
	}

	return info, nil
}

func (s *Service) removeTemp(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("Failed to remove temp file '%s': %v", path, err)
	}
}
