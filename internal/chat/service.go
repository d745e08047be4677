// Package chat answers a user message with the LLM and, optionally, speaks the answer.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/book-expert/voice-service/internal/tts/text"
)

// Errors returned by NewService.
var (
	ErrNilCompleter   = errors.New("chat completer is required")
	ErrNilSynthesizer = errors.New("synthesizer is required")
)

// Synthesizer is the part of tts.Service the chat flow depends on.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.Artifact, error)
	DefaultLanguage() string
}

// Request is a single user turn. There is no conversation history.
type Request struct {
	Message      string `json:"message"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	SpeakerWav   string `json:"speaker_wav,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Reply is the JSON body of /chat/text.
type Reply struct {
	Message string `json:"message"`
	Reply   string `json:"reply"`
}

// Service combines a ChatCompleter with the synthesis pipeline.
type Service struct {
	completer    core.ChatCompleter
	synthesizer  Synthesizer
	preprocessor *text.Preprocessor
	cfg          config.LLMConfig
	log          *logger.Logger
}

// NewService creates a chat service. cfg supplies the default system prompt, the
// sampling options and the timeout applied to every completion.
func NewService(
	completer core.ChatCompleter,
	synthesizer Synthesizer,
	cfg config.LLMConfig,
	log *logger.Logger,
) (*Service, error) {
	if completer == nil {
		return nil, ErrNilCompleter
	}

	if synthesizer == nil {
		return nil, ErrNilSynthesizer
	}

	return &Service{
		completer:    completer,
		synthesizer:  synthesizer,
		preprocessor: text.NewPreprocessor(),
		cfg:          cfg,
		log:          log,
	}, nil
}

// Model returns the LLM model name.
func (s *Service) Model() string {
	return s.completer.Model()
}

// Reply asks the LLM for an answer to req.Message.
func (s *Service) Reply(ctx context.Context, req Request) (Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Reply{}, fmt.Errorf("%w: message cannot be empty", core.ErrInvalidInput)
	}

	system := strings.TrimSpace(req.SystemPrompt)
	if system == "" {
		system = s.cfg.SystemPrompt
	}

	if s.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout())
		defer cancel()
	}

	started := time.Now()

	reply, err := s.completer.Complete(ctx, core.Prompt{
		System:      system,
		Message:     message,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		s.log.Error("[%s] LLM %s failed after %s: %v", core.RequestID(ctx), s.completer.Model(),
			time.Since(started).Round(time.Millisecond), err)

		if errors.Is(err, core.ErrUpstreamUnavailable) {
			return Reply{}, err
		}

		return Reply{}, fmt.Errorf("%w: %w", core.ErrUpstreamUnavailable, err)
	}

	s.log.Info("[%s] LLM %s replied with %d chars in %s", core.RequestID(ctx), s.completer.Model(),
		len(reply), time.Since(started).Round(time.Millisecond))

	return Reply{Message: message, Reply: reply}, nil
}

// Speak answers req and synthesizes the answer. The reply is cleaned of markdown and
// normalized for the request language, or the synthesizer's default, before
// synthesis. The caller must Close the returned artifact.
func (s *Service) Speak(ctx context.Context, req Request) (*tts.Artifact, Reply, error) {
	// Reject an unsupported language before spending an LLM call on it.
	language, err := tts.NormalizeLanguage(req.Language, s.synthesizer.DefaultLanguage())
	if err != nil {
		return nil, Reply{}, err
	}

	reply, err := s.Reply(ctx, req)
	if err != nil {
		return nil, Reply{}, err
	}

	spoken := s.preprocessor.PreprocessText(reply.Reply, language)
	if spoken == "" {
		spoken = reply.Reply
	}

	artifact, err := s.synthesizer.Synthesize(ctx, tts.SynthesisRequest{
		Text:       spoken,
		SpeakerWav: req.SpeakerWav,
		Language:   language,
	})
	if err != nil {
		return nil, reply, err
	}

	return artifact, reply, nil
}
