// Package worker synthesizes book pages delivered as NATS events.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/book-expert/voice-service/internal/tts/text"
	"github.com/book-expert/voice-service/internal/tts/ttsutils"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// QueueGroup lets several service instances share the synthesis subject.
const QueueGroup = "voice-service"

const (
	handleMessageTimeout = 10 * time.Minute
	defaultVoice         = "default"
)

var (
	// ErrTextKeyEmpty indicates an event without a text object key.
	ErrTextKeyEmpty = errors.New("text key cannot be empty")
	// ErrEmptyText indicates that the downloaded text has nothing to speak.
	ErrEmptyText = errors.New("text object is empty")
)

// Synthesizer is the part of tts.Service the worker depends on.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.SynthesisRequest) (*tts.Artifact, error)
}

// Options configures a NatsWorker.
type Options struct {
	Subject    string
	TextStore  core.ObjectStore
	AudioStore core.ObjectStore
	Language   string
}

// NatsWorker listens for TextProcessedEvents and answers each with an
// AudioChunkCreatedEvent.
type NatsWorker struct {
	natsConnection *nats.Conn
	opts           Options
	synthesizer    Synthesizer
	preprocessor   *text.Preprocessor
	log            *logger.Logger
}

// NewNatsWorker creates a worker. Jobs share the synthesizer, and therefore its
// inference slots, with the HTTP handlers.
func NewNatsWorker(
	natsConnection *nats.Conn,
	opts Options,
	synthesizer Synthesizer,
	log *logger.Logger,
) *NatsWorker {
	return &NatsWorker{
		natsConnection: natsConnection,
		opts:           opts,
		synthesizer:    synthesizer,
		preprocessor:   text.NewPreprocessor(),
		log:            log,
	}
}

// Run subscribes and blocks until ctx is cancelled, then drains the subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.opts.Subject, QueueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.opts.Subject, err)
	}

	w.log.Info("Worker listening on %s", w.opts.Subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	event, err := parseEvent(msg)
	if err != nil {
		w.log.Error("Dropping message on %s: %v", msg.Subject, err)

		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	ctx = core.WithRequestID(ctx, event.Header.WorkflowID)

	audioKey, err := w.processJob(ctx, event)
	if err != nil {
		w.log.Error("[%s] Failed to synthesize page %d of %s: %v", event.Header.WorkflowID,
			event.PageNumber, event.TextKey, err)

		return
	}

	replyEvent := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = publishReply(msg, replyEvent)
	if err != nil {
		w.log.Error("[%s] Failed to publish reply event: %v", event.Header.WorkflowID, err)
	}
}

// processJob downloads the page text, synthesizes it and uploads the wav.
func (w *NatsWorker) processJob(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.opts.TextStore.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	spoken := w.preprocessor.PreprocessText(string(textData), w.opts.Language)
	if strings.TrimSpace(spoken) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyText, event.TextKey)
	}

	artifact, err := w.synthesizer.Synthesize(ctx, tts.SynthesisRequest{
		Text:       spoken,
		SpeakerWav: VoiceReference(event.Voice),
		Language:   w.opts.Language,
	})
	if err != nil {
		return "", fmt.Errorf("failed to synthesize text: %w", err)
	}
	defer artifact.Close()

	audioData, err := artifact.Bytes()
	if err != nil {
		return "", fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	audioKey := uuid.NewString() + ".wav"

	err = w.opts.AudioStore.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("[%s] Page %d/%d stored as %s (%s)", event.Header.WorkflowID, event.PageNumber,
		event.TotalPages, audioKey, ttsutils.FormatFileSize(int64(len(audioData))))

	return audioKey, nil
}

// VoiceReference maps an event voice name onto a speaker file relative to the
// voices directory. An empty name or "default" selects the default speaker.
func VoiceReference(voice string) string {
	voice = strings.TrimSpace(voice)
	if voice == "" || strings.EqualFold(voice, defaultVoice) {
		return ""
	}

	name := ttsutils.SanitizeFilename(voice)
	if !ttsutils.IsValidAudioFile(name) {
		name += ".wav"
	}

	return name
}

func publishReply(msg *nats.Msg, replyEvent *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseEvent(msg *nats.Msg) (*events.TextProcessedEvent, error) {
	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if strings.TrimSpace(event.TextKey) == "" {
		return nil, ErrTextKeyEmpty
	}

	return &event, nil
}
