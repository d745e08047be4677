package chat_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/chat"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/book-expert/voice-service/internal/tts/ttstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCompleter returns a canned reply and records the prompts it receives.
type fakeCompleter struct {
	reply string
	err   error
	block bool

	mu      sync.Mutex
	prompts []core.Prompt
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt core.Prompt) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()

		return "", fmt.Errorf("%w: %w", core.ErrUpstreamUnavailable, ctx.Err())
	}

	return f.reply, f.err
}

func (f *fakeCompleter) Model() string {
	return "fake-llm"
}

func (f *fakeCompleter) Prompts() []core.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]core.Prompt(nil), f.prompts...)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "chat-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newChat(t *testing.T, completer core.ChatCompleter, cfg config.LLMConfig) (*chat.Service, *ttstest.Runtime) {
	t.Helper()

	return newChatWithLanguage(t, completer, cfg, "")
}

func newChatWithLanguage(
	t *testing.T,
	completer core.ChatCompleter,
	cfg config.LLMConfig,
	defaultLanguage string,
) (*chat.Service, *ttstest.Runtime) {
	t.Helper()

	log := newTestLogger(t)
	runtime := &ttstest.Runtime{}

	synth, err := tts.NewService(runtime, tts.Options{
		TempDir:         t.TempDir(),
		DefaultLanguage: defaultLanguage,
		MaxConcurrent:   1,
	}, log)
	require.NoError(t, err)

	service, err := chat.NewService(completer, synth, cfg, log)
	require.NoError(t, err)

	return service, runtime
}

func TestNewService_RequiresDependencies(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	_, err := chat.NewService(nil, nil, config.Defaults().LLM, log)
	require.ErrorIs(t, err, chat.ErrNilCompleter)

	_, err = chat.NewService(&fakeCompleter{}, nil, config.Defaults().LLM, log)
	require.ErrorIs(t, err, chat.ErrNilSynthesizer)
}

func TestReply_UsesDefaultSystemPrompt(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{reply: "Go is a language."}
	cfg := config.Defaults().LLM
	service, _ := newChat(t, completer, cfg)

	reply, err := service.Reply(context.Background(), chat.Request{Message: "  What is Go? "})
	require.NoError(t, err)
	assert.Equal(t, chat.Reply{Message: "What is Go?", Reply: "Go is a language."}, reply)

	_, err = service.Reply(context.Background(), chat.Request{Message: "Hi", SystemPrompt: "Talk like a pirate."})
	require.NoError(t, err)

	prompts := completer.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, cfg.SystemPrompt, prompts[0].System)
	assert.Equal(t, "What is Go?", prompts[0].Message)
	assert.Equal(t, cfg.MaxTokens, prompts[0].MaxTokens)
	assert.InEpsilon(t, cfg.Temperature, prompts[0].Temperature, 0.001)
	assert.Equal(t, "Talk like a pirate.", prompts[1].System)
	assert.Equal(t, "fake-llm", service.Model())
}

func TestReply_RejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{reply: "unused"}
	service, _ := newChat(t, completer, config.Defaults().LLM)

	_, err := service.Reply(context.Background(), chat.Request{Message: " \n "})
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Empty(t, completer.Prompts())
}

func TestReply_WrapsCompleterErrorsAsUpstream(t *testing.T) {
	t.Parallel()

	service, _ := newChat(t, &fakeCompleter{err: errors.New("connection refused")}, config.Defaults().LLM)

	_, err := service.Reply(context.Background(), chat.Request{Message: "Hi"})
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
}

func TestReply_EnforcesTimeout(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults().LLM
	cfg.TimeoutSeconds = 1

	service, _ := newChat(t, &fakeCompleter{block: true}, cfg)

	started := time.Now()

	_, err := service.Reply(context.Background(), chat.Request{Message: "Hi"})
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 3*time.Second)
}

func TestSpeak_SynthesizesNormalizedReply(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{reply: "**Dr. Go** says hi [1]"}
	service, runtime := newChat(t, completer, config.Defaults().LLM)

	artifact, reply, err := service.Speak(context.Background(), chat.Request{Message: "Who are you?"})
	require.NoError(t, err)

	defer artifact.Close()

	assert.Equal(t, "**Dr. Go** says hi [1]", reply.Reply)

	data, err := artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "Doctor Go says hi.", ttstest.DecodeText(data))

	calls := runtime.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "en", calls[0].Language)
}

func TestSpeak_UsesConfiguredDefaultLanguage(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{reply: "Dr. Go hat 3 Katzen"}
	service, runtime := newChatWithLanguage(t, completer, config.Defaults().LLM, "de")

	artifact, _, err := service.Speak(context.Background(), chat.Request{Message: "Wer bist du?"})
	require.NoError(t, err)

	defer artifact.Close()

	data, err := artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "Dr. Go hat 3 Katzen.", ttstest.DecodeText(data), "German text gets no English expansion")

	calls := runtime.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "de", calls[0].Language)
}

func TestSpeak_RequestLanguageOverridesDefault(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{reply: "Dr. Go has 3 cats"}
	service, runtime := newChatWithLanguage(t, completer, config.Defaults().LLM, "de")

	artifact, _, err := service.Speak(context.Background(), chat.Request{Message: "Who?", Language: " EN "})
	require.NoError(t, err)

	defer artifact.Close()

	data, err := artifact.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "Doctor Go has three cats.", ttstest.DecodeText(data))

	calls := runtime.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "en", calls[0].Language)
}

func TestSpeak_UnsupportedLanguageSkipsLLM(t *testing.T) {
	t.Parallel()

	completer := &fakeCompleter{reply: "Hola"}
	service, runtime := newChat(t, completer, config.Defaults().LLM)

	_, _, err := service.Speak(context.Background(), chat.Request{Message: "Hi", Language: "xx"})
	require.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Empty(t, completer.Prompts())
	assert.Empty(t, runtime.Calls())
}

func TestSpeak_LLMFailureSkipsSynthesis(t *testing.T) {
	t.Parallel()

	service, runtime := newChat(t, &fakeCompleter{err: fmt.Errorf("%w: down", core.ErrUpstreamUnavailable)},
		config.Defaults().LLM)

	artifact, _, err := service.Speak(context.Background(), chat.Request{Message: "Hi"})
	require.ErrorIs(t, err, core.ErrUpstreamUnavailable)
	assert.Nil(t, artifact)
	assert.Empty(t, runtime.Calls())
}
