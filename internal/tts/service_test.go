package tts_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/book-expert/voice-service/internal/tts/audio"
	"github.com/book-expert/voice-service/internal/tts/ttstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testText = "Hello, world!"

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "tts-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newService(t *testing.T, runtime core.SpeechRuntime, mutate func(opts *tts.Options)) (*tts.Service, string) {
	t.Helper()

	tempDir := t.TempDir()
	opts := tts.Options{
		TempDir:       tempDir,
		MinReference:  6 * time.Second,
		Temperature:   0.75,
		MaxConcurrent: 1,
	}

	if mutate != nil {
		mutate(&opts)
	}

	service, err := tts.NewService(runtime, opts, newTestLogger(t))
	require.NoError(t, err)

	return service, tempDir
}

// writeSilence writes a wav reference clip of the given length.
func writeSilence(t *testing.T, path string, seconds float64) {
	t.Helper()

	var buf bytes.Buffer

	samples := make([]int16, int(seconds*ttstest.SampleRate))
	require.NoError(t, audio.EncodePCM16(&buf, samples, ttstest.SampleRate, 1))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary files leaked in %s", dir)
}

func TestNewService_RequiresRuntime(t *testing.T) {
	t.Parallel()

	_, err := tts.NewService(nil, tts.Options{}, newTestLogger(t))
	require.ErrorIs(t, err, tts.ErrNilRuntime)
}

func TestSynthesize_ReturnsValidWav(t *testing.T) {
	t.Parallel()

	runtime := &ttstest.Runtime{}
	service, tempDir := newService(t, runtime, nil)

	artifact, err := service.Synthesize(context.Background(), tts.SynthesisRequest{Text: "  " + testText + "\n"})
	require.NoError(t, err)

	data, err := artifact.Bytes()
	require.NoError(t, err)

	info, err := audio.Inspect(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Positive(t, info.Duration)
	assert.Equal(t, int64(len(data)), artifact.Size())
	assert.Equal(t, testText, ttstest.DecodeText(data))

	calls := runtime.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "en", calls[0].Language)
	assert.Empty(t, calls[0].SpeakerWavPath)
	assert.InEpsilon(t, 0.75, calls[0].Temperature, 0.001)

	require.NoError(t, artifact.Close())
	require.NoError(t, artifact.Close(), "closing twice is harmless")
	assert.NoFileExists(t, artifact.Path())
	assertEmptyDir(t, tempDir)
}

func TestSynthesize_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	voicesDir := t.TempDir()
	writeSilence(t, filepath.Join(voicesDir, "short.wav"), 2)
	require.NoError(t, os.WriteFile(filepath.Join(voicesDir, "notes.txt"), []byte("hi"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(voicesDir, "broken.wav"), []byte("not a wav"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(voicesDir, "folder.wav"), 0o750))

	tests := []struct {
		name string
		req  tts.SynthesisRequest
	}{
		{name: "empty text", req: tts.SynthesisRequest{Text: ""}},
		{name: "whitespace text", req: tts.SynthesisRequest{Text: " \t\n "}},
		{name: "unsupported language", req: tts.SynthesisRequest{Text: testText, Language: "xx"}},
		{name: "missing speaker", req: tts.SynthesisRequest{Text: testText, SpeakerWav: "nobody.wav"}},
		{name: "speaker not audio", req: tts.SynthesisRequest{Text: testText, SpeakerWav: "notes.txt"}},
		{name: "speaker too short", req: tts.SynthesisRequest{Text: testText, SpeakerWav: "short.wav"}},
		{name: "speaker unreadable wav", req: tts.SynthesisRequest{Text: testText, SpeakerWav: "broken.wav"}},
		{name: "speaker is a directory", req: tts.SynthesisRequest{Text: testText, SpeakerWav: "folder.wav"}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			runtime := &ttstest.Runtime{}
			service, tempDir := newService(t, runtime, func(opts *tts.Options) { opts.VoicesDir = voicesDir })

			artifact, err := service.Synthesize(context.Background(), testCase.req)
			require.ErrorIs(t, err, core.ErrInvalidInput)
			assert.Nil(t, artifact)
			assert.Empty(t, runtime.Calls(), "runtime must not be called for invalid input")
			assertEmptyDir(t, tempDir)
		})
	}
}

func TestSynthesize_NormalizesLanguage(t *testing.T) {
	t.Parallel()

	runtime := &ttstest.Runtime{}
	service, _ := newService(t, runtime, func(opts *tts.Options) { opts.DefaultLanguage = "de" })

	for _, language := range []string{" ZH-CN ", ""} {
		artifact, err := service.Synthesize(context.Background(), tts.SynthesisRequest{Text: testText, Language: language})
		require.NoError(t, err)
		require.NoError(t, artifact.Close())
	}

	calls := runtime.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "zh-cn", calls[0].Language)
	assert.Equal(t, "de", calls[1].Language)
}

func TestSynthesize_SpeakerReferences(t *testing.T) {
	t.Parallel()

	voicesDir := t.TempDir()
	cloned := filepath.Join(voicesDir, "alice.wav")
	writeSilence(t, cloned, 7)

	defaultSpeaker := filepath.Join(t.TempDir(), "en_sample.wav")
	writeSilence(t, defaultSpeaker, 6)

	runtime := &ttstest.Runtime{}
	service, tempDir := newService(t, runtime, func(opts *tts.Options) {
		opts.VoicesDir = voicesDir
		opts.DefaultSpeakerWav = defaultSpeaker
	})

	for _, speaker := range []string{"alice.wav", cloned, ""} {
		artifact, err := service.Synthesize(context.Background(), tts.SynthesisRequest{Text: testText, SpeakerWav: speaker})
		require.NoError(t, err)
		require.NoError(t, artifact.Close())
	}

	calls := runtime.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, cloned, calls[0].SpeakerWavPath, "relative paths resolve under the voices directory")
	assert.Equal(t, cloned, calls[1].SpeakerWavPath)
	assert.Equal(t, defaultSpeaker, calls[2].SpeakerWavPath)
	assertEmptyDir(t, tempDir)
}

func TestSynthesize_MissingDefaultSpeakerUsesBuiltInVoice(t *testing.T) {
	t.Parallel()

	runtime := &ttstest.Runtime{}
	service, _ := newService(t, runtime, func(opts *tts.Options) {
		opts.DefaultSpeakerWav = filepath.Join(t.TempDir(), "missing.wav")
	})

	artifact, err := service.Synthesize(context.Background(), tts.SynthesisRequest{Text: testText})
	require.NoError(t, err)
	require.NoError(t, artifact.Close())

	calls := runtime.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].SpeakerWavPath)
}

func TestSynthesize_RuntimeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		hook    func(ctx context.Context, params core.SynthesisParams, outputPath string) error
		wantErr error
	}{
		{
			name: "runtime error",
			hook: func(context.Context, core.SynthesisParams, string) error {
				return errors.New("CUDA out of memory")
			},
			wantErr: core.ErrSynthesisFailed,
		},
		{
			name: "runtime panic",
			hook: func(context.Context, core.SynthesisParams, string) error {
				panic("segfault in vocoder")
			},
			wantErr: core.ErrSynthesisFailed,
		},
		{
			name: "garbage output",
			hook: func(_ context.Context, _ core.SynthesisParams, outputPath string) error {
				return os.WriteFile(outputPath, []byte("not audio"), 0o600)
			},
			wantErr: core.ErrSynthesisFailed,
		},
		{
			name: "empty output",
			hook: func(_ context.Context, _ core.SynthesisParams, outputPath string) error {
				return ttstest.WriteTextWAV(outputPath, "")
			},
			wantErr: core.ErrSynthesisFailed,
		},
		{
			name: "runtime rejects input",
			hook: func(context.Context, core.SynthesisParams, string) error {
				return fmt.Errorf("%w: reference too short", core.ErrInvalidInput)
			},
			wantErr: core.ErrInvalidInput,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			runtime := &ttstest.Runtime{Hook: testCase.hook}
			service, tempDir := newService(t, runtime, nil)

			artifact, err := service.Synthesize(context.Background(), tts.SynthesisRequest{Text: testText})
			require.ErrorIs(t, err, testCase.wantErr)
			assert.Nil(t, artifact)
			assertEmptyDir(t, tempDir)

			// The service keeps serving after a failure.
			runtime.Hook = nil

			artifact, err = service.Synthesize(context.Background(), tts.SynthesisRequest{Text: testText})
			require.NoError(t, err)
			require.NoError(t, artifact.Close())
		})
	}
}

func TestSynthesize_TempDirReturnsToBaseline(t *testing.T) {
	t.Parallel()

	runtime := &ttstest.Runtime{}
	service, tempDir := newService(t, runtime, nil)

	for i := range 20 {
		req := tts.SynthesisRequest{Text: fmt.Sprintf("request %d", i)}
		if i%3 == 0 {
			req.Language = "xx"
		}

		artifact, err := service.Synthesize(context.Background(), req)
		if err != nil {
			continue
		}

		require.NoError(t, artifact.Close())
	}

	assertEmptyDir(t, tempDir)
}

func TestSynthesize_ConcurrentRequestsAreSerialized(t *testing.T) {
	t.Parallel()

	const requests = 8

	runtime := &ttstest.Runtime{Delay: 5 * time.Millisecond}
	service, tempDir := newService(t, runtime, nil)

	var wg sync.WaitGroup

	results := make([]string, requests)
	errs := make([]error, requests)

	for i := range requests {
		wg.Add(1)

		go func() {
			defer wg.Done()

			artifact, err := service.Synthesize(context.Background(),
				tts.SynthesisRequest{Text: fmt.Sprintf("sentence number %d", i)})
			if err != nil {
				errs[i] = err

				return
			}
			defer artifact.Close()

			data, err := artifact.Bytes()
			errs[i] = err
			results[i] = ttstest.DecodeText(data)
		}()
	}

	wg.Wait()

	for i := range requests {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("sentence number %d", i), results[i])
	}

	assert.Equal(t, 1, runtime.MaxConcurrent())
	assertEmptyDir(t, tempDir)
}

func TestSynthesize_ClientDisconnectDoesNotAbortInference(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	var inferenceErr error

	runtime := &ttstest.Runtime{
		Hook: func(inferCtx context.Context, params core.SynthesisParams, outputPath string) error {
			cancel()

			inferenceErr = inferCtx.Err()

			return ttstest.WriteTextWAV(outputPath, params.Text)
		},
	}
	service, _ := newService(t, runtime, nil)

	artifact, err := service.Synthesize(ctx, tts.SynthesisRequest{Text: testText})
	require.NoError(t, err)
	require.NoError(t, artifact.Close())
	require.NoError(t, inferenceErr)
}

func TestSynthesize_WaitingForSlotHonoursContext(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})

	runtime := &ttstest.Runtime{
		Hook: func(_ context.Context, params core.SynthesisParams, outputPath string) error {
			close(started)
			<-release

			return ttstest.WriteTextWAV(outputPath, params.Text)
		},
	}
	service, _ := newService(t, runtime, nil)

	done := make(chan error, 1)

	go func() {
		artifact, err := service.Synthesize(context.Background(), tts.SynthesisRequest{Text: "first"})
		if err == nil {
			err = artifact.Close()
		}

		done <- err
	}()

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := service.Synthesize(ctx, tts.SynthesisRequest{Text: "second"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorIs(t, err, core.ErrSynthesisFailed)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, runtime.Calls(), 1)
}

func TestSynthesize_InferenceTimeout(t *testing.T) {
	t.Parallel()

	runtime := &ttstest.Runtime{
		Hook: func(ctx context.Context, _ core.SynthesisParams, _ string) error {
			<-ctx.Done()

			return ctx.Err()
		},
	}
	service, tempDir := newService(t, runtime, func(opts *tts.Options) { opts.Timeout = 20 * time.Millisecond })

	_, err := service.Synthesize(context.Background(), tts.SynthesisRequest{Text: testText})
	require.ErrorIs(t, err, core.ErrSynthesisFailed)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assertEmptyDir(t, tempDir)
}

func TestNormalizeLanguage(t *testing.T) {
	t.Parallel()

	for _, code := range tts.SupportedLanguages() {
		normalized, err := tts.NormalizeLanguage(code, "")
		require.NoError(t, err)
		assert.Equal(t, code, normalized)
	}

	assert.Len(t, tts.SupportedLanguages(), 17)

	normalized, err := tts.NormalizeLanguage("", "")
	require.NoError(t, err)
	assert.Equal(t, tts.DefaultLanguage, normalized)

	_, err = tts.NormalizeLanguage("zh", "")
	require.ErrorIs(t, err, core.ErrInvalidInput)
}
