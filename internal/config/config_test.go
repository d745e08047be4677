// Package config_test tests the configuration loading for the voice-service.
package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTOML = `
[server]
port = 8088
max_body_bytes = 2048

[llm]
api = "openai"
url = "http://127.0.0.1:11434/v1"
model = "llama3.1:8b-instruct"
timeout_seconds = 12
max_tokens = 64

[tts_service]
runtime = "http"
service_url = "http://127.0.0.1:8000"
model_dir = "/models/xtts"
voices_dir = "/voices"
max_concurrent = 2
min_reference_seconds = 6.5

[nats]
url = "nats://127.0.0.1:4222"
synthesis_subject = "tts.jobs"
audio_object_store_bucket = "AUDIO"

[paths]
base_logs_dir = "/var/log/voice"
`

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]

		return value, ok
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	err := toml.Unmarshal([]byte(sampleTOML), &cfg)
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, int64(2048), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "openai", cfg.LLM.API)
	assert.Equal(t, "http://127.0.0.1:11434/v1", cfg.LLM.URL)
	assert.Equal(t, "llama3.1:8b-instruct", cfg.LLM.Model)
	assert.Equal(t, 12, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, 64, cfg.LLM.MaxTokens)
	assert.Equal(t, "http", cfg.TTS.Runtime)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.TTS.ServiceURL)
	assert.Equal(t, "/voices", cfg.TTS.VoicesDir)
	assert.Equal(t, 2, cfg.TTS.MaxConcurrent)
	assert.InEpsilon(t, 6.5, cfg.TTS.MinReferenceSeconds, 0.001)
	assert.Equal(t, "tts.jobs", cfg.NATS.SynthesisSubject)
	assert.Equal(t, "AUDIO", cfg.NATS.AudioObjectStoreBucket)
	assert.Equal(t, "/var/log/voice", cfg.Paths.BaseLogsDir)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Resolve()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.URL)
	assert.Equal(t, "llama3.1:8b", cfg.LLM.Model)
	assert.Equal(t, 30, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, config.RuntimeHTTP, cfg.TTS.Runtime, "the model stays loaded in the XTTS service")
	assert.Equal(t, "http://localhost:8000", cfg.TTS.ServiceURL)
	assert.Equal(t, "Ana Florence", cfg.TTS.DefaultSpeakerIdx)
	assert.Equal(t, 1, cfg.TTS.MaxConcurrent)
	assert.Equal(t, filepath.Join("models/xtts-v2", "config.json"), cfg.TTS.ConfigPath)
	assert.Equal(t, filepath.Join("models/xtts-v2", "samples", "en_sample.wav"), cfg.TTS.DefaultSpeakerWav)
	assert.Zero(t, cfg.TTS.Timeout())
	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Addr())
}

func TestLoadFile_OverlaysDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voice.toml")
	require.NoError(t, os.WriteFile(path, []byte("[llm]\nmodel = \"mistral:7b\"\n"), 0o600))

	cfg := config.Defaults()
	require.NoError(t, config.LoadFile(path, &cfg))

	assert.Equal(t, "mistral:7b", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.URL, "keys absent from the file keep defaults")
	assert.Equal(t, 5000, cfg.Server.Port)
}

func TestLoadFile_Errors(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()

	err := config.LoadFile(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[llm\nmodel ="), 0o600))

	err = config.LoadFile(path, &cfg)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()

	err := cfg.ApplyEnv(envLookup(map[string]string{
		"PORT":                "6000",
		"OLLAMA_URL":          "http://gpu-host:11434",
		"LLM_MODEL":           "llama3.1:70b",
		"LLM_TIMEOUT_SECONDS": "5",
		"TTS_USE_GPU":         "true",
		"TTS_RUNTIME":         "HTTP",
		"TTS_SERVICE_URL":     "http://xtts:8000",
		"DEFAULT_SPEAKER_IDX": "Claribel Dervla",
		"NATS_URL":            "",
	}))
	require.NoError(t, err)

	cfg.Resolve()

	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "http://gpu-host:11434", cfg.LLM.URL)
	assert.Equal(t, "llama3.1:70b", cfg.LLM.Model)
	assert.Equal(t, 5, cfg.LLM.TimeoutSeconds)
	assert.True(t, cfg.TTS.UseGPU)
	assert.Equal(t, config.RuntimeHTTP, cfg.TTS.Runtime)
	assert.Equal(t, "http://xtts:8000", cfg.TTS.ServiceURL)
	assert.Equal(t, "Claribel Dervla", cfg.TTS.DefaultSpeakerIdx)
	assert.Empty(t, cfg.NATS.URL, "empty values do not override")
	require.NoError(t, cfg.Validate())
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "port not a number", env: map[string]string{"PORT": "five thousand"}},
		{name: "timeout not a number", env: map[string]string{"LLM_TIMEOUT_SECONDS": "soon"}},
		{name: "gpu not a bool", env: map[string]string{"TTS_USE_GPU": "maybe"}},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Defaults()

			err := cfg.ApplyEnv(envLookup(testCase.env))
			require.ErrorIs(t, err, config.ErrInvalidEnvironment)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr error
	}{
		{name: "port zero", mutate: func(cfg *config.Config) { cfg.Server.Port = 0 }, wantErr: config.ErrInvalidPort},
		{name: "port too large", mutate: func(cfg *config.Config) { cfg.Server.Port = 70000 }, wantErr: config.ErrInvalidPort},
		{name: "unknown llm api", mutate: func(cfg *config.Config) { cfg.LLM.API = "grpc" }, wantErr: config.ErrUnknownLLMAPI},
		{name: "llm timeout zero", mutate: func(cfg *config.Config) { cfg.LLM.TimeoutSeconds = 0 }, wantErr: config.ErrLLMTimeout},
		{name: "unknown runtime", mutate: func(cfg *config.Config) { cfg.TTS.Runtime = "onnx" }, wantErr: config.ErrUnknownRuntime},
		{
			name:    "http runtime without url",
			mutate:  func(cfg *config.Config) { cfg.TTS.ServiceURL = "" },
			wantErr: config.ErrServiceURLRequired,
		},
		{
			name: "cli runtime without built-in speaker",
			mutate: func(cfg *config.Config) {
				cfg.TTS.Runtime = config.RuntimeCLI
				cfg.TTS.DefaultSpeakerIdx = " "
			},
			wantErr: config.ErrSpeakerIdxRequired,
		},
		{name: "no inference slots", mutate: func(cfg *config.Config) { cfg.TTS.MaxConcurrent = 0 }, wantErr: config.ErrMaxConcurrent},
		{name: "body cap zero", mutate: func(cfg *config.Config) { cfg.Server.MaxBodyBytes = 0 }, wantErr: config.ErrInvalidMaxBodyBytes},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Defaults()
			testCase.mutate(&cfg)

			require.ErrorIs(t, cfg.Validate(), testCase.wantErr)
		})
	}
}

func TestLoad_FromExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 7001\n"), 0o600))

	t.Setenv(config.EnvConfigFile, path)
	t.Setenv("LLM_MODEL", "phi3:mini")

	log, err := logger.New(t.TempDir(), "config-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	cfg, err := config.Load(log)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, "phi3:mini", cfg.LLM.Model)
}
