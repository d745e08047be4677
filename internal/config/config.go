// Package config provides the configuration structure for the voice-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// EnvConfigFile names an explicit TOML file that replaces the central configurator.
const EnvConfigFile = "VOICE_SERVICE_CONFIG"

// Environment overrides, read once at startup.
const (
	envPort              = "PORT"
	envOllamaURL         = "OLLAMA_URL"
	envLLMModel          = "LLM_MODEL"
	envLLMAPI            = "LLM_API"
	envLLMAPIKey         = "LLM_API_KEY"
	envLLMTimeout        = "LLM_TIMEOUT_SECONDS"
	envTTSRuntime        = "TTS_RUNTIME"
	envTTSModelDir       = "TTS_MODEL_DIR"
	envTTSServiceURL     = "TTS_SERVICE_URL"
	envTTSBinary         = "TTS_BINARY"
	envTTSUseGPU         = "TTS_USE_GPU"
	envDefaultSpeakerWav = "DEFAULT_SPEAKER_WAV"
	envDefaultSpeakerIdx = "DEFAULT_SPEAKER_IDX"
	envVoicesDir         = "VOICES_DIR"
	envNATSURL           = "NATS_URL"
	envLogDir            = "LOG_DIR"
)

// LLM APIs and TTS runtimes understood by the service.
const (
	LLMAPIOllama = "ollama"
	LLMAPIOpenAI = "openai"

	RuntimeCLI  = "cli"
	RuntimeHTTP = "http"
)

const (
	defaultHost                = "0.0.0.0"
	defaultPort                = 5000
	defaultMaxBodyBytes        = 1 << 20
	defaultShutdownSeconds     = 10
	defaultLLMURL              = "http://localhost:11434"
	defaultLLMModel            = "llama3.1:8b"
	defaultLLMTimeoutSeconds   = 30
	defaultLLMTemperature      = 0.7
	defaultLLMMaxTokens        = 150
	defaultSystemPrompt        = "You are a helpful voice assistant. Keep your responses brief and conversational."
	defaultModelDir            = "models/xtts-v2"
	defaultTTSServiceURL       = "http://localhost:8000"
	defaultSpeakerIdx          = "Ana Florence"
	defaultTTSBinary           = "tts"
	defaultTTSTemperature      = 0.75
	defaultMaxConcurrent       = 1
	defaultMinReferenceSeconds = 6.0
	defaultLanguage            = "en"
	defaultSynthesisSubject    = "tts.synthesize"
	defaultTextBucket          = "TEXT_FILES"
	defaultAudioBucket         = "AUDIO_FILES"
	defaultLogsDir             = "logs"
	maxPort                    = 65535
)

// Validation errors.
var (
	ErrInvalidPort          = errors.New("port must be between 1 and 65535")
	ErrUnknownLLMAPI        = errors.New("unknown llm api")
	ErrUnknownRuntime       = errors.New("unknown tts runtime")
	ErrLLMTimeout           = errors.New("llm timeout must be positive")
	ErrServiceURLRequired   = errors.New("http runtime requires tts_service.service_url")
	ErrSpeakerIdxRequired   = errors.New("cli runtime requires tts_service.default_speaker_idx")
	ErrMaxConcurrent        = errors.New("tts_service.max_concurrent must be at least 1")
	ErrInvalidEnvironment   = errors.New("invalid environment value")
	ErrInvalidMaxBodyBytes  = errors.New("server.max_body_bytes must be positive")
	ErrInvalidReferenceSecs = errors.New("tts_service.min_reference_seconds must be non-negative")
)

// ServerConfig holds the HTTP listener configuration.
type ServerConfig struct {
	Host                   string   `toml:"host"`
	Port                   int      `toml:"port"`
	TempDir                string   `toml:"temp_dir"`
	MaxBodyBytes           int64    `toml:"max_body_bytes"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
	CORSAllowedOrigins     []string `toml:"cors_allowed_origins"`
}

// LLMConfig holds the configuration for the external LLM server.
type LLMConfig struct {
	API            string  `toml:"api"`
	URL            string  `toml:"url"`
	Model          string  `toml:"model"`
	APIKey         string  `toml:"api_key"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	Temperature    float64 `toml:"temperature"`
	MaxTokens      int     `toml:"max_tokens"`
	SystemPrompt   string  `toml:"system_prompt"`
}

// TTSServiceConfig holds the specific configuration for the speech runtime.
type TTSServiceConfig struct {
	Runtime             string  `toml:"runtime"`
	ModelDir            string  `toml:"model_dir"`
	ConfigPath          string  `toml:"config_path"`
	BinaryPath          string  `toml:"binary_path"`
	ServiceURL          string  `toml:"service_url"`
	DefaultSpeakerWav   string  `toml:"default_speaker_wav"`
	DefaultSpeakerIdx   string  `toml:"default_speaker_idx"`
	VoicesDir           string  `toml:"voices_dir"`
	UseGPU              bool    `toml:"use_gpu"`
	Temperature         float64 `toml:"temperature"`
	TimeoutSeconds      int     `toml:"timeout_seconds"`
	MaxConcurrent       int     `toml:"max_concurrent"`
	MinReferenceSeconds float64 `toml:"min_reference_seconds"`
	DefaultLanguage     string  `toml:"default_language"`
}

// NATSConfig holds the configuration for NATS. An empty URL disables the worker.
type NATSConfig struct {
	URL                    string `toml:"url"`
	SynthesisSubject       string `toml:"synthesis_subject"`
	TextObjectStoreBucket  string `toml:"text_object_store_bucket"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Server ServerConfig     `toml:"server"`
	LLM    LLMConfig        `toml:"llm"`
	TTS    TTSServiceConfig `toml:"tts_service"`
	NATS   NATSConfig       `toml:"nats"`
	Paths  PathsConfig      `toml:"paths"`
}

// Defaults returns a configuration that runs against a local Ollama and a local XTTS-v2
// HTTP service, which keeps the model loaded between requests.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:                   defaultHost,
			Port:                   defaultPort,
			TempDir:                os.TempDir(),
			MaxBodyBytes:           defaultMaxBodyBytes,
			ShutdownTimeoutSeconds: defaultShutdownSeconds,
			CORSAllowedOrigins:     []string{"*"},
		},
		LLM: LLMConfig{
			API:            LLMAPIOllama,
			URL:            defaultLLMURL,
			Model:          defaultLLMModel,
			APIKey:         "",
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			Temperature:    defaultLLMTemperature,
			MaxTokens:      defaultLLMMaxTokens,
			SystemPrompt:   defaultSystemPrompt,
		},
		TTS: TTSServiceConfig{
			Runtime:             RuntimeHTTP,
			ModelDir:            defaultModelDir,
			ConfigPath:          "",
			BinaryPath:          defaultTTSBinary,
			ServiceURL:          defaultTTSServiceURL,
			DefaultSpeakerWav:   "",
			DefaultSpeakerIdx:   defaultSpeakerIdx,
			VoicesDir:           "",
			UseGPU:              false,
			Temperature:         defaultTTSTemperature,
			TimeoutSeconds:      0,
			MaxConcurrent:       defaultMaxConcurrent,
			MinReferenceSeconds: defaultMinReferenceSeconds,
			DefaultLanguage:     defaultLanguage,
		},
		NATS: NATSConfig{
			URL:                    "",
			SynthesisSubject:       defaultSynthesisSubject,
			TextObjectStoreBucket:  defaultTextBucket,
			AudioObjectStoreBucket: defaultAudioBucket,
		},
		Paths: PathsConfig{
			BaseLogsDir: defaultLogsDir,
		},
	}
}

// Load loads the configuration for the voice-service.
func Load(log *logger.Logger) (*Config, error) {
	dotenvErr := godotenv.Load()
	if dotenvErr != nil {
		log.Info("No .env file loaded, using process environment.")
	}

	cfg := Defaults()

	path := os.Getenv(EnvConfigFile)
	if path != "" {
		fileErr := LoadFile(path, &cfg)
		if fileErr != nil {
			return nil, fileErr
		}

		log.Info("Configuration file %s loaded.", path)
	} else {
		centralErr := configurator.Load(&cfg, log)
		if centralErr != nil {
			log.Warn("Central configuration unavailable, using defaults: %v", centralErr)
		}
	}

	envErr := cfg.ApplyEnv(os.LookupEnv)
	if envErr != nil {
		return nil, envErr
	}

	cfg.Resolve()

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

// LoadFile decodes a TOML file over cfg. Keys absent from the file keep their values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	err = toml.Unmarshal(data, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// ApplyEnv overrides configuration values with the environment, as seen by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		envOllamaURL:         &c.LLM.URL,
		envLLMModel:          &c.LLM.Model,
		envLLMAPI:            &c.LLM.API,
		envLLMAPIKey:         &c.LLM.APIKey,
		envTTSRuntime:        &c.TTS.Runtime,
		envTTSModelDir:       &c.TTS.ModelDir,
		envTTSServiceURL:     &c.TTS.ServiceURL,
		envTTSBinary:         &c.TTS.BinaryPath,
		envDefaultSpeakerWav: &c.TTS.DefaultSpeakerWav,
		envDefaultSpeakerIdx: &c.TTS.DefaultSpeakerIdx,
		envVoicesDir:         &c.TTS.VoicesDir,
		envNATSURL:           &c.NATS.URL,
		envLogDir:            &c.Paths.BaseLogsDir,
	}

	for name, target := range strs {
		value, ok := lookup(name)
		if ok && value != "" {
			*target = strings.TrimSpace(value)
		}
	}

	ints := map[string]*int{
		envPort:       &c.Server.Port,
		envLLMTimeout: &c.LLM.TimeoutSeconds,
	}

	for name, target := range ints {
		value, ok := lookup(name)
		if !ok || value == "" {
			continue
		}

		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidEnvironment, name, value)
		}

		*target = parsed
	}

	gpu, ok := lookup(envTTSUseGPU)
	if ok && gpu != "" {
		parsed, err := strconv.ParseBool(strings.TrimSpace(gpu))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidEnvironment, envTTSUseGPU, gpu)
		}

		c.TTS.UseGPU = parsed
	}

	return nil
}

// Resolve fills the defaults that depend on other values.
func (c *Config) Resolve() {
	if c.TTS.ConfigPath == "" && c.TTS.ModelDir != "" {
		c.TTS.ConfigPath = filepath.Join(c.TTS.ModelDir, "config.json")
	}

	if c.TTS.DefaultSpeakerWav == "" && c.TTS.ModelDir != "" {
		c.TTS.DefaultSpeakerWav = filepath.Join(c.TTS.ModelDir, "samples", "en_sample.wav")
	}

	if c.Server.TempDir == "" {
		c.Server.TempDir = os.TempDir()
	}

	c.LLM.API = strings.ToLower(c.LLM.API)
	c.TTS.Runtime = strings.ToLower(c.TTS.Runtime)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > maxPort {
		return fmt.Errorf("%w: got %d", ErrInvalidPort, c.Server.Port)
	}

	if c.Server.MaxBodyBytes <= 0 {
		return ErrInvalidMaxBodyBytes
	}

	switch c.LLM.API {
	case LLMAPIOllama, LLMAPIOpenAI:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLLMAPI, c.LLM.API)
	}

	if c.LLM.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: got %d", ErrLLMTimeout, c.LLM.TimeoutSeconds)
	}

	switch c.TTS.Runtime {
	case RuntimeCLI:
		if strings.TrimSpace(c.TTS.DefaultSpeakerIdx) == "" {
			return ErrSpeakerIdxRequired
		}
	case RuntimeHTTP:
		if c.TTS.ServiceURL == "" {
			return ErrServiceURLRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRuntime, c.TTS.Runtime)
	}

	if c.TTS.MaxConcurrent < 1 {
		return fmt.Errorf("%w: got %d", ErrMaxConcurrent, c.TTS.MaxConcurrent)
	}

	if c.TTS.MinReferenceSeconds < 0 {
		return ErrInvalidReferenceSecs
	}

	return nil
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ShutdownTimeout returns the graceful shutdown budget.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// Timeout returns the bounded LLM call timeout.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// Timeout returns the inference timeout, zero meaning none.
func (t TTSServiceConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}
