package tts

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts/ttsutils"
)

// maxOutputInError caps how much CLI output is copied into an error message.
const maxOutputInError = 2048

// ErrBinaryNotFound is returned when the tts binary is not on PATH.
var ErrBinaryNotFound = errors.New("tts binary not found")

// CLIRuntime implements core.SpeechRuntime by running the Coqui `tts` command against
// a pre-fetched XTTS-v2 model directory. Every call starts a new process, which loads
// the checkpoint again, so it suits development machines; production deployments use
// HTTPRuntime.
type CLIRuntime struct {
	binary     string
	modelDir   string
	configPath string
	speakerIdx string
	useGPU     bool
	log        *logger.Logger
}

// NewCLIRuntime resolves the binary and model directory once at startup.
func NewCLIRuntime(cfg config.TTSServiceConfig, log *logger.Logger) (*CLIRuntime, error) {
	binary, err := exec.LookPath(cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, cfg.BinaryPath, err)
	}

	modelDir, err := ttsutils.ResolveModelDir(cfg.ModelDir)
	if err != nil {
		return nil, err
	}

	return &CLIRuntime{
		binary:     binary,
		modelDir:   modelDir,
		configPath: cfg.ConfigPath,
		speakerIdx: cfg.DefaultSpeakerIdx,
		useGPU:     cfg.UseGPU,
		log:        log,
	}, nil
}

// Name identifies the runtime in health output.
func (p *CLIRuntime) Name() string {
	return "xtts-v2-cli"
}

// Args returns the command line used for params. The text travels as "--text=..." so
// a leading dash is never read as a flag. Without a reference clip the model's
// built-in speaker is selected.
func (p *CLIRuntime) Args(params core.SynthesisParams, outputPath string) []string {
	args := []string{
		"--model_path", p.modelDir,
		"--config_path", p.configPath,
		"--text=" + params.Text,
		"--language_idx", params.Language,
		"--out_path", outputPath,
		"--use_cuda", strconv.FormatBool(p.useGPU),
	}

	if params.SpeakerWavPath != "" {
		return append(args, "--speaker_wav", params.SpeakerWavPath)
	}

	if p.speakerIdx != "" {
		args = append(args, "--speaker_idx", p.speakerIdx)
	}

	return args
}

// Synthesize runs the binary and leaves the wav at outputPath.
func (p *CLIRuntime) Synthesize(ctx context.Context, params core.SynthesisParams, outputPath string) error {
	// #nosec G204 -- binary is resolved from configuration at startup, text is a single argv entry
	cmd := exec.CommandContext(ctx, p.binary, p.Args(params, outputPath)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s execution failed: %w - output: %s",
			core.ErrSynthesisFailed, p.binary, err, tail(string(output), maxOutputInError))
	}

	p.log.Info("tts binary finished for %s", outputPath)

	return nil
}

func tail(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) <= limit {
		return text
	}

	return "..." + text[len(text)-limit:]
}
