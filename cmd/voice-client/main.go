// main package for the voice-client command line tool
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/chat"
	"github.com/book-expert/voice-service/internal/client"
	"github.com/book-expert/voice-service/internal/server"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/spf13/cobra"
)

const (
	defaultServerURL  = "http://localhost:5000"
	defaultTimeout    = 5 * time.Minute
	defaultOutputFile = "output.wav"
	logFileName       = "voice-client.log"
	filePermissions   = 0o600
	dirPermissions    = 0o750
)

var (
	errTextRequired    = errors.New("--text is required")
	errMessageRequired = errors.New("--message is required")
	errChunksRequired  = errors.New("--chunks is required")
)

// app holds the persistent flags shared by every command.
type app struct {
	serverURL string
	timeout   time.Duration
	logDir    string
	out       io.Writer
}

func (a *app) client() *client.Client {
	return client.New(a.serverURL, a.timeout)
}

func newRootCmd(out io.Writer) *cobra.Command {
	state := &app{out: out}

	rootCmd := &cobra.Command{
		Use:           "voice-client",
		Short:         "Command line client for the voice service",
		Long:          "voice-client sends text-to-speech and chat requests to a running voice service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVar(&state.serverURL, "server", defaultServerURL, "Voice service base URL")
	rootCmd.PersistentFlags().DurationVar(&state.timeout, "timeout", defaultTimeout, "Per-request timeout")
	rootCmd.PersistentFlags().StringVar(&state.logDir, "log-dir", os.TempDir(), "Directory for the client log")

	rootCmd.AddCommand(newTTSCmd(state), newChatCmd(state), newBatchCmd(state), newHealthCmd(state))

	return rootCmd
}

func newTTSCmd(state *app) *cobra.Command {
	var (
		req    tts.SynthesisRequest
		output string
	)

	cmd := &cobra.Command{
		Use:   "tts",
		Short: "Synthesize text into a wav file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Text == "" {
				return errTextRequired
			}

			wav, err := state.client().Synthesize(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("failed to process text: %w", err)
			}

			return writeAudio(state.out, output, wav)
		},
	}

	cmd.Flags().StringVar(&req.Text, "text", "", "Text to convert to speech")
	cmd.Flags().StringVar(&req.SpeakerWav, "speaker", "", "Speaker reference clip on the service host")
	cmd.Flags().StringVar(&req.Language, "language", "", "Language code (default: service default)")
	cmd.Flags().StringVarP(&output, "output", "o", defaultOutputFile, "Output file path (.wav)")

	return cmd
}

func newChatCmd(state *app) *cobra.Command {
	var (
		req      chat.Request
		output   string
		textOnly bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask the LLM and save or print its answer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if req.Message == "" {
				return errMessageRequired
			}

			if textOnly {
				reply, err := state.client().ChatText(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("chat failed: %w", err)
				}

				fmt.Fprintln(state.out, reply.Reply)

				return nil
			}

			wav, err := state.client().Speak(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("chat failed: %w", err)
			}

			return writeAudio(state.out, output, wav)
		},
	}

	cmd.Flags().StringVar(&req.Message, "message", "", "Message for the LLM")
	cmd.Flags().StringVar(&req.SystemPrompt, "system", "", "System prompt override")
	cmd.Flags().StringVar(&req.SpeakerWav, "speaker", "", "Speaker reference clip on the service host")
	cmd.Flags().StringVar(&req.Language, "language", "", "Language code (default: service default)")
	cmd.Flags().StringVarP(&output, "output", "o", "response.wav", "Output file path (.wav)")
	cmd.Flags().BoolVar(&textOnly, "text-only", false, "Print the reply instead of synthesizing it")

	return cmd
}

func newBatchCmd(state *app) *cobra.Command {
	var (
		opts      client.BatchOptions
		chunks    string
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Synthesize a JSON array of text chunks into numbered wav files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if chunks == "" {
				return errChunksRequired
			}

			log, err := logger.New(state.logDir, logFileName)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer log.Close()

			log.Info("Processing chunks from %s into %s", chunks, outputDir)

			engine := client.NewBatchEngine(state.client(), opts, log)

			err = engine.ProcessChunks(cmd.Context(), chunks, outputDir)
			if err != nil {
				return fmt.Errorf("failed to process chunks: %w", err)
			}

			fmt.Fprintf(state.out, "Generated audio files in: %s\n", outputDir)

			return nil
		},
	}

	cmd.Flags().StringVar(&chunks, "chunks", "", "JSON file containing text chunks to process")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "output", "Output directory")
	cmd.Flags().IntVar(&opts.Workers, "workers", 1, "Concurrent requests")
	cmd.Flags().StringVar(&opts.SpeakerWav, "speaker", "", "Speaker reference clip on the service host")
	cmd.Flags().StringVar(&opts.Language, "language", "", "Language code (default: service default)")

	return cmd
}

func newHealthCmd(state *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check voice service health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), client.HealthCheckTimeout)
			defer cancel()

			health, err := state.client().Health(ctx)
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			fmt.Fprintf(state.out, "status:  %s\nmodel:   %s (%s)\nllm:     %s\nuptime:  %.0fs\n",
				health.Status, health.Model, health.Runtime, health.LLMModel, health.UptimeSeconds)

			if health.Status != server.StatusHealthy {
				return fmt.Errorf("%w: %s", client.ErrServiceDegraded, health.RuntimeError)
			}

			return nil
		},
	}
}

func writeAudio(out io.Writer, path string, wav []byte) error {
	err := os.MkdirAll(filepath.Dir(path), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	err = os.WriteFile(path, wav, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	fmt.Fprintf(out, "Generated: %s (%d bytes)\n", path, len(wav))

	return nil
}

func main() {
	err := newRootCmd(os.Stdout).ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
