// main package for the voice-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/chat"
	"github.com/book-expert/voice-service/internal/config"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/llm"
	"github.com/book-expert/voice-service/internal/objectstore"
	"github.com/book-expert/voice-service/internal/server"
	"github.com/book-expert/voice-service/internal/tts"
	"github.com/book-expert/voice-service/internal/tts/ttsutils"
	"github.com/book-expert/voice-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"
)

const (
	bootstrapLogFile  = "voice-service-bootstrap.log"
	serviceLogFile    = "voice-service.log"
	readHeaderTimeout = 10 * time.Second
	natsSetupTimeout  = 10 * time.Second
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

// newRuntime builds the process-wide speech runtime. The HTTP runtime talks to an
// XTTS-v2 service that keeps the model loaded; the CLI runtime reloads it per request.
func newRuntime(cfg config.TTSServiceConfig, log *logger.Logger) (core.SpeechRuntime, error) {
	if cfg.Runtime == config.RuntimeHTTP {
		return tts.NewHTTPRuntime(cfg.ServiceURL, cfg.Timeout()), nil
	}

	runtime, err := tts.NewCLIRuntime(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to set up XTTS-v2 cli: %w", err)
	}

	log.Warn("TTS runtime %q starts a new process for every request and loads the model each time; "+
		"use runtime %q in production", config.RuntimeCLI, config.RuntimeHTTP)

	return runtime, nil
}

func run() error {
	// 1. Bootstrap logger until the configured log directory is known.
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}
	defer bootstrapLog.Close()

	// 2. Configuration.
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Final logger.
	err = ttsutils.EnsureDir(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create log directory: %v", err)

		return err
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Model and services.
	runtime, err := newRuntime(cfg.TTS, log)
	if err != nil {
		log.Error("%v", err)

		return err
	}

	synth, err := tts.NewService(runtime, tts.OptionsFromConfig(cfg.TTS, cfg.Server.TempDir), log)
	if err != nil {
		return fmt.Errorf("failed to create synthesis service: %w", err)
	}

	completer, err := llm.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}

	chatService, err := chat.NewService(completer, synth, cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("failed to create chat service: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)

	srv, err := server.New(server.Dependencies{
		Config:      cfg.Server,
		Synthesizer: synth,
		Chat:        chatService,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}

	// 5. Serve until SIGINT or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group.Go(func() error {
		log.System("Voice service listening on %s (runtime %s, LLM %s %s)", httpServer.Addr, runtime.Name(),
			cfg.LLM.API, completer.Model())

		serveErr := httpServer.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
		defer cancel()

		log.Info("Shutting down HTTP server")

		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.NATS.URL != "" {
		natsConnection, natsErr := startWorker(groupCtx, group, cfg, synth, log)
		if natsErr != nil {
			stop()
			_ = group.Wait()

			return natsErr
		}
		defer natsConnection.Close()
	}

	err = group.Wait()
	if err != nil {
		log.Error("Voice service stopped with error: %v", err)

		return err
	}

	log.System("Voice service stopped")

	return nil
}

// startWorker connects to NATS and runs the synthesis worker on group.
func startWorker(
	ctx context.Context,
	group *errgroup.Group,
	cfg *config.Config,
	synth *tts.Service,
	log *logger.Logger,
) (*nats.Conn, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("voice-service"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	js, err := jetstream.New(natsConnection)
	if err != nil {
		natsConnection.Close()

		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, natsSetupTimeout)
	defer cancel()

	textStore, err := objectstore.New(setupCtx, js, cfg.NATS.TextObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	audioStore, err := objectstore.New(setupCtx, js, cfg.NATS.AudioObjectStoreBucket)
	if err != nil {
		natsConnection.Close()

		return nil, err
	}

	natsWorker := worker.NewNatsWorker(natsConnection, worker.Options{
		Subject:    cfg.NATS.SynthesisSubject,
		TextStore:  textStore,
		AudioStore: audioStore,
		Language:   cfg.TTS.DefaultLanguage,
	}, synth, log)

	group.Go(func() error {
		return natsWorker.Run(ctx)
	})

	log.Info("Connected to NATS at %s (text bucket %s, audio bucket %s)", cfg.NATS.URL,
		textStore.Bucket(), audioStore.Bucket())

	return natsConnection, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
