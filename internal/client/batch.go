package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/tts"
	"golang.org/x/sync/errgroup"
)

// HealthCheckTimeout bounds the health probe that runs before a batch.
const HealthCheckTimeout = 10 * time.Second

const (
	filePermissions  = 0o600
	dirPermissions   = 0o750
	outputFileFormat = "chunk_%04d.wav"
)

// Static errors.
var (
	ErrChunksPathEmpty = errors.New("chunks path cannot be empty")
	ErrOutputDirEmpty  = errors.New("output directory cannot be empty")
	ErrTextEmpty       = errors.New("text cannot be empty")
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
	ErrNoChunksFound   = errors.New("no chunks found")
	ErrServiceDegraded = errors.New("voice service is degraded")
)

// BatchOptions apply to every chunk of a batch.
type BatchOptions struct {
	Workers    int
	SpeakerWav string
	Language   string
}

// BatchEngine synthesizes a JSON file of text chunks into numbered wav files.
type BatchEngine struct {
	client *Client
	opts   BatchOptions
	log    *logger.Logger
}

// NewBatchEngine creates an engine that sends at most opts.Workers requests at once.
func NewBatchEngine(client *Client, opts BatchOptions, log *logger.Logger) *BatchEngine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	return &BatchEngine{client: client, opts: opts, log: log}
}

// ProcessChunks reads chunksPath and writes chunk_0001.wav, chunk_0002.wav, ... to
// outputDir. A failed chunk does not stop the others; the last failure is returned.
func (e *BatchEngine) ProcessChunks(ctx context.Context, chunksPath, outputDir string) error {
	if chunksPath == "" {
		return ErrChunksPathEmpty
	}

	if outputDir == "" {
		return ErrOutputDirEmpty
	}

	chunks, err := readChunksFile(chunksPath)
	if err != nil {
		return fmt.Errorf("failed to read chunks: %w", err)
	}

	err = os.MkdirAll(outputDir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	err = e.checkServiceHealth(ctx)
	if err != nil {
		return err
	}

	e.log.Info("Voice service is healthy, processing %d chunks with %d workers", len(chunks), e.opts.Workers)

	return e.processChunksParallel(ctx, chunks, outputDir)
}

// ProcessSingleChunk synthesizes text into outputPath.
func (e *BatchEngine) ProcessSingleChunk(ctx context.Context, text, outputPath string) error {
	if text == "" {
		return ErrTextEmpty
	}

	if outputPath == "" {
		return ErrOutputPathEmpty
	}

	err := os.MkdirAll(filepath.Dir(outputPath), dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	audioData, err := e.client.Synthesize(ctx, tts.SynthesisRequest{
		Text:       text,
		SpeakerWav: e.opts.SpeakerWav,
		Language:   e.opts.Language,
	})
	if err != nil {
		return fmt.Errorf("failed to generate speech: %w", err)
	}

	err = os.WriteFile(outputPath, audioData, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	e.log.Info("Generated audio: %s (%d bytes)", outputPath, len(audioData))

	return nil
}

func (e *BatchEngine) checkServiceHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
	defer cancel()

	health, err := e.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("voice service health check failed: %w", err)
	}

	if health.RuntimeError != "" {
		return fmt.Errorf("%w: %s", ErrServiceDegraded, health.RuntimeError)
	}

	return nil
}

// readChunksFile parses a JSON array of strings.
func readChunksFile(chunksPath string) ([]string, error) {
	data, err := os.ReadFile(chunksPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoChunksFound, chunksPath)
	}

	return chunks, nil
}

func (e *BatchEngine) processChunksParallel(ctx context.Context, chunks []string, outputDir string) error {
	var (
		group     errgroup.Group
		mutex     sync.Mutex
		lastError error
	)

	group.SetLimit(e.opts.Workers)

	for chunkIndex, chunk := range chunks {
		group.Go(func() error {
			outputPath := filepath.Join(outputDir, fmt.Sprintf(outputFileFormat, chunkIndex+1))

			err := e.ProcessSingleChunk(ctx, chunk, outputPath)
			if err != nil {
				mutex.Lock()
				lastError = fmt.Errorf("chunk %d failed: %w", chunkIndex+1, err)
				mutex.Unlock()

				e.log.Error("Failed to process chunk %d: %v", chunkIndex+1, err)

				return nil
			}

			e.log.Info("Processed chunk %d/%d", chunkIndex+1, len(chunks))

			return nil
		})
	}

	_ = group.Wait()

	return lastError
}
