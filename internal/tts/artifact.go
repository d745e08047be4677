package tts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Artifact is a synthesized wav held in a temporary file. The caller owns it and must
// Close it, which also removes the file.
type Artifact struct {
	file     *os.File
	size     int64
	duration time.Duration

	closeOnce sync.Once
	closeErr  error
}

func openArtifact(path string, duration time.Duration) (*Artifact, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}

	return &Artifact{file: file, size: stat.Size(), duration: duration}, nil
}

// Read implements io.Reader over the wav bytes.
func (a *Artifact) Read(p []byte) (int, error) {
	return a.file.Read(p)
}

// Size returns the file size in bytes.
func (a *Artifact) Size() int64 {
	return a.size
}

// Duration returns the audio duration.
func (a *Artifact) Duration() time.Duration {
	return a.duration
}

// Path returns the location of the temporary file.
func (a *Artifact) Path() string {
	return a.file.Name()
}

// Bytes reads the whole artifact from the start.
func (a *Artifact) Bytes() ([]byte, error) {
	_, err := a.file.Seek(0, io.SeekStart)
	if err != nil {
		return nil, fmt.Errorf("failed to rewind artifact: %w", err)
	}

	data, err := io.ReadAll(a.file)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	return data, nil
}

// Close closes and removes the temporary file. It is safe to call more than once.
func (a *Artifact) Close() error {
	a.closeOnce.Do(func() {
		closeErr := a.file.Close()
		removeErr := os.Remove(a.file.Name())

		if errors.Is(removeErr, os.ErrNotExist) {
			removeErr = nil
		}

		a.closeErr = errors.Join(closeErr, removeErr)
	})

	return a.closeErr
}
