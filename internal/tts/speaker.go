package tts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/voice-service/internal/core"
	"github.com/book-expert/voice-service/internal/tts/audio"
	"github.com/book-expert/voice-service/internal/tts/ttsutils"
)

// speakerRef is a reference clip ready for the runtime. release removes any
// intermediate file created for it.
type speakerRef struct {
	path    string
	release func()
}

func noReference() speakerRef {
	return speakerRef{path: "", release: func() {}}
}

// resolveSpeaker turns a request's speaker_wav into a path the runtime can read.
// An empty request falls back to the default speaker, or to the built-in voice when
// the default is not installed.
func (s *Service) resolveSpeaker(requested string) (speakerRef, error) {
	if requested == "" {
		return s.defaultSpeaker()
	}

	path := ttsutils.ResolveUnder(s.opts.VoicesDir, requested)

	err := checkReadableAudio(path)
	if err != nil {
		return noReference(), err
	}

	return s.prepareReference(path)
}

func (s *Service) defaultSpeaker() (speakerRef, error) {
	path := s.opts.DefaultSpeakerWav
	if path == "" {
		return noReference(), nil
	}

	err := checkReadableAudio(path)
	if err != nil {
		s.log.Warn("Default speaker %s unavailable, using the built-in voice: %v", path, err)

		return noReference(), nil
	}

	return s.prepareReference(path)
}

// prepareReference enforces the minimum clip length and transcodes mp3 clips to wav.
func (s *Service) prepareReference(path string) (speakerRef, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".wav" && ext != ".mp3" {
		return speakerRef{path: path, release: func() {}}, nil
	}

	duration, err := audio.ReferenceDuration(path)
	if err != nil {
		return noReference(), fmt.Errorf("%w: speaker_wav %s is not readable audio: %w",
			core.ErrInvalidInput, filepath.Base(path), err)
	}

	if duration < s.opts.MinReference {
		return noReference(), fmt.Errorf("%w: speaker_wav %s is %s long, at least %s required",
			core.ErrInvalidInput, filepath.Base(path),
			ttsutils.FormatDuration(duration.Seconds()),
			ttsutils.FormatDuration(s.opts.MinReference.Seconds()))
	}

	if ext == ".wav" {
		return speakerRef{path: path, release: func() {}}, nil
	}

	converted, err := os.CreateTemp(s.opts.TempDir, "ref-*.wav")
	if err != nil {
		return noReference(), fmt.Errorf("%w: failed to create reference file: %w", core.ErrSynthesisFailed, err)
	}

	convertedPath := converted.Name()
	_ = converted.Close()

	release := func() {
		removeErr := os.Remove(convertedPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn("Failed to remove temp file '%s': %v", convertedPath, removeErr)
		}
	}

	_, err = audio.TranscodeMP3ToWAV(path, convertedPath)
	if err != nil {
		release()

		return noReference(), fmt.Errorf("%w: speaker_wav %s could not be decoded: %w",
			core.ErrInvalidInput, filepath.Base(path), err)
	}

	return speakerRef{path: convertedPath, release: release}, nil
}

func checkReadableAudio(path string) error {
	if !ttsutils.IsValidAudioFile(path) {
		return fmt.Errorf("%w: speaker_wav %s is not an audio file", core.ErrInvalidInput, filepath.Base(path))
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: speaker_wav %s not found", core.ErrInvalidInput, path)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: speaker_wav %s is not a regular file", core.ErrInvalidInput, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: speaker_wav %s is not readable", core.ErrInvalidInput, path)
	}

	return file.Close()
}
