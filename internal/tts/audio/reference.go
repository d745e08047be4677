package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always decodes to interleaved 16-bit stereo.
const (
	mp3Channels      = 2
	mp3BytesPerFrame = mp3Channels * bytesPerInt16
	filePermissions  = 0o600
)

// ReferenceDuration measures a voice-cloning reference clip. Only .wav and .mp3 can be
// measured; other types return ErrUnsupportedType.
func ReferenceDuration(path string) (time.Duration, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		info, err := InspectFile(path)
		if err != nil {
			return 0, err
		}

		return info.Duration, nil
	case ".mp3":
		return MP3Duration(path)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
}

// MP3Duration returns the decoded length of an mp3 file.
func MP3Duration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	decoder, err := mp3.NewDecoder(file)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	length := decoder.Length()
	if length <= 0 {
		return 0, ErrEmptyAudio
	}

	frames := length / mp3BytesPerFrame
	seconds := float64(frames) / float64(decoder.SampleRate())

	return time.Duration(seconds * float64(time.Second)), nil
}

// TranscodeMP3ToWAV decodes srcPath and writes it to dstPath as 16-bit stereo WAV.
func TranscodeMP3ToWAV(srcPath, dstPath string) (Info, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer src.Close()

	decoder, err := mp3.NewDecoder(src)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	var pcm bytes.Buffer

	_, err = io.Copy(&pcm, decoder)
	if err != nil {
		return Info{}, fmt.Errorf("failed to decode %s: %w", srcPath, err)
	}

	if pcm.Len() == 0 {
		return Info{}, ErrEmptyAudio
	}

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermissions)
	if err != nil {
		return Info{}, fmt.Errorf("failed to create %s: %w", dstPath, err)
	}

	writeErr := writeHeader(dst, decoder.SampleRate(), mp3Channels, BitDepth16, int64(pcm.Len()))
	if writeErr == nil {
		_, writeErr = pcm.WriteTo(dst)
	}

	closeErr := dst.Close()

	if writeErr != nil {
		return Info{}, fmt.Errorf("failed to write %s: %w", dstPath, writeErr)
	}

	if closeErr != nil {
		return Info{}, fmt.Errorf("failed to close %s: %w", dstPath, closeErr)
	}

	return InspectFile(dstPath)
}
