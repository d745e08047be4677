// Package audio provides WAV inspection, PCM encoding and reference clip handling for
// the speech runtime's input and output files.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Limits for a plausible PCM stream.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

// Supported bit depths.
const (
	BitDepth8  = 8
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	fmtChunkMinSize = 16
	wavHeaderSize   = 44
	pcmFormatTag    = 1
	bitsPerByte     = 8
	bytesPerInt16   = 2
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bit depth must be 8, 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
)

// Common errors for the audio package.
var (
	ErrNotWAV          = errors.New("not a RIFF/WAVE file")
	ErrMissingChunk    = errors.New("missing wav chunk")
	ErrInvalidFormat   = errors.New("invalid audio format")
	ErrEmptyAudio      = errors.New("audio contains no samples")
	ErrUnsupportedType = errors.New("unsupported audio file type")
)

// Info describes the PCM stream inside a WAV file.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	DataBytes  int64
	Duration   time.Duration
}

// Inspect parses the RIFF chunk list of a WAV file of the given size and validates
// that it carries a usable, non-empty PCM stream.
func Inspect(reader io.ReaderAt, size int64) (Info, error) {
	var info Info

	header := make([]byte, riffHeaderSize)

	_, err := reader.ReadAt(header, 0)
	if err != nil {
		return info, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}

	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return info, ErrNotWAV
	}

	var (
		foundFmt  bool
		foundData bool
		byteRate  int64
	)

	pos := int64(riffHeaderSize)
	chunk := make([]byte, chunkHeaderSize)

	for pos+chunkHeaderSize <= size && !(foundFmt && foundData) {
		_, readErr := reader.ReadAt(chunk, pos)
		if readErr != nil {
			return info, fmt.Errorf("failed to read chunk header at %d: %w", pos, readErr)
		}

		chunkID := string(chunk[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		body := pos + chunkHeaderSize

		switch chunkID {
		case "fmt ":
			if chunkSize < fmtChunkMinSize {
				return info, fmt.Errorf("%w: fmt chunk too short", ErrInvalidFormat)
			}

			fmtBody := make([]byte, fmtChunkMinSize)

			_, readErr = reader.ReadAt(fmtBody, body)
			if readErr != nil {
				return info, fmt.Errorf("failed to read fmt chunk: %w", readErr)
			}

			info.Channels = int(binary.LittleEndian.Uint16(fmtBody[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtBody[4:8]))
			byteRate = int64(binary.LittleEndian.Uint32(fmtBody[8:12]))
			info.BitDepth = int(binary.LittleEndian.Uint16(fmtBody[14:16]))
			foundFmt = true
		case "data":
			// Streaming writers may leave the size unset; trust the file length instead.
			remaining := size - body
			if chunkSize > remaining {
				chunkSize = remaining
			}

			info.DataBytes = chunkSize
			foundData = true
		}

		pos = body + chunkSize + chunkSize%2
	}

	if !foundFmt {
		return info, fmt.Errorf("%w: fmt", ErrMissingChunk)
	}

	if !foundData {
		return info, fmt.Errorf("%w: data", ErrMissingChunk)
	}

	formatErr := validateFormat(info)
	if formatErr != nil {
		return info, formatErr
	}

	if byteRate <= 0 {
		byteRate = int64(info.SampleRate * info.Channels * info.BitDepth / bitsPerByte)
	}

	if info.DataBytes == 0 {
		return info, ErrEmptyAudio
	}

	info.Duration = time.Duration(float64(info.DataBytes) / float64(byteRate) * float64(time.Second))

	return info, nil
}

// InspectFile runs Inspect against a file on disk.
func InspectFile(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return Inspect(file, stat.Size())
}

// EncodePCM16 writes interleaved 16-bit samples as a canonical 44-byte-header WAV.
func EncodePCM16(writer io.Writer, samples []int16, sampleRate, channels int) error {
	formatErr := validateFormat(Info{SampleRate: sampleRate, Channels: channels, BitDepth: BitDepth16})
	if formatErr != nil {
		return formatErr
	}

	dataBytes := int64(len(samples) * bytesPerInt16)

	headerErr := writeHeader(writer, sampleRate, channels, BitDepth16, dataBytes)
	if headerErr != nil {
		return headerErr
	}

	err := binary.Write(writer, binary.LittleEndian, samples)
	if err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}

	return nil
}

func writeHeader(writer io.Writer, sampleRate, channels, bitDepth int, dataBytes int64) error {
	blockAlign := channels * bitDepth / bitsPerByte

	header := make([]byte, wavHeaderSize)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(wavHeaderSize-chunkHeaderSize+dataBytes))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], fmtChunkMinSize)
	binary.LittleEndian.PutUint16(header[20:22], pcmFormatTag)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitDepth))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataBytes))

	_, err := writer.Write(header)
	if err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}

	return nil
}

//
// Validation Helpers
//

func validateFormat(info Info) error {
	if info.SampleRate <= 0 || info.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, MaxSampleRate, info.SampleRate)
	}

	switch info.BitDepth {
	case BitDepth8, BitDepth16, BitDepth24, BitDepth32:
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidFormat, info.BitDepth)
	}

	if info.Channels <= 0 || info.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, MaxChannels, info.Channels)
	}

	return nil
}
