// Package audio provides the WAV handling the synthesis layer needs: a
// silent placeholder writer and a duration reader for cached files.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/book-expert/paperread-tts/internal/fsutil"
)

// Placeholder audio written when no synthesis engine is available.
const (
	StubSampleRate = 22050
	StubChannels   = 1
	StubBitDepth   = 16
	StubDuration   = 500 * time.Millisecond
)

const (
	riffHeaderSize = 12
	chunkHeaderLen = 8
	fmtChunkSize   = 16
	pcmFormat      = 1
	bitsPerByte    = 8
	maxChannels    = 8
	maxSampleRate  = 192000
)

var (
	// ErrInvalidFormat indicates unusable format parameters.
	ErrInvalidFormat = errors.New("invalid audio format")
	// ErrNotWAV indicates the file is not a RIFF/WAVE file.
	ErrNotWAV = errors.New("not a WAV file")
	// ErrMissingChunk indicates a WAV file without fmt or data chunk.
	ErrMissingChunk = errors.New("WAV file is missing a required chunk")
)

// Format describes uncompressed PCM audio.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// StubFormat is the format of the silent placeholder.
func StubFormat() Format {
	return Format{SampleRate: StubSampleRate, Channels: StubChannels, BitDepth: StubBitDepth}
}

// Validate checks that the format parameters are within bounds.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > maxSampleRate {
		return fmt.Errorf("%w: sample rate must be between 1 and %d Hz", ErrInvalidFormat, maxSampleRate)
	}

	if f.Channels <= 0 || f.Channels > maxChannels {
		return fmt.Errorf("%w: channels must be between 1 and %d", ErrInvalidFormat, maxChannels)
	}

	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("%w: bit depth must be 8, 16, 24, or 32", ErrInvalidFormat)
	}

	return nil
}

func (f Format) blockAlign() int {
	return f.Channels * f.BitDepth / bitsPerByte
}

// EncodeSilence returns a complete WAV file of the given duration.
func EncodeSilence(format Format, duration time.Duration) ([]byte, error) {
	err := format.Validate()
	if err != nil {
		return nil, err
	}

	frames := int(int64(format.SampleRate) * duration.Milliseconds() / 1000)
	dataSize := frames * format.blockAlign()

	var buf bytes.Buffer

	buf.Grow(riffHeaderSize + 2*chunkHeaderLen + fmtChunkSize + dataSize)
	buf.WriteString("RIFF")
	writeLE(&buf, uint32(4+2*chunkHeaderLen+fmtChunkSize+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	writeLE(&buf, uint32(fmtChunkSize))
	writeLE(&buf, uint16(pcmFormat))
	writeLE(&buf, uint16(format.Channels))
	writeLE(&buf, uint32(format.SampleRate))
	writeLE(&buf, uint32(format.SampleRate*format.blockAlign()))
	writeLE(&buf, uint16(format.blockAlign()))
	writeLE(&buf, uint16(format.BitDepth))
	buf.WriteString("data")
	writeLE(&buf, uint32(dataSize))
	buf.Write(make([]byte, dataSize))

	return buf.Bytes(), nil
}

// WriteStub writes the silent placeholder to path and returns its duration in
// milliseconds.
func WriteStub(path string) (int, error) {
	data, err := EncodeSilence(StubFormat(), StubDuration)
	if err != nil {
		return 0, err
	}

	err = fsutil.WriteFileAtomic(path, data)
	if err != nil {
		return 0, fmt.Errorf("failed to write stub audio %s: %w", path, err)
	}

	return int(StubDuration.Milliseconds()), nil
}

// DurationMS reads the WAV header at path and returns the playback duration
// in milliseconds.
func DurationMS(path string) (int, error) {
	file, err := os.Open(path) // #nosec G304 -- path comes from the validated cache root
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	return readDuration(file)
}

func readDuration(reader io.Reader) (int, error) {
	header := make([]byte, riffHeaderSize)

	_, err := io.ReadFull(reader, header)
	if err != nil || string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, ErrNotWAV
	}

	var (
		format  Format
		haveFmt bool
	)

	chunkHeader := make([]byte, chunkHeaderLen)

	for {
		_, err = io.ReadFull(reader, chunkHeader)
		if err != nil {
			return 0, ErrMissingChunk
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch chunkID {
		case "fmt ":
			format, err = readFormatChunk(reader, chunkSize)
			if err != nil {
				return 0, err
			}

			haveFmt = true
		case "data":
			if !haveFmt || format.SampleRate == 0 || format.blockAlign() == 0 {
				return 0, ErrMissingChunk
			}

			frames := chunkSize / int64(format.blockAlign())

			return int(frames * 1000 / int64(format.SampleRate)), nil
		default:
			_, err = io.CopyN(io.Discard, reader, chunkSize+chunkSize%2)
			if err != nil {
				return 0, ErrMissingChunk
			}
		}
	}
}

func readFormatChunk(reader io.Reader, size int64) (Format, error) {
	if size < fmtChunkSize {
		return Format{}, ErrMissingChunk
	}

	body := make([]byte, size+size%2)

	_, err := io.ReadFull(reader, body)
	if err != nil {
		return Format{}, ErrMissingChunk
	}

	return Format{
		Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
		SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
		BitDepth:   int(binary.LittleEndian.Uint16(body[14:16])),
	}, nil
}

func writeLE(buf *bytes.Buffer, value any) {
	_ = binary.Write(buf, binary.LittleEndian, value)
}
