// Package audio reads materialized input files for the processors. Only
// PCM WAV is handled here; resampling and the rest of the audio pipeline
// live with the recognition engine.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// ReadWAV decodes a 16-bit PCM WAV file into mono float32 samples in
// [-1, 1] and returns them with the sample rate. Multi-channel input is
// averaged down to mono.
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return DecodeWAV(f)
}

// DecodeWAV is ReadWAV over an arbitrary reader.
func DecodeWAV(r io.Reader) ([]float32, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, ErrNotWAV
	}

	var (
		channels   int
		sampleRate int
		bitDepth   int
		haveFmt    bool
	)

	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, 0, errors.New("wav file has no data chunk")
			}
			return nil, 0, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, 0, errors.New("fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav format %d, only PCM is handled", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bitDepth = int(binary.LittleEndian.Uint16(body[14:16]))
			if channels < 1 {
				return nil, 0, errors.New("wav file has no channels")
			}
			if bitDepth != 16 {
				return nil, 0, fmt.Errorf("unsupported bit depth %d, only 16-bit PCM is handled", bitDepth)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, errors.New("data chunk before fmt chunk")
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("read data chunk: %w", err)
			}
			return decodePCM16(body, channels), sampleRate, nil
		default:
			// skip LIST, INFO and friends; chunks are word-aligned
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return nil, 0, fmt.Errorf("skip %s chunk: %w", id, err)
			}
		}
	}
}

func decodePCM16(data []byte, channels int) []float32 {
	frameBytes := 2 * channels
	frames := len(data) / frameBytes
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			off := i*frameBytes + c*2
			v := int16(binary.LittleEndian.Uint16(data[off : off+2]))
			sum += float32(v) / 32768.0
		}
		samples[i] = sum / float32(channels)
	}
	return samples
}
