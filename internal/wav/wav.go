// Package wav encodes captured PCM into RIFF/WAVE payloads for upload and
// decodes WAV files used as replayable capture sources.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the canonical 44-byte PCM header written by Encode.
const HeaderSize = 44

// MIMEType is the content type attached to encoded chunks.
const MIMEType = "audio/wav"

var (
	// ErrEmpty is returned when there are no samples to encode.
	ErrEmpty = errors.New("wav: no samples")

	// ErrUnsupported is returned for non-PCM or non-16-bit input.
	ErrUnsupported = errors.New("wav: unsupported format")
)

type header struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	FmtID         [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

// Info describes a decoded WAV payload.
type Info struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	NumSamples    int     `json:"num_samples"`
	Duration      float64 `json:"duration_seconds"`
}

// Encode wraps mono PCM-16 samples in a canonical WAV container.
func Encode(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, ErrEmpty
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wav: sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * 2)
	h := header{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * 2,
		BlockAlign:    2,
		BitsPerSample: 16,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+int(dataSize)))
	if err := binary.Write(buf, binary.LittleEndian, h); err != nil {
		return nil, fmt.Errorf("wav: write header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("wav: write samples: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a PCM-16 WAV file and returns mono samples. Multi-channel
// input is downmixed by averaging. Chunks other than "fmt " and "data"
// (LIST, fact, ...) are skipped.
func Decode(data []byte) ([]int16, Info, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Info{}, fmt.Errorf("wav: missing RIFF/WAVE header")
	}

	var (
		info    Info
		gotFmt  bool
		payload []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, Info{}, fmt.Errorf("wav: fmt chunk too short (%d bytes)", end-body)
			}
			if format := binary.LittleEndian.Uint16(data[body:]); format != 1 {
				return nil, Info{}, fmt.Errorf("%w: audio format %d", ErrUnsupported, format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			gotFmt = true
		case "data":
			payload = data[body:end]
		}

		// chunks are word aligned
		off = body + size + size%2
	}

	if !gotFmt {
		return nil, Info{}, fmt.Errorf("wav: missing fmt chunk")
	}
	if payload == nil {
		return nil, Info{}, fmt.Errorf("wav: missing data chunk")
	}
	if info.BitsPerSample != 16 {
		return nil, Info{}, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, info.BitsPerSample)
	}
	if info.Channels < 1 || info.SampleRate <= 0 {
		return nil, Info{}, fmt.Errorf("wav: invalid channels=%d sample_rate=%d", info.Channels, info.SampleRate)
	}

	frames := len(payload) / (2 * info.Channels)
	if frames == 0 {
		return nil, Info{}, ErrEmpty
	}
	samples := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < info.Channels; ch++ {
			p := (i*info.Channels + ch) * 2
			sum += int32(int16(binary.LittleEndian.Uint16(payload[p:])))
		}
		samples[i] = int16(sum / int32(info.Channels))
	}

	info.NumSamples = frames
	info.Duration = float64(frames) / float64(info.SampleRate)
	return samples, info, nil
}
