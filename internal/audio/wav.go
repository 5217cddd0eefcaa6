package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the size of a canonical RIFF/WAVE header with one fmt chunk
const wavHeaderSize = 44

var (
	// ErrNotWAV is returned for data without a RIFF/WAVE signature
	ErrNotWAV = errors.New("not a RIFF/WAVE file")

	// ErrUnsupportedWAV is returned by DecodeWAV for anything but mono 16-bit PCM
	ErrUnsupportedWAV = errors.New("unsupported WAV encoding")
)

// WAVInfo describes the format of a WAV payload
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	AudioFormat   uint16  `json:"audio_format"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
}

// IsTargetFormat reports whether the WAV already is mono 16-bit PCM at sampleRate
func (i *WAVInfo) IsTargetFormat(sampleRate int) bool {
	return i.AudioFormat == 1 && i.Channels == 1 && i.BitsPerSample == 16 && int(i.SampleRate) == sampleRate
}

// EncodeWAV encodes PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, errors.New("encode wav: no samples")
	}
	return WrapPCM(SamplesToBytes(samples), sampleRate)
}

// WrapPCM prepends a mono 16-bit WAV header to raw little-endian PCM bytes
func WrapPCM(pcm []byte, sampleRate int) ([]byte, error) {
	switch {
	case len(pcm) == 0:
		return nil, errors.New("wrap pcm: no data")
	case len(pcm)%2 != 0:
		return nil, fmt.Errorf("wrap pcm: odd byte count %d", len(pcm))
	case sampleRate <= 0:
		return nil, fmt.Errorf("wrap pcm: invalid sample rate %d", sampleRate)
	}

	const (
		channels   = 1
		bitDepth   = 16
		blockAlign = channels * bitDepth / 8
	)

	out := make([]byte, wavHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(out[0:4], "RIFF")
	le.PutUint32(out[4:8], uint32(wavHeaderSize-8+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	le.PutUint32(out[16:20], 16)
	le.PutUint16(out[20:22], 1) // linear PCM
	le.PutUint16(out[22:24], channels)
	le.PutUint32(out[24:28], uint32(sampleRate))
	le.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	le.PutUint16(out[32:34], blockAlign)
	le.PutUint16(out[34:36], bitDepth)

	copy(out[36:40], "data")
	le.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[wavHeaderSize:], pcm)

	return out, nil
}

// DecodeWAV decodes a mono 16-bit WAV back to PCM-16 samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	pcm, info, err := ExtractPCM(data)
	if err != nil {
		return nil, 0, err
	}

	if info.AudioFormat != 1 || info.BitsPerSample != 16 || info.Channels != 1 {
		return nil, 0, fmt.Errorf("%w: format %d, %d channels, %d bits",
			ErrUnsupportedWAV, info.AudioFormat, info.Channels, info.BitsPerSample)
	}
	if len(pcm) < 2 {
		return nil, 0, errors.New("decode wav: empty data chunk")
	}

	return BytesToSamples(pcm), int(info.SampleRate), nil
}

// ExtractPCM walks the RIFF chunks and returns the data chunk with its format.
// Browsers and converters may insert LIST or fact chunks before "data".
func ExtractPCM(data []byte) ([]byte, *WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, nil, err
	}

	var info *WAVInfo
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, nil, fmt.Errorf("%w: truncated fmt chunk", ErrNotWAV)
			}
			info = &WAVInfo{
				AudioFormat:   binary.LittleEndian.Uint16(data[body : body+2]),
				Channels:      binary.LittleEndian.Uint16(data[body+2 : body+4]),
				SampleRate:    binary.LittleEndian.Uint32(data[body+4 : body+8]),
				BitsPerSample: binary.LittleEndian.Uint16(data[body+14 : body+16]),
			}
		case "data":
			if info == nil {
				return nil, nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			end := body + size
			// streamed WAVs often carry a placeholder size
			if end > len(data) || size == 0 {
				end = len(data)
			}
			pcm := data[body:end]
			info.DataSize = uint32(len(pcm))
			if info.SampleRate > 0 && info.Channels > 0 && info.BitsPerSample > 0 {
				frameBytes := float64(info.Channels) * float64(info.BitsPerSample) / 8
				info.Duration = float64(len(pcm)) / frameBytes / float64(info.SampleRate)
			}
			return pcm, info, nil
		}

		// chunks are word aligned
		offset = body + size + size%2
	}

	return nil, nil, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}

// ValidateWAV checks the RIFF/WAVE signature without decoding audio data
func ValidateWAV(data []byte) error {
	if len(data) < 12 {
		return fmt.Errorf("%w: %d bytes", ErrNotWAV, len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return ErrNotWAV
	}
	return nil
}

// IsWAV reports whether data starts with a RIFF/WAVE signature
func IsWAV(data []byte) bool {
	return ValidateWAV(data) == nil
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	_, info, err := ExtractPCM(data)
	if err != nil {
		return nil, err
	}
	return info, nil
}
