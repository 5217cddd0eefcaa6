package audio

import (
	"encoding/binary"
	"time"
)

// BytesPerSample is the width of one mono s16le sample
const BytesPerSample = 2

// BytesToSamples converts little-endian PCM bytes to samples, dropping a trailing odd byte
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// SamplesToBytes converts samples to little-endian PCM bytes
func SamplesToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// Duration returns the playback length of a mono s16le buffer
func Duration(pcmBytes, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := pcmBytes / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Frames splits PCM into consecutive frames of at most frameBytes, keeping sample alignment
func Frames(pcm []byte, frameBytes int) [][]byte {
	if frameBytes < BytesPerSample {
		frameBytes = BytesPerSample
	}
	frameBytes -= frameBytes % BytesPerSample

	frames := make([][]byte, 0, len(pcm)/frameBytes+1)
	for start := 0; start < len(pcm); start += frameBytes {
		end := start + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		frames = append(frames, pcm[start:end])
	}
	return frames
}
