package vad

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
)

// energyScale maps RMS energy to a 0-1 probability
const energyScale = 10000.0

// Detector scores PCM windows for voice activity.
// A Detector only keeps aggregate statistics, so one instance can serve concurrent requests.
type Detector struct {
	threshold     float32
	windowSize    int // samples per window
	minVoiceRatio float64

	// Statistics
	totalBuffers  uint64
	speechBuffers uint64
	totalWindows  uint64
	voiceWindows  uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// WindowResult represents the result of voice activity detection on one window
type WindowResult struct {
	Probability float32 `json:"probability"`
	HasVoice    bool    `json:"has_voice"`
	Confidence  float32 `json:"confidence"`
	WindowIndex int     `json:"window_index"`
}

// Analysis summarizes a whole PCM buffer
type Analysis struct {
	Windows         int           `json:"windows"`
	VoiceWindows    int           `json:"voice_windows"`
	VoiceRatio      float64       `json:"voice_ratio"`
	PeakProbability float32       `json:"peak_probability"`
	HasSpeech       bool          `json:"has_speech"`
	Duration        time.Duration `json:"duration"`
	ProcessingTime  time.Duration `json:"processing_time"`
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	TotalBuffers    uint64    `json:"total_buffers"`
	SpeechBuffers   uint64    `json:"speech_buffers"`
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewDetector creates a new detector instance
func NewDetector(threshold float32, windowSize int, minVoiceRatio float64) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if minVoiceRatio < 0 || minVoiceRatio > 1 {
		return nil, fmt.Errorf("min voice ratio must be between 0 and 1, got %f", minVoiceRatio)
	}

	return &Detector{
		threshold:     threshold,
		windowSize:    windowSize,
		minVoiceRatio: minVoiceRatio,
	}, nil
}

// Process scores one window of samples
func (d *Detector) Process(samples []int16) (*WindowResult, error) {
	if len(samples) != d.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", d.windowSize, len(samples))
	}

	threshold := d.GetThreshold()
	result := score(samples, threshold)

	d.mu.Lock()
	result.WindowIndex = int(d.totalWindows)
	d.totalWindows++
	if result.HasVoice {
		d.voiceWindows++
	}
	d.lastProcessed = time.Now()
	d.mu.Unlock()

	return result, nil
}

// Analyze scores every full window of a mono s16le buffer. A trailing partial
// window is scored too when it holds at least half a window.
func (d *Detector) Analyze(pcm []byte, sampleRate int) Analysis {
	startTime := time.Now()
	threshold := d.GetThreshold()
	samples := audio.BytesToSamples(pcm)

	analysis := Analysis{Duration: audio.Duration(len(pcm), sampleRate)}
	for start := 0; start < len(samples); start += d.windowSize {
		end := start + d.windowSize
		if end > len(samples) {
			if len(samples)-start < d.windowSize/2 {
				break
			}
			end = len(samples)
		}

		result := score(samples[start:end], threshold)
		analysis.Windows++
		if result.HasVoice {
			analysis.VoiceWindows++
		}
		if result.Probability > analysis.PeakProbability {
			analysis.PeakProbability = result.Probability
		}
	}

	if analysis.Windows > 0 {
		analysis.VoiceRatio = float64(analysis.VoiceWindows) / float64(analysis.Windows)
	}
	analysis.HasSpeech = analysis.VoiceWindows > 0 && analysis.VoiceRatio >= d.minVoiceRatio
	analysis.ProcessingTime = time.Since(startTime)

	d.mu.Lock()
	d.totalBuffers++
	if analysis.HasSpeech {
		d.speechBuffers++
	}
	d.totalWindows += uint64(analysis.Windows)
	d.voiceWindows += uint64(analysis.VoiceWindows)
	d.lastProcessed = time.Now()
	d.mu.Unlock()

	return analysis
}

// score computes the energy probability of a window
func score(samples []int16, threshold float32) *WindowResult {
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	if len(samples) > 0 {
		energy = math.Sqrt(energy / float64(len(samples)))
	}

	probability := float32(math.Min(energy/energyScale, 1.0))
	hasVoice := probability >= threshold

	// higher when probability is far from threshold
	confidence := float32(math.Abs(float64(probability - threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}

	return &WindowResult{
		Probability: probability,
		HasVoice:    hasVoice,
		Confidence:  confidence * 2,
	}
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	voicePercentage := float64(0)
	if d.totalWindows > 0 {
		voicePercentage = float64(d.voiceWindows) / float64(d.totalWindows) * 100
	}

	return DetectorStats{
		TotalBuffers:    d.totalBuffers,
		SpeechBuffers:   d.speechBuffers,
		TotalWindows:    d.totalWindows,
		VoiceWindows:    d.voiceWindows,
		VoicePercentage: voicePercentage,
		LastProcessed:   d.lastProcessed,
		Threshold:       d.threshold,
	}
}

// UpdateThreshold updates the voice detection threshold
func (d *Detector) UpdateThreshold(threshold float32) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.threshold = threshold
	return nil
}

// Reset clears the statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalBuffers = 0
	d.speechBuffers = 0
	d.totalWindows = 0
	d.voiceWindows = 0
	d.lastProcessed = time.Time{}
}

// GetThreshold returns the current voice detection threshold
func (d *Detector) GetThreshold() float32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

// GetWindowSize returns the window size in samples
func (d *Detector) GetWindowSize() int {
	return d.windowSize
}
