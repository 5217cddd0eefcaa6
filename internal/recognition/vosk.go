//go:build vosk

package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"
)

// VoskEngine recognizes speech with a local Vosk model.
// The model is shared and read-only; each session owns its own recognizer.
type VoskEngine struct {
	model      *vosk.VoskModel
	modelPath  string
	sampleRate float64
	logger     *slog.Logger

	mu sync.Mutex
}

type voskResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

// NewVoskEngine loads the model at modelPath
func NewVoskEngine(modelPath string, sampleRate int, logger *slog.Logger) (*VoskEngine, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("vosk model not found: %s", modelPath)
	}

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load vosk model: %w", err)
	}

	logger.Info("Vosk model loaded", slog.String("path", modelPath))

	return &VoskEngine{
		model:      model,
		modelPath:  modelPath,
		sampleRate: float64(sampleRate),
		logger:     logger,
	}, nil
}

// Name returns the engine name
func (e *VoskEngine) Name() string {
	return "vosk"
}

// NewSession creates a recognizer bound to this session. The language is
// fixed by the loaded model.
func (e *VoskEngine) NewSession(_ string) (Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return nil, fmt.Errorf("vosk model is closed")
	}

	rec, err := vosk.NewRecognizer(e.model, e.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create vosk recognizer: %w", err)
	}

	return &voskSession{recognizer: rec}, nil
}

// Close frees the model
func (e *VoskEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model != nil {
		e.model.Free()
		e.model = nil
	}
	return nil
}

type voskSession struct {
	recognizer *vosk.VoskRecognizer
	segments   []string

	mu sync.Mutex
}

func (s *voskSession) Accept(_ context.Context, pcm []byte) (Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recognizer == nil {
		return Transcript{}, fmt.Errorf("vosk session is closed")
	}

	// 1 means an utterance boundary was detected and Result is final
	if s.recognizer.AcceptWaveform(pcm) == 1 {
		text, err := parseVosk(s.recognizer.Result())
		if err != nil {
			return Transcript{}, err
		}
		if text != "" {
			s.segments = append(s.segments, text)
		}
		return Transcript{Text: strings.Join(s.segments, " "), IsPartial: true}, nil
	}

	partial, err := parseVosk(s.recognizer.PartialResult())
	if err != nil {
		return Transcript{}, err
	}

	text := strings.Join(append(append([]string(nil), s.segments...), partial), " ")
	return Transcript{Text: strings.TrimSpace(text), IsPartial: true}, nil
}

func (s *voskSession) Final(_ context.Context) (Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recognizer == nil {
		return Transcript{}, fmt.Errorf("vosk session is closed")
	}

	text, err := parseVosk(s.recognizer.FinalResult())
	if err != nil {
		return Transcript{}, err
	}

	segments := s.segments
	if text != "" {
		segments = append(segments, text)
	}
	s.segments = nil
	s.recognizer.Reset()

	return Transcript{Text: strings.Join(segments, " ")}, nil
}

func (s *voskSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recognizer != nil {
		s.recognizer.Free()
		s.recognizer = nil
	}
	return nil
}

func parseVosk(raw string) (string, error) {
	var result voskResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", fmt.Errorf("failed to parse vosk result: %w", err)
	}
	if result.Text != "" {
		return strings.TrimSpace(result.Text), nil
	}
	return strings.TrimSpace(result.Partial), nil
}
