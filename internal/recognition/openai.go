package recognition

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
)

// OpenAIConfig contains OpenAI transcription settings
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // optional, for compatible gateways
	Model      string
	SampleRate int
	Timeout    time.Duration
}

// OpenAIEngine recognizes speech with the OpenAI audio transcription API
type OpenAIEngine struct {
	client     *openai.Client
	model      string
	sampleRate int
	logger     *slog.Logger
}

// NewOpenAIEngine creates an engine backed by CreateTranscription
func NewOpenAIEngine(cfg OpenAIConfig, logger *slog.Logger) (*OpenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIEngine{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		sampleRate: cfg.SampleRate,
		logger:     logger,
	}, nil
}

// Name returns the engine name
func (e *OpenAIEngine) Name() string {
	return "openai"
}

// NewSession opens a buffering session
func (e *OpenAIEngine) NewSession(lang string) (Session, error) {
	return &bufferedSession{lang: lang, transcribe: e.transcribe}, nil
}

func (e *OpenAIEngine) transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	wav, err := audio.WrapPCM(pcm, e.sampleRate)
	if err != nil {
		return "", err
	}

	startTime := time.Now()
	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Language: baseLanguage(lang),
	})
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}

	e.logger.Debug("OpenAI transcription finished",
		slog.String("model", e.model),
		slog.Int("pcm_bytes", len(pcm)),
		slog.Duration("duration", time.Since(startTime)))

	return resp.Text, nil
}
