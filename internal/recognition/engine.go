package recognition

import (
	"fmt"
	"log/slog"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
)

// NewEngine builds the engine selected in cfg
func NewEngine(cfg *config.RecognitionConfig, sampleRate int, logger *slog.Logger) (Engine, error) {
	switch cfg.Engine {
	case "openai":
		engine, err := NewOpenAIEngine(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.Endpoint,
			Model:      cfg.Model,
			SampleRate: sampleRate,
			Timeout:    cfg.GetTimeoutDuration(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai engine: %w", err)
		}
		return engine, nil
	case "http":
		engine, err := NewHTTPEngine(HTTPConfig{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			SampleRate: sampleRate,
			Timeout:    cfg.GetTimeoutDuration(),
			MaxRetries: cfg.MaxRetries,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create http engine: %w", err)
		}
		return engine, nil
	case "vosk":
		engine, err := NewVoskEngine(cfg.ModelPath, sampleRate, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create vosk engine: %w", err)
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown recognition engine %q", cfg.Engine)
	}
}

// NewAdapterFromConfig builds the engine and wraps it in an Adapter
func NewAdapterFromConfig(cfg *config.RecognitionConfig, audioCfg *config.AudioConfig, logger *slog.Logger) (*Adapter, error) {
	engine, err := NewEngine(cfg, audioCfg.SampleRate, logger)
	if err != nil {
		return nil, err
	}

	return NewAdapter(engine, AdapterOptions{
		MinPCMBytes:   audioCfg.MinPCMBytes,
		FrameBytes:    cfg.FrameBytes,
		MaxConcurrent: cfg.MaxConcurrent,
		Timeout:       cfg.GetTimeoutDuration(),
		Logger:        logger,
	}), nil
}
