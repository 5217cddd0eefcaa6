package translation

import (
	"fmt"
	"log/slog"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
)

// New builds the translator selected in cfg. The openai engine falls back to
// the phrasebook on failure; an engine that cannot be built is replaced by echo.
func New(cfg *config.TranslationConfig, logger *slog.Logger) (Translator, error) {
	phrases := make([]Phrase, 0, len(cfg.Phrases))
	for _, p := range cfg.Phrases {
		phrases = append(phrases, Phrase{Source: p.Source, Target: p.Target})
	}
	phrasebook := NewPhrasebook(phrases)

	switch cfg.Engine {
	case "openai":
		primary, err := NewOpenAITranslator(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.GetTimeoutDuration(),
		}, logger)
		if err != nil {
			logger.Warn("OpenAI translator unavailable, echoing text", slog.String("error", err.Error()))
			return EchoTranslator{}, nil
		}
		return &Fallback{Primary: primary, Secondary: phrasebook, Logger: logger}, nil
	case "phrasebook", "":
		return phrasebook, nil
	case "echo":
		return EchoTranslator{}, nil
	default:
		return nil, fmt.Errorf("unknown translation engine %q", cfg.Engine)
	}
}
