package translation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a translation engine. Translate the user's message from %s to %s. " +
	"Reply with the translation only, without quotes or explanations."

// OpenAIConfig contains chat completion translation settings
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAITranslator translates with a chat completion model
type OpenAITranslator struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAITranslator creates a chat completion translator
func NewOpenAITranslator(cfg OpenAIConfig, logger *slog.Logger) (*OpenAITranslator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAITranslator{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Name returns the engine name
func (t *OpenAITranslator) Name() string { return "openai" }

// Translate asks the model for a translation. Text already in the target
// language is returned unchanged.
func (t *OpenAITranslator) Translate(ctx context.Context, text, source, target string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}

	result := Result{
		SourceText: text,
		SourceLang: BaseLanguage(source),
		TargetLang: BaseLanguage(target),
		Engine:     t.Name(),
	}

	if result.SourceLang == result.TargetLang {
		result.TranslatedText = text
		return result, nil
	}

	startTime := time.Now()
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(systemPrompt, result.SourceLang, result.TargetLang)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		return Result{}, fmt.Errorf("translation request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("translation response has no choices")
	}

	result.TranslatedText = strings.TrimSpace(resp.Choices[0].Message.Content)
	if result.TranslatedText == "" {
		return Result{}, fmt.Errorf("translation response is empty")
	}

	t.logger.Debug("OpenAI translation finished",
		slog.String("model", t.model),
		slog.String("source", result.SourceLang),
		slog.String("target", result.TargetLang),
		slog.Duration("duration", time.Since(startTime)))

	return result, nil
}
