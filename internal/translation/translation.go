package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrEmptyText is returned when there is nothing to translate
var ErrEmptyText = errors.New("text to translate is empty")

// Result is a finished translation
type Result struct {
	SourceText     string `json:"source_text"`
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang"`
	TargetLang     string `json:"target_lang"`
	Engine         string `json:"engine"`
}

// Translator translates text from source to target language
type Translator interface {
	Name() string
	Translate(ctx context.Context, text, source, target string) (Result, error)
}

// BaseLanguage reduces region tagged codes such as pt-PT to pt
func BaseLanguage(lang string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(lang), "-")
	base, _, _ = strings.Cut(base, "_")
	return strings.ToLower(base)
}

// Marker wraps text that could not be translated
func Marker(text string) string {
	return fmt.Sprintf("[translated: %s]", text)
}

// EchoTranslator stands in when no translation engine is available
type EchoTranslator struct{}

// Name returns the engine name
func (EchoTranslator) Name() string { return "echo" }

// Translate returns the text wrapped in the untranslated marker
func (EchoTranslator) Translate(_ context.Context, text, source, target string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}
	return Result{
		SourceText:     text,
		TranslatedText: Marker(text),
		SourceLang:     BaseLanguage(source),
		TargetLang:     BaseLanguage(target),
		Engine:         "echo",
	}, nil
}

// Fallback uses Secondary whenever Primary fails
type Fallback struct {
	Primary   Translator
	Secondary Translator
	Logger    *slog.Logger
}

// Name returns the primary engine name
func (f *Fallback) Name() string {
	return f.Primary.Name()
}

// Translate tries the primary engine first
func (f *Fallback) Translate(ctx context.Context, text, source, target string) (Result, error) {
	result, err := f.Primary.Translate(ctx, text, source, target)
	if err == nil {
		return result, nil
	}

	if errors.Is(err, ErrEmptyText) || ctx.Err() != nil {
		return Result{}, err
	}

	f.Logger.Warn("Primary translator failed, using fallback",
		slog.String("primary", f.Primary.Name()),
		slog.String("fallback", f.Secondary.Name()),
		slog.String("error", err.Error()))

	return f.Secondary.Translate(ctx, text, source, target)
}
