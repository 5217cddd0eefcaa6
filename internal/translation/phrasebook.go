package translation

import (
	"context"
	"strings"
)

// Phrase is one phrasebook entry
type Phrase struct {
	Source string
	Target string
}

// DefaultPhrases is the built-in Portuguese to English table. Longer phrases
// come first because the first match wins.
func DefaultPhrases() []Phrase {
	return []Phrase{
		{Source: "bom dia", Target: "good morning"},
		{Source: "boa tarde", Target: "good afternoon"},
		{Source: "boa noite", Target: "good night"},
		{Source: "tudo bem", Target: "how are you"},
		{Source: "por favor", Target: "please"},
		{Source: "obrigado", Target: "thank you"},
		{Source: "obrigada", Target: "thank you"},
		{Source: "adeus", Target: "goodbye"},
		{Source: "olá", Target: "hello"},
		{Source: "ola", Target: "hello"},
	}
}

// Phrasebook translates by case-insensitive substring lookup in an ordered table
type Phrasebook struct {
	phrases []Phrase
}

// NewPhrasebook creates a phrasebook; an empty table means DefaultPhrases
func NewPhrasebook(phrases []Phrase) *Phrasebook {
	if len(phrases) == 0 {
		phrases = DefaultPhrases()
	}

	lowered := make([]Phrase, 0, len(phrases))
	for _, p := range phrases {
		if p.Source == "" {
			continue
		}
		lowered = append(lowered, Phrase{Source: strings.ToLower(p.Source), Target: p.Target})
	}

	return &Phrasebook{phrases: lowered}
}

// Name returns the engine name
func (p *Phrasebook) Name() string { return "phrasebook" }

// Len returns the number of entries
func (p *Phrasebook) Len() int { return len(p.phrases) }

// Translate returns the target of the first entry contained in text
func (p *Phrasebook) Translate(_ context.Context, text, source, target string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyText
	}

	result := Result{
		SourceText: text,
		SourceLang: BaseLanguage(source),
		TargetLang: BaseLanguage(target),
		Engine:     p.Name(),
	}

	lowered := strings.ToLower(text)
	for _, phrase := range p.phrases {
		if strings.Contains(lowered, phrase.Source) {
			result.TranslatedText = phrase.Target
			return result, nil
		}
	}

	result.TranslatedText = Marker(text)
	return result, nil
}
