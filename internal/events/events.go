// Package events publishes finished translations to an MQTT broker.
package events

import (
	"context"
	"fmt"
	"time"
)

// Event types
const (
	TypeTranslation = "translation.completed"
	TypeStreamFinal = "stream.final"
)

// Event describes one processed recording
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	Original   string    `json:"original"`
	Translated string    `json:"translated"`
	Status     string    `json:"status"`
	Kind       string    `json:"kind,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// TopicTranslation is the topic an event with the given status is published on
func TopicTranslation(prefix, status string) string {
	return fmt.Sprintf("%s/translations/%s", prefix, status)
}

// TopicAllTranslations matches every translation topic
func TopicAllTranslations(prefix string) string {
	return fmt.Sprintf("%s/translations/+", prefix)
}

// NopPublisher drops events
type NopPublisher struct{}

// Publish discards the event
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close is a no-op
func (NopPublisher) Close() error { return nil }
