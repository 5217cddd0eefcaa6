package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
)

// Entry is one processed recording
type Entry struct {
	ID         uuid.UUID `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	SourceLang string    `json:"source_lang"`
	TargetLang string    `json:"target_lang"`
	Original   string    `json:"original"`
	Translated string    `json:"translated"`
	Status     string    `json:"status"`
	Kind       string    `json:"kind,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Store records entries and lists the most recent ones, newest first
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Open creates the store selected in cfg
func Open(ctx context.Context, cfg *config.HistoryConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "memory", "":
		return NewMemoryStore(cfg.Capacity), nil
	case "postgres":
		store, err := NewPostgresStore(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case "none":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// normalize fills the ID and timestamp of a new entry
func normalize(entry Entry) Entry {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry
}

// NopStore discards entries
type NopStore struct{}

// Record discards the entry
func (NopStore) Record(context.Context, Entry) error {
	return nil
}

// Recent returns no entries
func (NopStore) Recent(context.Context, int) ([]Entry, error) {
	return []Entry{}, nil
}

// Close is a no-op
func (NopStore) Close() error {
	return nil
}
