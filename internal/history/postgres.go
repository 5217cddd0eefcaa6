package history

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore persists entries in PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects to dsn and verifies the connection
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded goose migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err == nil {
		s.logger.Info("History schema ready", slog.Int64("version", version))
	}
	return nil
}

// Record inserts an entry
func (s *PostgresStore) Record(ctx context.Context, entry Entry) error {
	entry = normalize(entry)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO translations
			(id, created_at, source_lang, target_lang, original, translated, status, kind, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID.String(), entry.CreatedAt, entry.SourceLang, entry.TargetLang,
		entry.Original, entry.Translated, entry.Status, entry.Kind, entry.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id::text, created_at, source_lang, target_lang, original, translated, status, kind, duration_ms
		FROM translations
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry Entry
			id    string
		)
		if err := rows.Scan(&id, &entry.CreatedAt, &entry.SourceLang, &entry.TargetLang,
			&entry.Original, &entry.Translated, &entry.Status, &entry.Kind, &entry.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if entry.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid history id %q: %w", id, err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return entries, nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
