package tempfile

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Manager tracks the scratch files created while serving one request
type Manager struct {
	dir    string
	prefix string
	logger *slog.Logger

	paths []string
	mu    sync.Mutex
}

// New creates a manager that places files in dir (os.TempDir() when empty)
func New(dir, prefix string, logger *slog.Logger) *Manager {
	if dir == "" {
		dir = os.TempDir()
	}
	if prefix == "" {
		prefix = "audio"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		dir:    dir,
		prefix: prefix,
		logger: logger,
	}
}

// Acquire creates an empty uniquely named file with the given suffix and tracks it
func (m *Manager) Acquire(suffix string) (string, error) {
	path := filepath.Join(m.dir, fmt.Sprintf("%s-%s%s", m.prefix, uuid.NewString(), suffix))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	m.Track(path)

	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file %s: %w", path, err)
	}

	return path, nil
}

// Reserve returns a unique tracked path without creating the file.
// Converters refuse to overwrite some outputs, so they get a fresh name.
func (m *Manager) Reserve(suffix string) string {
	path := filepath.Join(m.dir, fmt.Sprintf("%s-%s%s", m.prefix, uuid.NewString(), suffix))
	m.Track(path)
	return path
}

// Track records a path created elsewhere so ReleaseAll removes it too
func (m *Manager) Track(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths = append(m.paths, path)
}

// Paths returns a snapshot of the tracked paths
func (m *Manager) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.paths))
	copy(out, m.paths)
	return out
}

// ReleaseAll removes every tracked path and returns how many could not be removed.
// Removal failures are logged and swallowed. It is safe to call more than once.
func (m *Manager) ReleaseAll() int {
	m.mu.Lock()
	paths := m.paths
	m.paths = nil
	m.mu.Unlock()

	removed, failed := 0, 0
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			m.logger.Warn("Failed to remove temp file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			failed++
			continue
		}
		removed++
	}

	if len(paths) > 0 {
		m.logger.Debug("Temp files released",
			slog.Int("tracked", len(paths)),
			slog.Int("removed", removed),
		)
	}

	return failed
}
