package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
	"github.com/Heliossandro/projeto-transcricao/internal/metrics"
	"github.com/Heliossandro/projeto-transcricao/internal/recognition"
)

var (
	// ErrTooManySessions is returned when the session limit is reached
	ErrTooManySessions = errors.New("too many active stream sessions")

	// ErrSessionClosed is returned for calls on a removed session
	ErrSessionClosed = errors.New("stream session closed")
)

// SessionOpener opens recognizer sessions; *recognition.Adapter implements it.
// Stream sessions must not hold a recognizer slot between calls.
type SessionOpener interface {
	NewStreamSession(ctx context.Context, lang string) (recognition.Session, error)
}

// Config holds stream manager settings
type Config struct {
	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	MaxSessions     int
	MinPCMBytes     int
}

// ConfigFromStream converts the stream section of the service configuration
func ConfigFromStream(cfg *config.StreamConfig, minPCMBytes int) Config {
	return Config{
		IdleTimeout:     cfg.GetIdleTimeoutDuration(),
		CleanupInterval: cfg.GetCleanupIntervalDuration(),
		MaxSessions:     cfg.MaxSessions,
		MinPCMBytes:     minPCMBytes,
	}
}

// Session is one streaming connection. The recognizer session is opened on
// the first chunk of an utterance and released when the utterance is finalized.
type Session struct {
	ID        uuid.UUID
	StartTime time.Time

	opener      SessionOpener
	minPCMBytes int

	// cancelled by close, aborts recognizer calls in flight
	ctx      context.Context
	cancel   context.CancelFunc
	lastSeen atomic.Int64 // unix nanoseconds

	// calls serializes Feed and Finalize. mu guards the fields below and is
	// never held across a recognizer call.
	calls sync.Mutex
	mu    sync.Mutex

	sourceLang string
	targetLang string
	recognizer recognition.Session
	// bytes of the current utterance
	pending    int
	chunks     uint64
	utterances uint64
	closed     bool
}

// Manager tracks all active stream sessions
type Manager struct {
	sessions map[uuid.UUID]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	opener   SessionOpener
	config   Config
	metrics  *metrics.Metrics

	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a stream manager and starts its cleanup routine.
// m may be nil.
func NewManager(logger *slog.Logger, opener SessionOpener, cfg Config, m *metrics.Metrics) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions: make(map[uuid.UUID]*Session),
		logger:   logger,
		opener:   opener,
		config:   cfg,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr
}

// CreateSession registers a new session for the given languages
func (m *Manager) CreateSession(sourceLang, targetLang string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, m.config.MaxSessions)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	session := &Session{
		ID:          uuid.New(),
		StartTime:   time.Now(),
		opener:      m.opener,
		minPCMBytes: m.config.MinPCMBytes,
		ctx:         ctx,
		cancel:      cancel,
		sourceLang:  sourceLang,
		targetLang:  targetLang,
	}
	session.touch()
	m.sessions[session.ID] = session

	if m.metrics != nil {
		m.metrics.RecordStreamCreated()
		m.metrics.SetActiveStreams(len(m.sessions))
	}

	m.logger.Info("Created stream session",
		slog.String("session_id", session.ID.String()),
		slog.String("source_lang", sourceLang),
		slog.String("target_lang", targetLang),
	)

	return session, nil
}

// GetSession retrieves an existing session
func (m *Manager) GetSession(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// RemoveSession closes a session and forgets it
func (m *Manager) RemoveSession(id uuid.UUID) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	info := session.Info()
	if err := session.close(); err != nil {
		m.logger.Warn("Error closing recognizer session",
			slog.String("session_id", id.String()),
			slog.String("error", err.Error()),
		)
	}

	if m.metrics != nil {
		m.metrics.RecordStreamDestroyed(info.Duration.Seconds())
		m.metrics.SetActiveStreams(active)
	}

	m.logger.Info("Stream session removed",
		slog.String("session_id", id.String()),
		slog.Duration("duration", info.Duration),
		slog.Uint64("chunks", info.Chunks),
		slog.Uint64("utterances", info.Utterances),
	)

	return true
}

// Stop closes every session and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping stream manager...")

	m.cancel()
	<-m.cleanup

	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.RemoveSession(id)
	}

	m.logger.Info("Stream manager stopped", slog.Int("closed_sessions", len(ids)))
}

// startCleanupRoutine removes idle sessions until the manager stops
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Stream cleanup routine started",
		slog.Duration("timeout", m.config.IdleTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions(time.Now())
		}
	}
}

// cleanupExpiredSessions removes sessions idle for longer than the timeout.
// It only reads the atomic activity stamp while holding m.mu.
func (m *Manager) cleanupExpiredSessions(now time.Time) int {
	expired := make([]uuid.UUID, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		if now.Sub(session.lastActivity()) > m.config.IdleTimeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up idle stream sessions", slog.Int("expired_count", len(expired)))
		for _, id := range expired {
			m.RemoveSession(id)
		}
	}
	return len(expired)
}

// SetLanguages changes the languages used from the next utterance on
func (s *Session) SetLanguages(sourceLang, targetLang string) {
	s.touch()

	s.mu.Lock()
	defer s.mu.Unlock()
	if sourceLang != "" {
		s.sourceLang = sourceLang
	}
	if targetLang != "" {
		s.targetLang = targetLang
	}
}

// Languages returns the current source and target languages
func (s *Session) Languages() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceLang, s.targetLang
}

// Feed passes a PCM chunk to the recognizer and returns the partial transcript
func (s *Session) Feed(ctx context.Context, pcm []byte) (recognition.Transcript, error) {
	s.calls.Lock()
	defer s.calls.Unlock()
	s.touch()
	defer s.touch()

	// the recognizer is detached while in use so close never races a call
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return recognition.Transcript{}, ErrSessionClosed
	}
	rec, lang := s.recognizer, s.sourceLang
	s.recognizer = nil
	s.mu.Unlock()

	ctx, stop := s.callContext(ctx)
	defer stop()

	if rec == nil {
		var err error
		rec, err = s.opener.NewStreamSession(ctx, lang)
		if err != nil {
			if s.isClosed() {
				return recognition.Transcript{}, ErrSessionClosed
			}
			return recognition.Transcript{}, err
		}
	}

	transcript, err := rec.Accept(ctx, pcm)

	s.mu.Lock()
	closed := s.closed
	if !closed {
		s.recognizer = rec
		s.chunks++
		s.pending += len(pcm)
	}
	s.mu.Unlock()

	if closed {
		_ = rec.Close()
		return recognition.Transcript{}, ErrSessionClosed
	}
	return transcript, err
}

// Finalize flushes the current utterance and releases its recognizer session
func (s *Session) Finalize(ctx context.Context) (recognition.Transcript, error) {
	s.calls.Lock()
	defer s.calls.Unlock()
	s.touch()
	defer s.touch()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return recognition.Transcript{}, ErrSessionClosed
	}
	rec, pending := s.recognizer, s.pending
	s.recognizer, s.pending = nil, 0
	if rec != nil && pending >= s.minPCMBytes {
		s.utterances++
	}
	s.mu.Unlock()

	if rec == nil {
		return recognition.Transcript{}, fmt.Errorf("%w: no audio received", recognition.ErrInsufficientAudio)
	}
	defer rec.Close()

	if pending < s.minPCMBytes {
		return recognition.Transcript{}, fmt.Errorf("%w: %d bytes", recognition.ErrInsufficientAudio, pending)
	}

	ctx, stop := s.callContext(ctx)
	defer stop()

	transcript, err := rec.Final(ctx)
	if err != nil && s.isClosed() {
		return recognition.Transcript{}, ErrSessionClosed
	}
	return transcript, err
}

// Info returns a snapshot of the session state
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionInfo{
		ID:           s.ID.String(),
		SourceLang:   s.sourceLang,
		TargetLang:   s.targetLang,
		StartTime:    s.StartTime,
		LastActivity: s.lastActivity(),
		Duration:     time.Since(s.StartTime),
		PendingBytes: s.pending,
		Chunks:       s.chunks,
		Utterances:   s.utterances,
	}
}

// callContext ends when ctx ends or the session is closed
func (s *Session) callContext(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) lastActivity() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close marks the session closed and cancels its calls. A recognizer in use
// by Feed is closed by Feed once the call returns.
func (s *Session) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	rec := s.recognizer
	s.recognizer, s.pending = nil, 0
	s.mu.Unlock()

	s.cancel()
	if rec != nil {
		return rec.Close()
	}
	return nil
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	ID           string        `json:"id"`
	SourceLang   string        `json:"source_lang"`
	TargetLang   string        `json:"target_lang"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`
	PendingBytes int           `json:"pending_bytes"`
	Chunks       uint64        `json:"chunks"`
	Utterances   uint64        `json:"utterances"`
}
