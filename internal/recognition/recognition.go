package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
)

var (
	// ErrUnintelligible means the engine answered but recognized no words
	ErrUnintelligible = errors.New("speech not recognized")
	// ErrServiceUnavailable means the engine could not be reached or failed
	ErrServiceUnavailable = errors.New("recognition service unavailable")
	// ErrInsufficientAudio means the buffer is too short to be worth recognizing
	ErrInsufficientAudio = errors.New("insufficient audio")
)

// Transcript is a recognition hypothesis
type Transcript struct {
	Text      string `json:"text"`
	IsPartial bool   `json:"is_partial"`
}

// Engine is a speech recognition backend
type Engine interface {
	Name() string
	NewSession(lang string) (Session, error)
}

// Session holds the recognition state of one request or connection.
// Final returns the text of the current utterance and resets the session.
type Session interface {
	Accept(ctx context.Context, pcm []byte) (Transcript, error)
	Final(ctx context.Context) (Transcript, error)
	Close() error
}

// AdapterOptions configures an Adapter
type AdapterOptions struct {
	MinPCMBytes   int
	FrameBytes    int
	MaxConcurrent int
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Adapter wraps an Engine with admission control and error mapping
type Adapter struct {
	engine      Engine
	minPCMBytes int
	frameBytes  int
	timeout     time.Duration
	semaphore   chan struct{}
	logger      *slog.Logger

	// Statistics
	totalRecognitions uint64
	emptyRecognitions uint64
	failedRequests    uint64
	rejectedShort     uint64

	mu sync.RWMutex
}

// AdapterStats represents adapter statistics
type AdapterStats struct {
	Engine            string `json:"engine"`
	TotalRecognitions uint64 `json:"total_recognitions"`
	EmptyRecognitions uint64 `json:"empty_recognitions"`
	FailedRequests    uint64 `json:"failed_requests"`
	RejectedShort     uint64 `json:"rejected_short"`
	ActiveSessions    int    `json:"active_sessions"`
}

// NewAdapter creates an adapter over engine
func NewAdapter(engine Engine, opts AdapterOptions) *Adapter {
	if opts.MinPCMBytes <= 0 {
		opts.MinPCMBytes = 3200
	}
	if opts.FrameBytes <= 0 {
		opts.FrameBytes = 4000
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Adapter{
		engine:      engine,
		minPCMBytes: opts.MinPCMBytes,
		frameBytes:  opts.FrameBytes,
		timeout:     opts.Timeout,
		semaphore:   make(chan struct{}, opts.MaxConcurrent),
		logger:      opts.Logger,
	}
}

// EngineName returns the name of the wrapped engine
func (a *Adapter) EngineName() string {
	return a.engine.Name()
}

// MinPCMBytes returns the shortest buffer Recognize accepts
func (a *Adapter) MinPCMBytes() int {
	return a.minPCMBytes
}

// Recognize runs a whole buffer through a fresh session and returns the final text.
// Buffers shorter than the minimum never reach the engine.
func (a *Adapter) Recognize(ctx context.Context, pcm []byte, lang string) (Transcript, error) {
	if len(pcm) < a.minPCMBytes {
		a.mu.Lock()
		a.rejectedShort++
		a.mu.Unlock()
		return Transcript{}, fmt.Errorf("%d bytes of PCM, need %d: %w", len(pcm), a.minPCMBytes, ErrInsufficientAudio)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	session, err := a.NewSession(ctx, lang)
	if err != nil {
		return Transcript{}, err
	}
	defer session.Close()

	for _, frame := range audio.Frames(pcm, a.frameBytes) {
		if _, err := session.Accept(ctx, frame); err != nil {
			return Transcript{}, err
		}
	}

	return session.Final(ctx)
}

// NewSession opens a session, waiting for a free slot. The slot is returned on Close.
func (a *Adapter) NewSession(ctx context.Context, lang string) (Session, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}

	session, err := a.engine.NewSession(lang)
	if err != nil {
		a.release()
		a.recordFailure()
		return nil, a.classify(err)
	}

	a.logger.Debug("Recognition session opened",
		slog.String("engine", a.engine.Name()),
		slog.String("lang", lang))

	return &adapterSession{adapter: a, inner: session}, nil
}

// NewStreamSession opens a session for a long lived stream. It holds no slot
// while idle: every Accept and Final waits for one and returns it afterwards.
func (a *Adapter) NewStreamSession(ctx context.Context, lang string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("opening stream session: %w: %w", ErrServiceUnavailable, err)
	}

	session, err := a.engine.NewSession(lang)
	if err != nil {
		a.recordFailure()
		return nil, a.classify(err)
	}

	a.logger.Debug("Stream recognition session opened",
		slog.String("engine", a.engine.Name()),
		slog.String("lang", lang))

	return &adapterSession{adapter: a, inner: session, perCall: true}, nil
}

func (a *Adapter) acquire(ctx context.Context) error {
	select {
	case a.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for a recognition slot: %w: %w", ErrServiceUnavailable, ctx.Err())
	}
}

func (a *Adapter) release() {
	<-a.semaphore
}

// GetStats returns current adapter statistics
func (a *Adapter) GetStats() AdapterStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return AdapterStats{
		Engine:            a.engine.Name(),
		TotalRecognitions: a.totalRecognitions,
		EmptyRecognitions: a.emptyRecognitions,
		FailedRequests:    a.failedRequests,
		RejectedShort:     a.rejectedShort,
		ActiveSessions:    len(a.semaphore),
	}
}

// Close releases the engine when it holds resources
func (a *Adapter) Close() error {
	if closer, ok := a.engine.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// classify maps engine failures onto the package errors
func (a *Adapter) classify(err error) error {
	if errors.Is(err, ErrUnintelligible) || errors.Is(err, ErrInsufficientAudio) || errors.Is(err, ErrServiceUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", a.engine.Name(), ErrServiceUnavailable, err)
}

func (a *Adapter) recordFailure() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failedRequests++
}

// adapterSession applies error mapping and returns the slot on Close.
// Stream sessions take the slot per call instead.
type adapterSession struct {
	adapter *Adapter
	inner   Session
	perCall bool
	once    sync.Once
}

func (s *adapterSession) call(ctx context.Context, fn func(context.Context) (Transcript, error)) (Transcript, error) {
	if !s.perCall {
		return fn(ctx)
	}

	if s.adapter.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.adapter.timeout)
		defer cancel()
	}
	if err := s.adapter.acquire(ctx); err != nil {
		return Transcript{}, err
	}
	defer s.adapter.release()

	return fn(ctx)
}

func (s *adapterSession) Accept(ctx context.Context, pcm []byte) (Transcript, error) {
	t, err := s.call(ctx, func(ctx context.Context) (Transcript, error) {
		return s.inner.Accept(ctx, pcm)
	})
	if err != nil {
		s.adapter.recordFailure()
		return Transcript{}, s.adapter.classify(err)
	}
	t.IsPartial = true
	return t, nil
}

func (s *adapterSession) Final(ctx context.Context) (Transcript, error) {
	t, err := s.call(ctx, s.inner.Final)
	if err != nil {
		s.adapter.recordFailure()
		return Transcript{}, s.adapter.classify(err)
	}

	s.adapter.mu.Lock()
	s.adapter.totalRecognitions++
	text := strings.TrimSpace(t.Text)
	if text == "" {
		s.adapter.emptyRecognitions++
	}
	s.adapter.mu.Unlock()

	if text == "" {
		return Transcript{}, ErrUnintelligible
	}
	return Transcript{Text: text}, nil
}

func (s *adapterSession) Close() error {
	var err error
	s.once.Do(func() {
		err = s.inner.Close()
		if !s.perCall {
			s.adapter.release()
		}
	})
	return err
}

// bufferedSession collects PCM and recognizes it in one call on Final.
// Cloud engines have no incremental hypotheses, so Accept reports empty partials.
type bufferedSession struct {
	lang       string
	transcribe func(ctx context.Context, pcm []byte, lang string) (string, error)
	buf        []byte
	mu         sync.Mutex
}

func (s *bufferedSession) Accept(_ context.Context, pcm []byte) (Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, pcm...)
	return Transcript{IsPartial: true}, nil
}

func (s *bufferedSession) Final(ctx context.Context) (Transcript, error) {
	s.mu.Lock()
	pcm := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(pcm) == 0 {
		return Transcript{}, nil
	}

	text, err := s.transcribe(ctx, pcm, s.lang)
	if err != nil {
		return Transcript{}, err
	}
	return Transcript{Text: text}, nil
}

func (s *bufferedSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
	return nil
}

// baseLanguage reduces region tagged codes such as pt-PT to pt
func baseLanguage(lang string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(lang), "-")
	base, _, _ = strings.Cut(base, "_")
	return strings.ToLower(base)
}
