package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
	"github.com/Heliossandro/projeto-transcricao/internal/metrics"
	"github.com/Heliossandro/projeto-transcricao/internal/recognition"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingSession reports the number of bytes it received
type countingSession struct {
	lang   string
	bytes  int
	closed bool
	mu     sync.Mutex
}

func (s *countingSession) Accept(_ context.Context, pcm []byte) (recognition.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes += len(pcm)
	return recognition.Transcript{Text: fmt.Sprintf("%d", s.bytes), IsPartial: true}, nil
}

func (s *countingSession) Final(context.Context) (recognition.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return recognition.Transcript{Text: fmt.Sprintf("%s:%d", s.lang, s.bytes)}, nil
}

func (s *countingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeOpener struct {
	mu       sync.Mutex
	sessions []*countingSession
}

func (o *fakeOpener) NewStreamSession(_ context.Context, lang string) (recognition.Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &countingSession{lang: lang}
	o.sessions = append(o.sessions, s)
	return s, nil
}

func (o *fakeOpener) opened() []*countingSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*countingSession(nil), o.sessions...)
}

func newTestManager(t *testing.T, opener SessionOpener, cfg Config, m *metrics.Metrics) *Manager {
	t.Helper()
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	mgr := NewManager(testLogger(), opener, cfg, m)
	t.Cleanup(mgr.Stop)
	return mgr
}

func TestCreateAndRemoveSession(t *testing.T) {
	mgr := newTestManager(t, &fakeOpener{}, Config{}, nil)

	session, err := mgr.CreateSession("pt-PT", "en")
	require.NoError(t, err)
	assert.Equal(t, 1, mgr.GetActiveSessionCount())

	got, ok := mgr.GetSession(session.ID)
	require.True(t, ok)
	assert.Same(t, session, got)

	infos := mgr.GetAllSessions()
	require.Len(t, infos, 1)
	assert.Equal(t, session.ID.String(), infos[0].ID)
	assert.Equal(t, "pt-PT", infos[0].SourceLang)

	assert.True(t, mgr.RemoveSession(session.ID))
	assert.False(t, mgr.RemoveSession(session.ID))
	assert.Zero(t, mgr.GetActiveSessionCount())
}

func TestMaxSessions(t *testing.T) {
	mgr := newTestManager(t, &fakeOpener{}, Config{MaxSessions: 2}, nil)

	for i := 0; i < 2; i++ {
		_, err := mgr.CreateSession("pt", "en")
		require.NoError(t, err)
	}

	_, err := mgr.CreateSession("pt", "en")
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestFeedAndFinalize(t *testing.T) {
	opener := &fakeOpener{}
	mgr := newTestManager(t, opener, Config{MinPCMBytes: 3200}, nil)

	session, err := mgr.CreateSession("pt-PT", "en")
	require.NoError(t, err)

	partial, err := session.Feed(context.Background(), make([]byte, 2000))
	require.NoError(t, err)
	assert.True(t, partial.IsPartial)
	assert.Equal(t, "2000", partial.Text)

	_, err = session.Feed(context.Background(), make([]byte, 2000))
	require.NoError(t, err)

	final, err := session.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pt-PT:4000", final.Text)

	// the next utterance gets a fresh recognizer
	session.SetLanguages("en-US", "pt")
	_, err = session.Feed(context.Background(), make([]byte, 4000))
	require.NoError(t, err)
	final, err = session.Finalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "en-US:4000", final.Text)

	opened := opener.opened()
	require.Len(t, opened, 2)
	assert.True(t, opened[0].closed)
	assert.True(t, opened[1].closed)

	info := session.Info()
	assert.Equal(t, uint64(3), info.Chunks)
	assert.Equal(t, uint64(2), info.Utterances)
	assert.Zero(t, info.PendingBytes)

	source, target := session.Languages()
	assert.Equal(t, "en-US", source)
	assert.Equal(t, "pt", target)
}

func TestFinalizeInsufficientAudio(t *testing.T) {
	opener := &fakeOpener{}
	mgr := newTestManager(t, opener, Config{MinPCMBytes: 3200}, nil)

	session, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)

	_, err = session.Finalize(context.Background())
	assert.ErrorIs(t, err, recognition.ErrInsufficientAudio)
	assert.Empty(t, opener.opened())

	_, err = session.Feed(context.Background(), make([]byte, 1000))
	require.NoError(t, err)
	_, err = session.Finalize(context.Background())
	assert.ErrorIs(t, err, recognition.ErrInsufficientAudio)

	opened := opener.opened()
	require.Len(t, opened, 1)
	assert.True(t, opened[0].closed)
}

func TestIdleSessionsAreRemoved(t *testing.T) {
	opener := &fakeOpener{}
	mgr := newTestManager(t, opener, Config{IdleTimeout: time.Minute}, nil)

	idle, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)
	_, err = idle.Feed(context.Background(), make([]byte, 100))
	require.NoError(t, err)

	assert.Zero(t, mgr.cleanupExpiredSessions(time.Now()))
	assert.Equal(t, 1, mgr.cleanupExpiredSessions(time.Now().Add(2*time.Minute)))
	assert.Zero(t, mgr.GetActiveSessionCount())

	opened := opener.opened()
	require.Len(t, opened, 1)
	assert.True(t, opened[0].closed)

	_, err = idle.Feed(context.Background(), make([]byte, 100))
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = idle.Finalize(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCleanupRoutineRuns(t *testing.T) {
	mgr := newTestManager(t, &fakeOpener{}, Config{
		IdleTimeout:     10 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	}, nil)

	_, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return mgr.GetActiveSessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionsAreIndependent(t *testing.T) {
	mgr := newTestManager(t, &fakeOpener{}, Config{}, nil)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		session, err := mgr.CreateSession(fmt.Sprintf("l%d", i), "en")
		require.NoError(t, err)

		wg.Add(1)
		go func(n int, s *Session) {
			defer wg.Done()
			for j := 0; j < n; j++ {
				_, err := s.Feed(context.Background(), make([]byte, 100))
				assert.NoError(t, err)
			}
			final, err := s.Finalize(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("l%d:%d", n, n*100), final.Text)
		}(i, session)
	}
	wg.Wait()
}

func TestSessionReleasesRecognizerSlot(t *testing.T) {
	engine := &echoEngine{}
	adapter := recognition.NewAdapter(engine, recognition.AdapterOptions{
		MinPCMBytes:   2,
		MaxConcurrent: 1,
		Logger:        testLogger(),
	})
	mgr := newTestManager(t, adapter, Config{MinPCMBytes: 2}, nil)

	first, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)
	second, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)

	// one slot, used one utterance at a time
	for _, s := range []*Session{first, second, first} {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := s.Feed(ctx, []byte{1, 0, 2, 0})
		require.NoError(t, err)
		final, err := s.Finalize(ctx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, "ola", final.Text)
	}
}

func TestIdleStreamHoldsNoRecognizerSlot(t *testing.T) {
	adapter := recognition.NewAdapter(&echoEngine{}, recognition.AdapterOptions{
		MinPCMBytes:   2,
		MaxConcurrent: 1,
		Logger:        testLogger(),
	})
	mgr := newTestManager(t, adapter, Config{MinPCMBytes: 2}, nil)

	session, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)
	_, err = session.Feed(context.Background(), []byte{1, 0, 2, 0})
	require.NoError(t, err)

	// the stream is mid-utterance and silent; a one-shot request still gets the slot
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	transcript, err := adapter.Recognize(ctx, []byte{1, 0, 2, 0}, "pt")
	require.NoError(t, err)
	assert.Equal(t, "ola", transcript.Text)

	final, err := session.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ola", final.Text)
}

func TestIdleCleanupWithCallInFlight(t *testing.T) {
	engine := &hangingEngine{entered: make(chan struct{}, 1)}
	adapter := recognition.NewAdapter(engine, recognition.AdapterOptions{
		MinPCMBytes:   2,
		MaxConcurrent: 1,
		Logger:        testLogger(),
	})
	mgr := newTestManager(t, adapter, Config{IdleTimeout: time.Minute, MinPCMBytes: 2}, nil)

	silent, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)
	_, err = silent.Feed(context.Background(), []byte{1, 0})
	require.NoError(t, err)

	busy, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)
	fed := make(chan error, 1)
	go func() {
		_, err := busy.Feed(context.Background(), []byte{0xFF, 0})
		fed <- err
	}()

	select {
	case <-engine.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer call never started")
	}

	removed := make(chan int, 1)
	go func() { removed <- mgr.cleanupExpiredSessions(time.Now().Add(time.Hour)) }()

	select {
	case n := <-removed:
		assert.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup blocked behind a recognizer call")
	}

	select {
	case err := <-fed:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("recognizer call was not cancelled")
	}
	assert.Zero(t, mgr.GetActiveSessionCount())

	// the slot held by the cancelled call was returned
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	transcript, err := adapter.Recognize(ctx, []byte{1, 0, 2, 0}, "pt")
	require.NoError(t, err)
	assert.Equal(t, "ola", transcript.Text)
}

func TestStreamMetrics(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	mgr := newTestManager(t, &fakeOpener{}, Config{}, m)

	a, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)
	_, err = mgr.CreateSession("pt", "en")
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveStreams))

	mgr.RemoveSession(a.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsDestroyed))
}

func TestStopClosesSessions(t *testing.T) {
	opener := &fakeOpener{}
	mgr := NewManager(testLogger(), opener, Config{CleanupInterval: time.Hour}, nil)

	session, err := mgr.CreateSession("pt", "en")
	require.NoError(t, err)
	_, err = session.Feed(context.Background(), make([]byte, 10))
	require.NoError(t, err)

	mgr.Stop()

	assert.Zero(t, mgr.GetActiveSessionCount())
	assert.True(t, opener.opened()[0].closed)
}

func TestConfigFromStream(t *testing.T) {
	cfg := config.Default()
	c := ConfigFromStream(&cfg.Stream, cfg.Audio.MinPCMBytes)

	assert.Equal(t, 60*time.Second, c.IdleTimeout)
	assert.Equal(t, 15*time.Second, c.CleanupInterval)
	assert.Equal(t, 100, c.MaxSessions)
	assert.Equal(t, 3200, c.MinPCMBytes)
}

type echoEngine struct{}

func (echoEngine) Name() string { return "echo" }

func (echoEngine) NewSession(string) (recognition.Session, error) {
	return &echoSession{}, nil
}

type echoSession struct{}

func (*echoSession) Accept(context.Context, []byte) (recognition.Transcript, error) {
	return recognition.Transcript{}, nil
}

func (*echoSession) Final(context.Context) (recognition.Transcript, error) {
	return recognition.Transcript{Text: "ola"}, nil
}

func (*echoSession) Close() error { return nil }

// hangingEngine blocks Accept until cancelled when a chunk starts with 0xFF
type hangingEngine struct {
	entered chan struct{}
}

func (e *hangingEngine) Name() string { return "hanging" }

func (e *hangingEngine) NewSession(string) (recognition.Session, error) {
	return &hangingSession{entered: e.entered}, nil
}

type hangingSession struct {
	entered chan struct{}
}

func (s *hangingSession) Accept(ctx context.Context, pcm []byte) (recognition.Transcript, error) {
	if len(pcm) > 0 && pcm[0] == 0xFF {
		s.entered <- struct{}{}
		<-ctx.Done()
		return recognition.Transcript{}, ctx.Err()
	}
	return recognition.Transcript{}, nil
}

func (*hangingSession) Final(context.Context) (recognition.Transcript, error) {
	return recognition.Transcript{Text: "ola"}, nil
}

func (*hangingSession) Close() error { return nil }
