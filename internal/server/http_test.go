package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
	"github.com/Heliossandro/projeto-transcricao/internal/history"
	"github.com/Heliossandro/projeto-transcricao/internal/metrics"
	"github.com/Heliossandro/projeto-transcricao/internal/pipeline"
	"github.com/Heliossandro/projeto-transcricao/internal/recognition"
	"github.com/Heliossandro/projeto-transcricao/internal/stream"
	"github.com/Heliossandro/projeto-transcricao/internal/tempfile"
	"github.com/Heliossandro/projeto-transcricao/internal/transcode"
	"github.com/Heliossandro/projeto-transcricao/internal/translation"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubTranscoder returns fixed PCM and remembers the hint it was given
type stubTranscoder struct {
	pcm []byte

	mu    sync.Mutex
	hints []string
}

func (s *stubTranscoder) Transcode(_ context.Context, _ []byte, hint string, _ *tempfile.Manager) transcode.Result {
	s.mu.Lock()
	s.hints = append(s.hints, hint)
	s.mu.Unlock()

	if s.pcm == nil {
		return transcode.Result{Attempts: []transcode.Attempt{{Strategy: transcode.StrategyDirect, Err: io.ErrUnexpectedEOF}}}
	}
	return transcode.Result{PCM: s.pcm, Strategy: transcode.StrategyDirect}
}

func (s *stubTranscoder) lastHint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.hints) == 0 {
		return ""
	}
	return s.hints[len(s.hints)-1]
}

type fakeEngine struct {
	mu    sync.Mutex
	langs []string
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) NewSession(lang string) (recognition.Session, error) {
	e.mu.Lock()
	e.langs = append(e.langs, lang)
	e.mu.Unlock()
	return &fakeSession{}, nil
}

func (e *fakeEngine) lastLang() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.langs) == 0 {
		return ""
	}
	return e.langs[len(e.langs)-1]
}

type fakeSession struct{}

func (*fakeSession) Accept(context.Context, []byte) (recognition.Transcript, error) {
	return recognition.Transcript{Text: "ol"}, nil
}

func (*fakeSession) Final(context.Context) (recognition.Transcript, error) {
	return recognition.Transcript{Text: "ola"}, nil
}

func (*fakeSession) Close() error { return nil }

type testServer struct {
	server     *HTTPServer
	transcoder *stubTranscoder
	engine     *fakeEngine
	store      *history.MemoryStore
	metrics    *metrics.Metrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Transcoder.TempDir = t.TempDir()
	cfg.HTTP.MaxUploadBytes = 64 << 10

	reg := prometheus.NewRegistry()
	ts := &testServer{
		transcoder: &stubTranscoder{pcm: make([]byte, 16000)},
		engine:     &fakeEngine{},
		store:      history.NewMemoryStore(20),
		metrics:    metrics.NewMetrics(reg),
	}

	adapter := recognition.NewAdapter(ts.engine, recognition.AdapterOptions{Logger: testLogger()})
	translator := translation.NewPhrasebook(nil)

	p := pipeline.New(pipeline.Dependencies{
		Transcoder: ts.transcoder,
		Recognizer: adapter,
		Translator: translator,
		History:    ts.store,
		Metrics:    ts.metrics,
		Logger:     testLogger(),
	}, pipeline.OptionsFromConfig(cfg))

	streams := stream.NewManager(testLogger(), adapter, stream.Config{
		IdleTimeout:     time.Minute,
		CleanupInterval: time.Hour,
		MinPCMBytes:     cfg.Audio.MinPCMBytes,
	}, ts.metrics)
	t.Cleanup(streams.Stop)

	ts.server = NewHTTPServer(cfg, Dependencies{
		Pipeline:   p,
		Recognizer: adapter,
		Translator: translator,
		Streams:    streams,
		History:    ts.store,
		Metrics:    ts.metrics,
		Gatherer:   reg,
		Logger:     testLogger(),
	})
	return ts
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func webmBlob() []byte {
	blob := make([]byte, 4096)
	copy(blob, []byte{0x1A, 0x45, 0xDF, 0xA3})
	return blob
}

func multipartRequest(t *testing.T, path, field, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) translationResponse {
	t.Helper()
	var resp translationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestTranslateAudioMultipart(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(multipartRequest(t, "/translate_audio", "audio", "gravacao.webm", webmBlob(),
		map[string]string{"source_lang": "pt-BR", "target_lang": "en"}))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "ola", resp.Original)
	assert.Equal(t, "hello", resp.Translated)
	assert.Equal(t, "hello", resp.Traduzido)
	assert.Equal(t, "ok", resp.Status)
	assert.False(t, resp.IsPartial)
	assert.NotEmpty(t, resp.RequestID)

	assert.Equal(t, transcode.HintWebM, ts.transcoder.lastHint())
	assert.Equal(t, "pt-BR", ts.engine.lastLang())
}

func TestUploadAudioFileField(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(multipartRequest(t, "/upload_audio", "file", "clip.ogg", []byte(strings.Repeat("x", 2048)), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", decode(t, rec).Translated)
	assert.Equal(t, transcode.HintOgg, ts.transcoder.lastHint())
	assert.Equal(t, "pt-PT", ts.engine.lastLang())
}

func TestTranslateAudioMissingField(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(multipartRequest(t, "/translate_audio", "", "", nil, map[string]string{"source_lang": "pt"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "audio")
}

func TestTranslateAudioRawBody(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/translate_audio?source_lang=es-ES&target_lang=en", bytes.NewReader(webmBlob()))
	req.Header.Set("Content-Type", "audio/webm;codecs=opus")
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "es-ES", ts.engine.lastLang())
	assert.Equal(t, transcode.HintWebM, ts.transcoder.lastHint())
}

func TestTranslateAudioShortUpload(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(multipartRequest(t, "/translate_audio", "audio", "a.webm", make([]byte, 10), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "empty", resp.Status)
	assert.Equal(t, string(pipeline.KindInsufficientAudio), resp.Kind)
	assert.Equal(t, "Áudio muito curto ou vazio.", resp.Original)
	assert.Empty(t, resp.Translated)
	assert.Empty(t, ts.engine.lastLang())
}

func TestTranslateAudioTranscodeFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.transcoder.pcm = nil

	rec := ts.do(multipartRequest(t, "/translate_audio", "audio", "a.webm", webmBlob(), nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(pipeline.KindTranscodeFailure), decode(t, rec).Kind)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.HTTPErrors.WithLabelValues("POST", "/translate_audio", "client_error")))
}

func TestTranslateAudioTooLarge(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/translate_audio", bytes.NewReader(make([]byte, 128<<10)))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec := ts.do(req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStreamEndpointDefaultsToPCM(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/stream", bytes.NewReader(make([]byte, 8000)))
	rec := ts.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, transcode.HintPCM, ts.transcoder.lastHint())
	assert.Equal(t, "hello", decode(t, rec).Translated)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "fake", body["engine"])
	assert.Equal(t, "phrasebook", body["translator"])
	assert.Equal(t, float64(0), body["active_streams"])
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "model")
}

func TestHistory(t *testing.T) {
	ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := ts.do(multipartRequest(t, "/translate_audio", "audio", "a.webm", webmBlob(), nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/history?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int             `json:"count"`
		Entries []history.Entry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Entries, 2)
	assert.Equal(t, "hello", body.Entries[0].Translated)

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/history?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRootServesPage(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "/translate_audio")
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transcricao_http_requests_total")
}

func dialStream(t *testing.T, ts *testServer, query string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(ts.server.Handler())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) streamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketStream(t *testing.T) {
	ts := newTestServer(t)
	conn := dialStream(t, ts, "?source_lang=pt-PT")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"target_lang":"en"}`)))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, make([]byte, 4000)))

	partial := readMessage(t, conn)
	assert.True(t, partial.IsPartial)
	assert.Equal(t, "ol", partial.Original)
	assert.Equal(t, "ok", partial.Status)
	assert.NotEmpty(t, partial.SessionID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("end")))

	final := readMessage(t, conn)
	assert.False(t, final.IsPartial)
	assert.Equal(t, "ola", final.Original)
	assert.Equal(t, "hello", final.Translated)
	assert.Equal(t, "ok", final.Status)

	entries, err := ts.store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Translated)
	assert.Equal(t, "pt-PT", entries[0].SourceLang)
}

func TestWebSocketEndWithoutAudio(t *testing.T) {
	ts := newTestServer(t)
	conn := dialStream(t, ts, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`)))

	final := readMessage(t, conn)
	assert.Equal(t, "empty", final.Status)
	assert.Equal(t, string(pipeline.KindInsufficientAudio), final.Kind)
	assert.Equal(t, "Áudio muito curto ou vazio.", final.Original)
}
