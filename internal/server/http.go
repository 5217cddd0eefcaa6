package server

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
	"github.com/Heliossandro/projeto-transcricao/internal/history"
	"github.com/Heliossandro/projeto-transcricao/internal/metrics"
	"github.com/Heliossandro/projeto-transcricao/internal/pipeline"
	"github.com/Heliossandro/projeto-transcricao/internal/stream"
	"github.com/Heliossandro/projeto-transcricao/internal/transcode"
	"github.com/Heliossandro/projeto-transcricao/internal/translation"
)

//go:embed static/index.html
var indexHTML []byte

// errNoAudio is returned when a multipart form carries no audio field
var errNoAudio = errors.New("no audio field in form")

// EngineNamer is implemented by the recognizer adapter
type EngineNamer interface {
	EngineName() string
}

// Dependencies are the collaborators of the HTTP server. Streams, History,
// Metrics and Gatherer are optional.
type Dependencies struct {
	Pipeline   *pipeline.Pipeline
	Recognizer EngineNamer
	Translator translation.Translator
	Streams    *stream.Manager
	History    history.Store
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// HTTPServer serves the translation API, the streaming endpoint and the web page
type HTTPServer struct {
	server   *http.Server
	router   chi.Router
	logger   *slog.Logger
	config   *config.Config
	deps     Dependencies
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	startTime time.Time
}

// NewHTTPServer creates the HTTP server and its routes
func NewHTTPServer(cfg *config.Config, deps Dependencies) *HTTPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	h := &HTTPServer{
		logger:  deps.Logger,
		config:  cfg,
		deps:    deps,
		metrics: deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		startTime: time.Now(),
	}

	h.router = h.setupRoutes()

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:           h.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.GetReadTimeoutDuration(),
		WriteTimeout:      cfg.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Handler returns the router, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/history", h.withMetrics("/history", h.handleHistory))

	r.Post("/translate_audio", h.withMetrics("/translate_audio", h.handleTranslateAudio))
	r.Post("/upload_audio", h.withMetrics("/upload_audio", h.handleTranslateAudio))
	r.Post("/stream", h.withMetrics("/stream", h.handleStream))

	if h.deps.Streams != nil {
		r.Get("/ws/stream", h.withMetrics("/ws/stream", h.handleWebSocket))
	}

	// no request metrics for the metrics endpoint itself
	if h.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

// translationResponse is the JSON body of the translation endpoints.
// Traduzido duplicates Translated for older front-ends.
type translationResponse struct {
	Original   string `json:"original"`
	Translated string `json:"translated"`
	Traduzido  string `json:"traduzido"`
	Status     string `json:"status"`
	Kind       string `json:"kind,omitempty"`
	IsPartial  bool   `json:"is_partial"`
	RequestID  string `json:"request_id,omitempty"`
}

func newTranslationResponse(resp pipeline.Response) translationResponse {
	return translationResponse{
		Original:   resp.Original,
		Translated: resp.Translated,
		Traduzido:  resp.Translated,
		Status:     string(resp.Outcome.Status),
		Kind:       string(resp.Outcome.Kind),
		IsPartial:  resp.IsPartial,
		RequestID:  resp.RequestID,
	}
}

// upload is the audio of one request
type upload struct {
	data        []byte
	contentType string
	filename    string
}

// handleTranslateAudio implements /translate_audio and /upload_audio
func (h *HTTPServer) handleTranslateAudio(w http.ResponseWriter, r *http.Request) {
	h.translate(w, r, "")
}

// handleStream implements /stream: a raw body, PCM unless told otherwise
func (h *HTTPServer) handleStream(w http.ResponseWriter, r *http.Request) {
	h.translate(w, r, transcode.HintPCM)
}

func (h *HTTPServer) translate(w http.ResponseWriter, r *http.Request, defaultHint string) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.HTTP.MaxUploadBytes)

	in, err := h.readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, errNoAudio):
			writeError(w, http.StatusBadRequest, "missing audio field (expected 'audio' or 'file')")
		default:
			writeError(w, http.StatusBadRequest, "invalid upload: "+err.Error())
		}
		h.logger.Warn("Rejected upload",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		return
	}

	hint := transcode.DetectContainer(in.data, in.contentType, in.filename)
	if hint == "" {
		hint = defaultHint
	}

	resp := h.deps.Pipeline.Process(r.Context(), pipeline.Request{
		Audio:         in.data,
		ContainerHint: hint,
		SourceLang:    r.FormValue("source_lang"),
		TargetLang:    r.FormValue("target_lang"),
	})

	writeJSON(w, resp.Outcome.HTTPStatus(), newTranslationResponse(resp))
}

// readUpload takes the audio from the 'audio' or 'file' multipart field,
// or the whole body for any other content type
func (h *HTTPServer) readUpload(r *http.Request) (upload, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return upload{}, err
		}
		return upload{data: data, contentType: r.Header.Get("Content-Type")}, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return upload{}, err
	}

	for _, field := range []string{"audio", "file"} {
		file, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return upload{}, err
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return upload{}, err
		}
		return upload{
			data:        data,
			contentType: header.Header.Get("Content-Type"),
			filename:    header.Filename,
		}, nil
	}

	return upload{}, errNoAudio
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	model := h.config.Recognition.Model
	if h.config.Recognition.Engine == "vosk" {
		model = h.config.Recognition.ModelPath
	}

	health := map[string]any{
		"status":    "healthy",
		"model":     model,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	}
	if h.deps.Recognizer != nil {
		health["engine"] = h.deps.Recognizer.EngineName()
	}
	if h.deps.Translator != nil {
		health["translator"] = h.deps.Translator.Name()
	}
	if h.deps.Streams != nil {
		health["active_streams"] = h.deps.Streams.GetActiveSessionCount()
	}

	writeJSON(w, http.StatusOK, health)
}

// handleHistory implements the /history endpoint
func (h *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeError(w, http.StatusNotFound, "history is disabled")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 200)
	}

	entries, err := h.deps.History.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read history", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(entries),
		"entries": entries,
	})
}

// handleRoot serves the recording page
func (h *HTTPServer) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
