package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
)

const maxRetryBackoff = 30 * time.Second

// HTTPConfig contains settings for a Whisper compatible transcription endpoint
type HTTPConfig struct {
	Endpoint     string
	APIKey       string // optional bearer token
	Model        string
	SampleRate   int
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration // first backoff step, doubled per retry
	OutputFormat string        // "json" or "text"
}

// HTTPEngine posts each finished utterance as a WAV file. Concurrency is
// bounded by the Adapter, not here.
type HTTPEngine struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger

	requests  atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
	latencyNs atomic.Int64 // sum over succeeded requests
}

// TranscriptionResponse is the JSON body returned by the endpoint
type TranscriptionResponse struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Segment is a timed piece of a transcript
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// HTTPStats are request counters of an HTTPEngine
type HTTPStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// statusError is a non-2xx answer from the endpoint
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("endpoint answered %d: %s", e.StatusCode, e.Body)
}

// NewHTTPEngine validates cfg and fills its defaults
func NewHTTPEngine(cfg HTTPConfig, logger *slog.Logger) (*HTTPEngine, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("http engine: endpoint is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg.Timeout = orDefault(cfg.Timeout, 30*time.Second)
	cfg.RetryBackoff = orDefault(cfg.RetryBackoff, 500*time.Millisecond)
	cfg.MaxRetries = max(cfg.MaxRetries, 0)
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "json"
	}

	return &HTTPEngine{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Name returns the engine name
func (e *HTTPEngine) Name() string {
	return "http"
}

// NewSession opens a buffering session
func (e *HTTPEngine) NewSession(lang string) (Session, error) {
	return &bufferedSession{lang: lang, transcribe: e.transcribe}, nil
}

func (e *HTTPEngine) transcribe(ctx context.Context, pcm []byte, lang string) (string, error) {
	wav, err := audio.WrapPCM(pcm, e.cfg.SampleRate)
	if err != nil {
		return "", err
	}

	resp, err := e.Transcribe(ctx, wav, lang)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Transcribe posts a WAV file. Server errors, rate limiting and network
// failures are retried with a doubling backoff.
func (e *HTTPEngine) Transcribe(ctx context.Context, wav []byte, lang string) (*TranscriptionResponse, error) {
	e.requests.Add(1)
	requestID := uuid.NewString()
	started := time.Now()
	backoff := e.cfg.RetryBackoff

	var err error
	for attempt := 0; ; attempt++ {
		var resp *TranscriptionResponse
		resp, err = e.post(ctx, wav, lang, requestID)
		if err == nil {
			e.succeeded.Add(1)
			e.latencyNs.Add(int64(time.Since(started)))
			return resp, nil
		}
		// a deadline of the caller cannot be beaten by retrying
		if attempt >= e.cfg.MaxRetries || ctx.Err() != nil || !isRetryableError(err) {
			break
		}

		e.retries.Add(1)
		e.logger.Debug("Retrying transcription request",
			slog.String("request_id", requestID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			e.failed.Add(1)
			return nil, ctx.Err()
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}

	e.failed.Add(1)
	return nil, fmt.Errorf("transcription request %s: %w", requestID, err)
}

func (e *HTTPEngine) post(ctx context.Context, wav []byte, lang, requestID string) (*TranscriptionResponse, error) {
	body, contentType, err := e.encodeForm(wav, lang, requestID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "projeto-transcricao/1.0")
	req.Header.Set("X-Request-ID", requestID)
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	res, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode/100 != 2 {
		return nil, &statusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	if e.cfg.OutputFormat == "text" {
		return &TranscriptionResponse{Text: strings.TrimSpace(string(payload))}, nil
	}

	var out TranscriptionResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

// encodeForm builds the multipart body: the WAV as "file" plus metadata fields
func (e *HTTPEngine) encodeForm(wav []byte, lang, requestID string) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", requestID+".wav")
	if err != nil {
		return nil, "", fmt.Errorf("multipart file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", fmt.Errorf("multipart file: %w", err)
	}

	fields := map[string]string{
		"request_id":      requestID,
		"sample_rate":     strconv.Itoa(e.cfg.SampleRate),
		"response_format": e.cfg.OutputFormat,
	}
	if lang != "" {
		fields["language"] = baseLanguage(lang)
	}
	if e.cfg.Model != "" {
		fields["model"] = e.cfg.Model
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("multipart field %s: %w", name, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("multipart close: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func isRetryableError(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}

	var ne net.Error
	return errors.As(err, &ne)
}

// GetStats returns a snapshot of the request counters
func (e *HTTPEngine) GetStats() HTTPStats {
	stats := HTTPStats{
		TotalRequests:   e.requests.Load(),
		SuccessRequests: e.succeeded.Load(),
		FailedRequests:  e.failed.Load(),
		TotalRetries:    e.retries.Load(),
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessRequests) / float64(stats.TotalRequests) * 100
	}
	if stats.SuccessRequests > 0 {
		stats.AvgResponseTime = time.Duration(e.latencyNs.Load() / int64(stats.SuccessRequests))
	}
	return stats
}

// Close drops idle keep-alive connections
func (e *HTTPEngine) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
