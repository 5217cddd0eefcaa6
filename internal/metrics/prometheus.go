package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "transcricao"

// Metrics contains all Prometheus metrics for the translation service
type Metrics struct {
	// Pipeline metrics
	PipelineOutcomes *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	UploadSize       prometheus.Histogram

	// Transcoder metrics
	TranscodeAttempts *prometheus.CounterVec
	TranscodeDuration *prometheus.HistogramVec
	PCMDuration       prometheus.Histogram

	// VAD metrics
	VADBuffersProcessed prometheus.Counter
	VADSpeechDetected   prometheus.Counter
	VADWindowsProcessed prometheus.Counter
	VADProcessingTime   prometheus.Histogram

	// Recognition metrics
	RecognitionRequests *prometheus.CounterVec
	RecognitionDuration *prometheus.HistogramVec

	// Translation metrics
	TranslationRequests *prometheus.CounterVec
	TranslationDuration *prometheus.HistogramVec

	// Stream metrics
	ActiveStreams    prometheus.Gauge
	StreamsCreated   prometheus.Counter
	StreamsDestroyed prometheus.Counter
	StreamDuration   prometheus.Histogram

	// Side effect metrics
	HistoryWriteErrors  prometheus.Counter
	EventPublishErrors  prometheus.Counter
	TempCleanupFailures prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Pipeline metrics
		PipelineOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_outcomes_total",
			Help:      "Total number of processed recordings by outcome",
		}, []string{"status", "kind"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "End to end processing time of a recording",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		UploadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_size_bytes",
			Help:      "Size of uploaded recordings in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Transcoder metrics
		TranscodeAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcode_attempts_total",
			Help:      "Total number of transcoding attempts by strategy and result",
		}, []string{"strategy", "result"}),
		TranscodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_duration_seconds",
			Help:      "Duration of transcoding attempts",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
		}, []string{"strategy"}),
		PCMDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pcm_duration_seconds",
			Help:      "Duration of decoded PCM audio",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~30s
		}),

		// VAD metrics
		VADBuffersProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_buffers_processed_total",
			Help:      "Total number of PCM buffers checked for speech",
		}),
		VADSpeechDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_speech_detected_total",
			Help:      "Total number of PCM buffers with speech detected",
		}),
		VADWindowsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_windows_processed_total",
			Help:      "Total number of VAD windows processed",
		}),
		VADProcessingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vad_processing_duration_seconds",
			Help:      "Time spent checking buffers for speech",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 10), // 100us to ~50ms
		}),

		// Recognition metrics
		RecognitionRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_requests_total",
			Help:      "Total number of recognition requests by engine and result",
		}, []string{"engine", "result"}),
		RecognitionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_duration_seconds",
			Help:      "Duration of recognition requests",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}, []string{"engine"}),

		// Translation metrics
		TranslationRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translation_requests_total",
			Help:      "Total number of translation requests by engine and result",
		}, []string{"engine", "result"}),
		TranslationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "translation_duration_seconds",
			Help:      "Duration of translation requests",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"engine"}),

		// Stream metrics
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Current number of open streaming sessions",
		}),
		StreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_created_total",
			Help:      "Total number of streaming sessions created",
		}),
		StreamsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_destroyed_total",
			Help:      "Total number of streaming sessions destroyed",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of streaming sessions in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		// Side effect metrics
		HistoryWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_write_errors_total",
			Help:      "Total number of failed history writes",
		}),
		EventPublishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Total number of failed event publications",
		}),
		TempCleanupFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "temp_files_leftover_total",
			Help:      "Total number of temp files that could not be removed",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordOutcome records a finished pipeline run
func (m *Metrics) RecordOutcome(status, kind string, durationSeconds float64) {
	m.PipelineOutcomes.WithLabelValues(status, kind).Inc()
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordUpload records the size of an uploaded recording
func (m *Metrics) RecordUpload(sizeBytes int) {
	m.UploadSize.Observe(float64(sizeBytes))
}

// RecordTranscodeAttempt records one transcoder strategy attempt
func (m *Metrics) RecordTranscodeAttempt(strategy string, success bool, durationSeconds float64) {
	m.TranscodeAttempts.WithLabelValues(strategy, result(success)).Inc()
	m.TranscodeDuration.WithLabelValues(strategy).Observe(durationSeconds)
}

// RecordPCM records the duration of decoded audio
func (m *Metrics) RecordPCM(durationSeconds float64) {
	m.PCMDuration.Observe(durationSeconds)
}

// RecordVAD records a speech presence check
func (m *Metrics) RecordVAD(windows int, hasSpeech bool, processingTimeSeconds float64) {
	m.VADBuffersProcessed.Inc()
	m.VADWindowsProcessed.Add(float64(windows))
	if hasSpeech {
		m.VADSpeechDetected.Inc()
	}
	m.VADProcessingTime.Observe(processingTimeSeconds)
}

// RecordRecognition records a recognition request. outcome is "ok",
// "empty", "short" or "error".
func (m *Metrics) RecordRecognition(engine, outcome string, durationSeconds float64) {
	m.RecognitionRequests.WithLabelValues(engine, outcome).Inc()
	m.RecognitionDuration.WithLabelValues(engine).Observe(durationSeconds)
}

// RecordTranslation records a translation request
func (m *Metrics) RecordTranslation(engine string, success bool, durationSeconds float64) {
	m.TranslationRequests.WithLabelValues(engine, result(success)).Inc()
	m.TranslationDuration.WithLabelValues(engine).Observe(durationSeconds)
}

// SetActiveStreams sets the current number of active streams
func (m *Metrics) SetActiveStreams(count int) {
	m.ActiveStreams.Set(float64(count))
}

// RecordStreamCreated increments the streams created counter
func (m *Metrics) RecordStreamCreated() {
	m.StreamsCreated.Inc()
}

// RecordStreamDestroyed increments the streams destroyed counter and records duration
func (m *Metrics) RecordStreamDestroyed(durationSeconds float64) {
	m.StreamsDestroyed.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordHistoryError increments the failed history writes counter
func (m *Metrics) RecordHistoryError() {
	m.HistoryWriteErrors.Inc()
}

// RecordEventError increments the failed event publications counter
func (m *Metrics) RecordEventError() {
	m.EventPublishErrors.Inc()
}

// RecordTempLeftovers counts temp files that survived cleanup
func (m *Metrics) RecordTempLeftovers(count int) {
	m.TempCleanupFailures.Add(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
