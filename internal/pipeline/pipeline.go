package pipeline

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
	"github.com/Heliossandro/projeto-transcricao/internal/config"
	"github.com/Heliossandro/projeto-transcricao/internal/events"
	"github.com/Heliossandro/projeto-transcricao/internal/history"
	"github.com/Heliossandro/projeto-transcricao/internal/metrics"
	"github.com/Heliossandro/projeto-transcricao/internal/recognition"
	"github.com/Heliossandro/projeto-transcricao/internal/tempfile"
	"github.com/Heliossandro/projeto-transcricao/internal/transcode"
	"github.com/Heliossandro/projeto-transcricao/internal/translation"
	"github.com/Heliossandro/projeto-transcricao/internal/vad"
)

// Stage is a step of a run
type Stage string

const (
	StageReceive   Stage = "receive"
	StageValidate  Stage = "validate"
	StageTranscode Stage = "transcode"
	StageDetect    Stage = "detect"
	StageRecognize Stage = "recognize"
	StageTranslate Stage = "translate"
	StageRespond   Stage = "respond"
)

// Transcoder converts a blob into PCM
type Transcoder interface {
	Transcode(ctx context.Context, blob []byte, hint string, temps *tempfile.Manager) transcode.Result
}

// Recognizer turns PCM into text
type Recognizer interface {
	Recognize(ctx context.Context, pcm []byte, lang string) (recognition.Transcript, error)
	EngineName() string
}

// SpeechDetector reports whether PCM holds speech
type SpeechDetector interface {
	Analyze(pcm []byte, sampleRate int) vad.Analysis
}

// Request is one recording to process
type Request struct {
	ID            string
	Audio         []byte
	ContainerHint string
	SourceLang    string
	TargetLang    string
	Stream        bool // final utterance of a streaming session
}

// Response is the result of a run. For non-ok outcomes Original carries the
// configured message and Translated is empty.
type Response struct {
	RequestID  string
	Original   string
	Translated string
	Outcome    Outcome
	IsPartial  bool
	Stage      Stage // last stage entered
	Duration   time.Duration
}

// Dependencies are the collaborators of a Pipeline. Detector, History,
// Events and Metrics are optional.
type Dependencies struct {
	Transcoder Transcoder
	Recognizer Recognizer
	Translator translation.Translator
	Detector   SpeechDetector
	History    history.Store
	Events     events.Publisher
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Options configures a Pipeline
type Options struct {
	SampleRate        int
	MinUploadBytes    int
	TempDir           string
	DefaultSourceLang string
	DefaultTargetLang string
	Messages          Messages
	SideEffectTimeout time.Duration
}

// OptionsFromConfig derives pipeline options from the service configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SampleRate:        cfg.Audio.SampleRate,
		MinUploadBytes:    cfg.Audio.MinUploadBytes,
		TempDir:           cfg.Transcoder.TempDir,
		DefaultSourceLang: cfg.Audio.DefaultSourceLang,
		DefaultTargetLang: cfg.Audio.DefaultTargetLang,
		Messages:          MessagesFromConfig(&cfg.Messages),
	}
}

// Pipeline processes recordings
type Pipeline struct {
	deps Dependencies
	opts Options
}

// New creates a pipeline
func New(deps Dependencies, opts Options) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.History == nil {
		deps.History = history.NopStore{}
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.DefaultSourceLang == "" {
		opts.DefaultSourceLang = "pt-PT"
	}
	if opts.DefaultTargetLang == "" {
		opts.DefaultTargetLang = "en"
	}
	if opts.SideEffectTimeout <= 0 {
		opts.SideEffectTimeout = 5 * time.Second
	}

	return &Pipeline{deps: deps, opts: opts}
}

// Messages returns the configured user-facing messages
func (p *Pipeline) Messages() Messages {
	return p.opts.Messages
}

// Languages fills empty language codes with the defaults
func (p *Pipeline) Languages(source, target string) (string, string) {
	if strings.TrimSpace(source) == "" {
		source = p.opts.DefaultSourceLang
	}
	if strings.TrimSpace(target) == "" {
		target = p.opts.DefaultTargetLang
	}
	return source, target
}

// Process runs req through every stage. It never panics and always releases
// the temp files of the run before returning.
func (p *Pipeline) Process(ctx context.Context, req Request) (resp Response) {
	startTime := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.SourceLang, req.TargetLang = p.Languages(req.SourceLang, req.TargetLang)

	logger := p.deps.Logger.With(slog.String("request_id", req.ID))
	temps := tempfile.New(p.opts.TempDir, "req", logger)
	stage := StageReceive

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered panic while processing audio",
				slog.String("stage", string(stage)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			resp = p.failure(req.ID, stage, Outcome{Status: StatusError, Kind: KindUnhandled})
		}

		if leftovers := temps.ReleaseAll(); leftovers > 0 && p.deps.Metrics != nil {
			p.deps.Metrics.RecordTempLeftovers(leftovers)
		}

		resp.Duration = time.Since(startTime)
		p.Record(ctx, req, resp)
	}()

	resp = p.run(ctx, req, temps, logger, &stage)
	return resp
}

func (p *Pipeline) run(ctx context.Context, req Request, temps *tempfile.Manager, logger *slog.Logger, stage *Stage) Response {
	enter := func(s Stage) {
		*stage = s
		logger.Debug("Entering stage", slog.String("stage", string(s)))
	}

	enter(StageValidate)
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordUpload(len(req.Audio))
	}
	if len(req.Audio) == 0 || len(req.Audio) < p.opts.MinUploadBytes {
		logger.Info("Rejected short upload",
			slog.Int("bytes", len(req.Audio)),
			slog.Int("min_bytes", p.opts.MinUploadBytes))
		return p.failure(req.ID, StageValidate, Outcome{Status: StatusEmpty, Kind: KindInsufficientAudio})
	}

	enter(StageTranscode)
	result := p.deps.Transcoder.Transcode(ctx, req.Audio, req.ContainerHint, temps)
	if p.deps.Metrics != nil {
		for _, attempt := range result.Attempts {
			p.deps.Metrics.RecordTranscodeAttempt(attempt.Strategy, attempt.Succeeded(), attempt.Duration.Seconds())
		}
	}
	if result.Empty() {
		logger.Error("All transcode strategies failed",
			slog.String("hint", req.ContainerHint),
			slog.Int("bytes", len(req.Audio)),
			slog.Int("attempts", len(result.Attempts)),
			slog.Any("error", result.Err()))
		return p.failure(req.ID, StageTranscode, Outcome{Status: StatusError, Kind: KindTranscodeFailure})
	}

	pcm := result.PCM
	pcmDuration := audio.Duration(len(pcm), p.opts.SampleRate)
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordPCM(pcmDuration.Seconds())
	}
	logger.Debug("Audio transcoded",
		slog.String("strategy", result.Strategy),
		slog.Int("pcm_bytes", len(pcm)),
		slog.Duration("audio_duration", pcmDuration))

	if p.deps.Detector != nil {
		enter(StageDetect)
		analysis := p.deps.Detector.Analyze(pcm, p.opts.SampleRate)
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordVAD(analysis.Windows, analysis.HasSpeech, analysis.ProcessingTime.Seconds())
		}
		if !analysis.HasSpeech && analysis.Windows > 0 {
			logger.Info("No speech detected",
				slog.Int("windows", analysis.Windows),
				slog.Float64("voice_ratio", analysis.VoiceRatio))
			return p.failure(req.ID, StageDetect, Outcome{Status: StatusEmpty, Kind: KindUnintelligible})
		}
	}

	enter(StageRecognize)
	text, outcome := p.recognize(ctx, pcm, req.SourceLang, logger)
	if outcome != OK {
		return p.failure(req.ID, StageRecognize, outcome)
	}

	enter(StageTranslate)
	translated := p.Translate(ctx, text, req.SourceLang, req.TargetLang)

	enter(StageRespond)
	logger.Info("Audio translated",
		slog.String("source_lang", req.SourceLang),
		slog.String("target_lang", req.TargetLang),
		slog.Int("text_length", len(text)))

	return Response{
		RequestID:  req.ID,
		Original:   text,
		Translated: translated,
		Outcome:    OK,
		Stage:      StageRespond,
	}
}

func (p *Pipeline) recognize(ctx context.Context, pcm []byte, lang string, logger *slog.Logger) (string, Outcome) {
	startTime := time.Now()
	transcript, err := p.deps.Recognizer.Recognize(ctx, pcm, lang)
	outcome := ClassifyRecognition(err)

	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordRecognition(p.deps.Recognizer.EngineName(), recognitionLabel(outcome), time.Since(startTime).Seconds())
	}

	switch outcome.Status {
	case StatusOK:
		return transcript.Text, OK
	case StatusEmpty:
		logger.Info("Recognition returned no text", slog.String("kind", string(outcome.Kind)), slog.String("error", err.Error()))
	default:
		logger.Error("Recognition failed", slog.String("engine", p.deps.Recognizer.EngineName()), slog.String("error", err.Error()))
	}
	return "", outcome
}

// Translate translates text, degrading to the untranslated marker when the
// translator fails
func (p *Pipeline) Translate(ctx context.Context, text, source, target string) string {
	startTime := time.Now()
	result, err := p.deps.Translator.Translate(ctx, text, source, target)

	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordTranslation(p.deps.Translator.Name(), err == nil, time.Since(startTime).Seconds())
	}

	if err != nil {
		p.deps.Logger.Warn("Translation failed",
			slog.String("engine", p.deps.Translator.Name()),
			slog.String("error", err.Error()))
		return translation.Marker(text)
	}
	return result.TranslatedText
}

// failure builds the response for a non-ok outcome
func (p *Pipeline) failure(requestID string, stage Stage, outcome Outcome) Response {
	return Response{
		RequestID: requestID,
		Original:  p.opts.Messages.For(outcome.Kind),
		Outcome:   outcome,
		Stage:     stage,
	}
}

// Record stores resp in the history and publishes it. Both are best effort.
func (p *Pipeline) Record(ctx context.Context, req Request, resp Response) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordOutcome(string(resp.Outcome.Status), string(resp.Outcome.Kind), resp.Duration.Seconds())
	}

	// the request context may already be cancelled by a disconnected client
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.SideEffectTimeout)
	defer cancel()

	entry := history.Entry{
		CreatedAt:  time.Now().UTC(),
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Original:   resp.Original,
		Translated: resp.Translated,
		Status:     string(resp.Outcome.Status),
		Kind:       string(resp.Outcome.Kind),
		DurationMs: resp.Duration.Milliseconds(),
	}
	if id, err := uuid.Parse(req.ID); err == nil {
		entry.ID = id
	}

	if err := p.deps.History.Record(ctx, entry); err != nil {
		p.deps.Logger.Warn("Failed to record history",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordHistoryError()
		}
	}

	eventType := events.TypeTranslation
	if req.Stream {
		eventType = events.TypeStreamFinal
	}
	err := p.deps.Events.Publish(ctx, events.Event{
		ID:         req.ID,
		Type:       eventType,
		Timestamp:  entry.CreatedAt,
		SourceLang: req.SourceLang,
		TargetLang: req.TargetLang,
		Original:   resp.Original,
		Translated: resp.Translated,
		Status:     string(resp.Outcome.Status),
		Kind:       string(resp.Outcome.Kind),
		DurationMs: entry.DurationMs,
	})
	if err != nil {
		p.deps.Logger.Warn("Failed to publish event",
			slog.String("request_id", req.ID),
			slog.String("error", err.Error()))
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordEventError()
		}
	}
}

func recognitionLabel(o Outcome) string {
	switch o.Kind {
	case KindNone:
		return "ok"
	case KindInsufficientAudio:
		return "short"
	case KindUnintelligible:
		return "empty"
	}
	return "error"
}
