package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
	"github.com/Heliossandro/projeto-transcricao/internal/tempfile"
)

// Strategy names reported in attempts
const (
	StrategyPassthrough = "passthrough"
	StrategyDirect      = "direct"
	StrategyContainer   = "container"
)

// ErrEmptyOutput is returned when the converter succeeds but writes nothing
var ErrEmptyOutput = errors.New("converter produced no audio")

// Strategy is one way of turning a blob into PCM
type Strategy interface {
	Name() string
	Convert(ctx context.Context, in Input, temps *tempfile.Manager) ([]byte, error)
}

// Input is the blob to convert together with its container hint
type Input struct {
	Data []byte
	Hint string
}

// Attempt records the outcome of a single strategy
type Attempt struct {
	Strategy string        `json:"strategy"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the attempt produced PCM
func (a Attempt) Succeeded() bool {
	return a.Err == nil
}

// Result is the outcome of Transcode. An empty PCM means every strategy failed.
type Result struct {
	PCM      []byte    `json:"-"`
	Strategy string    `json:"strategy,omitempty"`
	Attempts []Attempt `json:"attempts"`
}

// Empty reports whether no strategy produced audio
func (r Result) Empty() bool {
	return len(r.PCM) == 0
}

// Err joins the errors of every failed attempt
func (r Result) Err() error {
	var errs []error
	for _, a := range r.Attempts {
		if a.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a.Strategy, a.Err))
		}
	}
	return errors.Join(errs...)
}

// Options configures a Transcoder
type Options struct {
	BinaryPath        string
	SampleRate        int
	FallbackContainer string
	Runner            Runner
	Logger            *slog.Logger
}

// Transcoder converts audio blobs into mono s16le PCM at a fixed sample rate
type Transcoder struct {
	sampleRate int
	strategies []Strategy
	logger     *slog.Logger
}

// New creates a Transcoder with the direct and container strategies, in that order
func New(opts Options) *Transcoder {
	if opts.BinaryPath == "" {
		opts.BinaryPath = "ffmpeg"
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.FallbackContainer == "" {
		opts.FallbackContainer = HintWebM
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Runner == nil {
		opts.Runner = NewExecRunner(0, opts.Logger)
	}

	conv := &ffmpeg{binary: opts.BinaryPath, sampleRate: opts.SampleRate, runner: opts.Runner}
	return NewWithStrategies(opts.SampleRate, opts.Logger,
		&directStrategy{ffmpeg: conv},
		&containerStrategy{ffmpeg: conv, container: opts.FallbackContainer},
	)
}

// NewWithStrategies creates a Transcoder with an explicit strategy order
func NewWithStrategies(sampleRate int, logger *slog.Logger, strategies ...Strategy) *Transcoder {
	return &Transcoder{
		sampleRate: sampleRate,
		strategies: strategies,
		logger:     logger,
	}
}

// Strategies returns the strategy names in the order they are tried
func (t *Transcoder) Strategies() []string {
	names := make([]string, len(t.strategies))
	for i, s := range t.strategies {
		names[i] = s.Name()
	}
	return names
}

// Transcode converts blob into PCM. Temp files are registered with temps and
// left for the caller to release.
func (t *Transcoder) Transcode(ctx context.Context, blob []byte, hint string, temps *tempfile.Manager) Result {
	var result Result
	hint = NormalizeHint(hint)

	if pcm, ok := t.passthrough(blob, hint); ok {
		result.PCM = pcm
		result.Strategy = StrategyPassthrough
		result.Attempts = append(result.Attempts, Attempt{Strategy: StrategyPassthrough})
		return result
	}

	in := Input{Data: blob, Hint: hint}
	for _, strategy := range t.strategies {
		if err := ctx.Err(); err != nil {
			result.Attempts = append(result.Attempts, Attempt{Strategy: strategy.Name(), Err: err})
			break
		}

		startTime := time.Now()
		pcm, err := strategy.Convert(ctx, in, temps)
		if err == nil && len(pcm) == 0 {
			err = ErrEmptyOutput
		}

		attempt := Attempt{Strategy: strategy.Name(), Err: err, Duration: time.Since(startTime)}
		result.Attempts = append(result.Attempts, attempt)

		if err != nil {
			t.logger.Warn("Transcode strategy failed",
				slog.String("strategy", strategy.Name()),
				slog.String("hint", hint),
				slog.Int("input_bytes", len(blob)),
				slog.Duration("duration", attempt.Duration),
				slog.String("error", err.Error()))
			continue
		}

		result.PCM = pcm
		result.Strategy = strategy.Name()
		t.logger.Debug("Transcoded audio",
			slog.String("strategy", strategy.Name()),
			slog.Int("input_bytes", len(blob)),
			slog.Int("pcm_bytes", len(pcm)),
			slog.Duration("duration", attempt.Duration))
		return result
	}

	return result
}

// passthrough skips the converter for input that already is target PCM
func (t *Transcoder) passthrough(blob []byte, hint string) ([]byte, bool) {
	switch {
	case hint == HintPCM:
		if len(blob) == 0 || len(blob)%audio.BytesPerSample != 0 {
			return nil, false
		}
		return blob, true
	case hint == HintWAV || (hint == "" && audio.IsWAV(blob)):
		pcm, info, err := audio.ExtractPCM(blob)
		if err != nil || !info.IsTargetFormat(t.sampleRate) || len(pcm) == 0 {
			return nil, false
		}
		return pcm, true
	}
	return nil, false
}

// ffmpeg builds and runs converter invocations
type ffmpeg struct {
	binary     string
	sampleRate int
	runner     Runner
}

func (f *ffmpeg) pcmArgs(input, output string) []string {
	return []string{
		"-y",
		"-i", input,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(f.sampleRate),
		output,
	}
}

// toPCM converts a file on disk into a raw PCM file and reads it back
func (f *ffmpeg) toPCM(ctx context.Context, input string, temps *tempfile.Manager) ([]byte, error) {
	output := temps.Reserve(".pcm")
	if err := f.runner.Run(ctx, f.binary, f.pcmArgs(input, output), nil); err != nil {
		return nil, err
	}

	pcm, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("failed to read converter output: %w", err)
	}
	return pcm, nil
}

// directStrategy lets the converter probe the container from a file
type directStrategy struct {
	ffmpeg *ffmpeg
}

func (s *directStrategy) Name() string { return StrategyDirect }

func (s *directStrategy) Convert(ctx context.Context, in Input, temps *tempfile.Manager) ([]byte, error) {
	input, err := temps.Acquire(suffixFor(in.Hint))
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(input, in.Data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write converter input: %w", err)
	}

	return s.ffmpeg.toPCM(ctx, input, temps)
}

// containerStrategy forces the container format and pipes the blob through
// stdin into an intermediate WAV, which is then converted to PCM. Browser
// recordings with broken duration metadata usually decode this way.
type containerStrategy struct {
	ffmpeg    *ffmpeg
	container string
}

func (s *containerStrategy) Name() string { return StrategyContainer }

func (s *containerStrategy) Convert(ctx context.Context, in Input, temps *tempfile.Manager) ([]byte, error) {
	intermediate := temps.Reserve(".wav")
	args := []string{
		"-y",
		"-f", s.container,
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(s.ffmpeg.sampleRate),
		intermediate,
	}

	if err := s.ffmpeg.runner.Run(ctx, s.ffmpeg.binary, args, bytes.NewReader(in.Data)); err != nil {
		return nil, err
	}

	return s.ffmpeg.toPCM(ctx, intermediate, temps)
}
