package transcode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heliossandro/projeto-transcricao/internal/audio"
	"github.com/Heliossandro/projeto-transcricao/internal/tempfile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type call struct {
	name     string
	args     []string
	hadStdin bool
}

// fakeRunner writes output for the last argument unless fail says otherwise
type fakeRunner struct {
	fail   func(n int, args []string) error
	output []byte

	mu    sync.Mutex
	calls []call
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, stdin io.Reader) error {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, call{name: name, args: args, hadStdin: stdin != nil})
	f.mu.Unlock()

	if stdin != nil {
		if _, err := io.ReadAll(stdin); err != nil {
			return err
		}
	}

	if f.fail != nil {
		if err := f.fail(n, args); err != nil {
			return err
		}
	}

	return os.WriteFile(args[len(args)-1], f.output, 0o600)
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newTranscoder(runner Runner) *Transcoder {
	return New(Options{
		BinaryPath:        "ffmpeg",
		SampleRate:        16000,
		FallbackContainer: "webm",
		Runner:            runner,
		Logger:            testLogger(),
	})
}

func TestTranscodeDirect(t *testing.T) {
	dir := t.TempDir()
	temps := tempfile.New(dir, "req", testLogger())
	runner := &fakeRunner{output: make([]byte, 6400)}
	tr := newTranscoder(runner)

	result := tr.Transcode(context.Background(), []byte("webm-bytes"), "webm", temps)

	require.False(t, result.Empty())
	assert.Equal(t, StrategyDirect, result.Strategy)
	assert.Len(t, result.PCM, 6400)
	require.Len(t, result.Attempts, 1)
	assert.True(t, result.Attempts[0].Succeeded())

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ffmpeg", calls[0].name)
	assert.Equal(t, []string{"-y", "-i"}, calls[0].args[:2])
	assert.Contains(t, calls[0].args, "s16le")
	assert.Contains(t, calls[0].args, "16000")
	assert.False(t, calls[0].hadStdin)

	temps.ReleaseAll()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscodeFallsBackToContainer(t *testing.T) {
	dir := t.TempDir()
	temps := tempfile.New(dir, "req", testLogger())
	runner := &fakeRunner{
		output: make([]byte, 3200),
		fail: func(n int, _ []string) error {
			if n == 0 {
				return errors.New("exit status 1: Invalid data found when processing input")
			}
			return nil
		},
	}
	tr := newTranscoder(runner)

	result := tr.Transcode(context.Background(), []byte("broken-webm"), "webm", temps)

	require.False(t, result.Empty())
	assert.Equal(t, StrategyContainer, result.Strategy)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, StrategyDirect, result.Attempts[0].Strategy)
	assert.Error(t, result.Attempts[0].Err)
	assert.True(t, result.Attempts[1].Succeeded())

	calls := runner.Calls()
	require.Len(t, calls, 3)
	// forced container from stdin, then the intermediate wav to pcm
	assert.Equal(t, []string{"-y", "-f", "webm", "-i", "pipe:0"}, calls[1].args[:5])
	assert.True(t, calls[1].hadStdin)
	assert.Equal(t, calls[1].args[len(calls[1].args)-1], calls[2].args[2])

	temps.ReleaseAll()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscodeAllStrategiesFail(t *testing.T) {
	dir := t.TempDir()
	temps := tempfile.New(dir, "req", testLogger())
	runner := &fakeRunner{
		fail: func(int, []string) error { return errors.New("exit status 1") },
	}
	tr := newTranscoder(runner)

	result := tr.Transcode(context.Background(), []byte("garbage"), "", temps)

	assert.True(t, result.Empty())
	assert.Empty(t, result.Strategy)
	require.Len(t, result.Attempts, 2)
	assert.ErrorContains(t, result.Err(), "direct: exit status 1")
	assert.ErrorContains(t, result.Err(), "container: exit status 1")

	temps.ReleaseAll()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTranscodeEmptyOutputIsFailure(t *testing.T) {
	temps := tempfile.New(t.TempDir(), "req", testLogger())
	defer temps.ReleaseAll()

	tr := newTranscoder(&fakeRunner{output: nil})
	result := tr.Transcode(context.Background(), []byte("silence"), "ogg", temps)

	assert.True(t, result.Empty())
	for _, a := range result.Attempts {
		assert.ErrorIs(t, a.Err, ErrEmptyOutput)
	}
}

func TestTranscodePassthrough(t *testing.T) {
	temps := tempfile.New(t.TempDir(), "req", testLogger())
	defer temps.ReleaseAll()

	runner := &fakeRunner{}
	tr := newTranscoder(runner)

	pcm := make([]byte, 4000)
	result := tr.Transcode(context.Background(), pcm, "s16le", temps)
	assert.Equal(t, StrategyPassthrough, result.Strategy)
	assert.Equal(t, pcm, result.PCM)

	wav, err := audio.WrapPCM(pcm, 16000)
	require.NoError(t, err)
	result = tr.Transcode(context.Background(), wav, "", temps)
	assert.Equal(t, StrategyPassthrough, result.Strategy)
	assert.Equal(t, pcm, result.PCM)

	assert.Empty(t, runner.Calls())
	assert.Empty(t, temps.Paths())
}

func TestTranscodeResampledWAVUsesConverter(t *testing.T) {
	temps := tempfile.New(t.TempDir(), "req", testLogger())
	defer temps.ReleaseAll()

	runner := &fakeRunner{output: make([]byte, 3200)}
	tr := newTranscoder(runner)

	wav, err := audio.WrapPCM(make([]byte, 1600), 8000)
	require.NoError(t, err)

	result := tr.Transcode(context.Background(), wav, "wav", temps)
	assert.Equal(t, StrategyDirect, result.Strategy)
	assert.Len(t, runner.Calls(), 1)
}

func TestTranscodeCancelledContext(t *testing.T) {
	temps := tempfile.New(t.TempDir(), "req", testLogger())
	defer temps.ReleaseAll()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &fakeRunner{output: make([]byte, 3200)}
	result := newTranscoder(runner).Transcode(ctx, []byte("webm"), "webm", temps)

	assert.True(t, result.Empty())
	require.Len(t, result.Attempts, 1)
	assert.ErrorIs(t, result.Attempts[0].Err, context.Canceled)
	assert.Empty(t, runner.Calls())
}

func TestStrategiesOrder(t *testing.T) {
	tr := newTranscoder(&fakeRunner{})
	assert.Equal(t, []string{StrategyDirect, StrategyContainer}, tr.Strategies())
}

func TestDetectContainer(t *testing.T) {
	wav, err := audio.WrapPCM([]byte{0, 0}, 16000)
	require.NoError(t, err)

	tests := []struct {
		name        string
		data        []byte
		contentType string
		filename    string
		want        string
	}{
		{name: "wav magic", data: wav, contentType: "audio/webm", want: HintWAV},
		{name: "webm magic", data: []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, want: HintWebM},
		{name: "ogg magic", data: []byte("OggS\x00"), want: HintOgg},
		{name: "content type with codecs", data: []byte("xx"), contentType: "audio/webm;codecs=opus", want: HintWebM},
		{name: "file name", data: []byte("xx"), contentType: "application/octet-stream", filename: "clip.M4A", want: HintMP4},
		{name: "unknown", data: []byte("xx"), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContainer(tt.data, tt.contentType, tt.filename))
		})
	}
}

func TestExecRunnerFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r := NewExecRunner(5*time.Second, testLogger())
	err := r.Run(context.Background(), "sh", []string{"-c", "echo bad input >&2; exit 3"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Contains(t, err.Error(), "bad input")
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestExecRunnerTimeout(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	r := NewExecRunner(100*time.Millisecond, testLogger())
	startTime := time.Now()
	err := r.Run(context.Background(), "sleep", []string{"5"}, nil)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(startTime), 3*time.Second)
}

func TestFFmpegIntegration(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not available")
	}

	temps := tempfile.New(t.TempDir(), "req", testLogger())
	defer temps.ReleaseAll()

	// one second at 8 kHz must come out as one second at 16 kHz
	wav, err := audio.WrapPCM(make([]byte, 16000), 8000)
	require.NoError(t, err)

	tr := New(Options{Logger: testLogger()})
	result := tr.Transcode(context.Background(), wav, "wav", temps)

	require.False(t, result.Empty(), "attempts: %v", result.Err())
	assert.InDelta(t, 32000, len(result.PCM), 1000)
}
