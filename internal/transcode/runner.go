package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

// ErrTimeout is returned when a converter invocation exceeds its time budget
var ErrTimeout = errors.New("converter timed out")

// stderrTail bounds how much converter output is kept in errors
const stderrTail = 512

// Runner executes an external command to completion
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin io.Reader) error
}

// ExecRunner runs commands with os/exec under a per-invocation timeout
type ExecRunner struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecRunner creates a runner that kills commands after timeout
func NewExecRunner(timeout time.Duration, logger *slog.Logger) *ExecRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExecRunner{timeout: timeout, logger: logger}
}

// Run executes name with args, feeding stdin when it is not nil
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) error {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	startTime := time.Now()
	err := cmd.Run()
	elapsed := time.Since(startTime)

	if err == nil {
		r.logger.Debug("Converter finished",
			slog.String("command", name),
			slog.Duration("duration", elapsed))
		return nil
	}

	// caller cancellation wins over our own deadline
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s exceeded %s: %w", name, r.timeout, ErrTimeout)
	}

	return fmt.Errorf("%s failed: %w: %s", name, err, tail(stderr.Bytes()))
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return string(b)
}
