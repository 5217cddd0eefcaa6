//go:build !vosk

package recognition

import (
	"errors"
	"log/slog"
)

// ErrVoskUnavailable is returned when the binary was built without the vosk tag
var ErrVoskUnavailable = errors.New("vosk support not compiled in, rebuild with -tags vosk")

// VoskEngine is unavailable in this build
type VoskEngine struct{}

// NewVoskEngine always fails without the vosk build tag
func NewVoskEngine(_ string, _ int, _ *slog.Logger) (*VoskEngine, error) {
	return nil, ErrVoskUnavailable
}

// Name returns the engine name
func (e *VoskEngine) Name() string {
	return "vosk"
}

// NewSession always fails without the vosk build tag
func (e *VoskEngine) NewSession(_ string) (Session, error) {
	return nil, ErrVoskUnavailable
}
