package pipeline

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
	"github.com/Heliossandro/projeto-transcricao/internal/recognition"
)

// Status is the coarse result of a run
type Status string

const (
	StatusOK    Status = "ok"
	StatusEmpty Status = "empty"
	StatusError Status = "error"
)

// Kind names the reason for a non-ok status
type Kind string

const (
	KindNone              Kind = ""
	KindUnintelligible    Kind = "unintelligible_audio"
	KindUnavailable       Kind = "recognition_unavailable"
	KindTranscodeFailure  Kind = "transcode_failure"
	KindInsufficientAudio Kind = "insufficient_audio"
	KindUnhandled         Kind = "unhandled"
)

// Outcome is the tagged result of a run
type Outcome struct {
	Status Status `json:"status"`
	Kind   Kind   `json:"kind,omitempty"`
}

// OK is the successful outcome
var OK = Outcome{Status: StatusOK}

// String implements fmt.Stringer for logs
func (o Outcome) String() string {
	if o.Kind == KindNone {
		return string(o.Status)
	}
	return fmt.Sprintf("%s/%s", o.Status, o.Kind)
}

// HTTPStatus maps the outcome onto a response code
func (o Outcome) HTTPStatus() int {
	switch o.Kind {
	case KindTranscodeFailure:
		return http.StatusUnprocessableEntity
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindUnhandled:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}

// ClassifyRecognition maps a recognizer error onto an outcome
func ClassifyRecognition(err error) Outcome {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, recognition.ErrInsufficientAudio):
		return Outcome{Status: StatusEmpty, Kind: KindInsufficientAudio}
	case errors.Is(err, recognition.ErrUnintelligible):
		return Outcome{Status: StatusEmpty, Kind: KindUnintelligible}
	default:
		return Outcome{Status: StatusError, Kind: KindUnavailable}
	}
}

// Messages holds the user-facing text for each failure kind
type Messages struct {
	Unintelligible     string
	ServiceUnavailable string
	TranscodeFailure   string
	InsufficientAudio  string
	Unhandled          string
}

// MessagesFromConfig copies the configured messages
func MessagesFromConfig(cfg *config.MessagesConfig) Messages {
	return Messages{
		Unintelligible:     cfg.Unintelligible,
		ServiceUnavailable: cfg.ServiceUnavailable,
		TranscodeFailure:   cfg.TranscodeFailure,
		InsufficientAudio:  cfg.InsufficientAudio,
		Unhandled:          cfg.Unhandled,
	}
}

// For returns the message shown for kind
func (m Messages) For(kind Kind) string {
	switch kind {
	case KindUnintelligible:
		return m.Unintelligible
	case KindUnavailable:
		return m.ServiceUnavailable
	case KindTranscodeFailure:
		return m.TranscodeFailure
	case KindInsufficientAudio:
		return m.InsufficientAudio
	case KindUnhandled:
		return m.Unhandled
	}
	return ""
}
