package relay

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is(err, relay.ErrSynthesis).
var (
	ErrDownload      = errors.New("download failed")
	ErrCodec         = errors.New("codec failed")
	ErrTranscription = errors.New("transcription failed")
	ErrGeneration    = errors.New("generation failed")
	ErrSynthesis     = errors.New("synthesis failed")
	ErrDelivery      = errors.New("delivery failed")
)

var (
	ErrEmptyTranscript = errors.New("empty transcript")
	ErrTooLarge        = errors.New("audio exceeds size limit")
	ErrUnknownFormat   = errors.New("unrecognised audio container")
)

// Error is the failure of one run: the stage that failed, its kind and the cause.
type Error struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error { return []error{e.Kind, e.Err} }

// KindName is the short label used in logs, metrics and the journal.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDownload):
		return "download"
	case errors.Is(err, ErrCodec):
		return "codec"
	case errors.Is(err, ErrTranscription):
		return "transcription"
	case errors.Is(err, ErrGeneration):
		return "generation"
	case errors.Is(err, ErrSynthesis):
		return "synthesis"
	case errors.Is(err, ErrDelivery):
		return "delivery"
	}
	return "unknown"
}
