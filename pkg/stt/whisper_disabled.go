//go:build !whisper

package stt

import (
	"context"
	"errors"

	"voxrelay/pkg/audioconv"
)

// ErrWhisperDisabled is returned when the binary was built without the whisper tag.
var ErrWhisperDisabled = errors.New("stt: built without whisper support (use -tags whisper)")

type Whisper struct{}

func NewWhisper(string, Options) (*Whisper, error) { return nil, ErrWhisperDisabled }

func (*Whisper) Close() error { return nil }

func (*Whisper) Transcribe(context.Context, []byte, audioconv.Format) (Result, error) {
	return Result{}, ErrWhisperDisabled
}
