//go:build !whisper

package stt

import (
	"context"
	"errors"
	"testing"
)

func TestWhisperDisabled(t *testing.T) {
	if _, err := NewWhisper("model.bin", Options{}); !errors.Is(err, ErrWhisperDisabled) {
		t.Fatalf("expected ErrWhisperDisabled, got %v", err)
	}
	var w *Whisper
	if _, err := w.Transcribe(context.Background(), nil, ""); !errors.Is(err, ErrWhisperDisabled) {
		t.Fatalf("expected ErrWhisperDisabled, got %v", err)
	}
}
