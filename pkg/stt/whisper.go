//go:build whisper

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"voxrelay/internal/provider"
	"voxrelay/pkg/audioconv"
)

const whisperRate = 16000

// Whisper runs a local whisper.cpp model. The model is loaded once; contexts
// are created per call and calls are serialised since the bindings share state.
type Whisper struct {
	mu    sync.Mutex
	model whisper.Model // interface, not pointer
	opt   Options
}

func NewWhisper(modelPath string, opt Options) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Whisper{model: m, opt: opt}, nil
}

func (w *Whisper) Close() error {
	if w.model == nil {
		return nil
	}
	return w.model.Close()
}

// Transcribe decodes audio to 16 kHz mono and runs the model over it.
func (w *Whisper) Transcribe(ctx context.Context, audio []byte, format audioconv.Format) (Result, error) {
	pcm, err := audioconv.DecodePCM(audio, format, whisperRate)
	if err != nil {
		return Result{}, provider.Wrap("whisper", "decode", err)
	}
	res, err := w.transcribePCM(ctx, pcm)
	if err != nil {
		return Result{}, provider.Wrap("whisper", "transcribe", err)
	}
	return res, nil
}

// pcm16k must be mono @ 16 kHz, float32 in [-1, 1]
func (w *Whisper) transcribePCM(ctx context.Context, pcm16k []float32) (Result, error) {
	if w.model == nil {
		return Result{}, errors.New("nil model")
	}
	if len(pcm16k) == 0 {
		return Result{}, errors.New("no audio samples provided")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}

	lang := w.opt.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return Result{}, fmt.Errorf("set language: %w", err)
	}

	threads := w.opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if w.opt.Prompt != "" {
		wctx.SetInitialPrompt(w.opt.Prompt)
	}
	if w.opt.Temperature != 0 {
		wctx.SetTemperature(w.opt.Temperature)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("process: %w", err)
	}

	var (
		segs  []Segment
		parts []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}
		segs = append(segs, Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		parts = append(parts, strings.TrimSpace(s.Text))
	}

	detected := wctx.DetectedLanguage()
	if detected == "" {
		detected = wctx.Language()
	}

	return Result{
		Text:     strings.TrimSpace(strings.Join(parts, " ")),
		Segments: segs,
		Language: detected,
	}, nil
}
