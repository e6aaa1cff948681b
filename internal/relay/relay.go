// Package relay runs one inbound voice message through download, decoding,
// transcription, reply generation, synthesis, encoding and delivery.
package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"voxrelay/internal/tts"
	"voxrelay/pkg/audioconv"
	"voxrelay/pkg/stt"
)

// Transport delivers results back to the conversation a message came from.
type Transport interface {
	SendVoiceReply(ctx context.Context, conversationID string, audio []byte, format audioconv.Format) error
	SendTextNotice(ctx context.Context, conversationID, text string) error
}

type Codec interface {
	Convert(ctx context.Context, data []byte, from, to audioconv.Format) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format audioconv.Format) (stt.Result, error)
}

type Generator interface {
	GenerateReply(ctx context.Context, prompt string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (tts.Audio, error)
}

// Source yields the compressed inbound audio of a message.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Bytes is a Source for audio already in memory.
type Bytes []byte

func (b Bytes) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (io.ReadCloser, error)

func (f SourceFunc) Open(ctx context.Context) (io.ReadCloser, error) { return f(ctx) }

// Request is one inbound voice message. Format may be empty, in which case
// the container is sniffed from the downloaded bytes.
type Request struct {
	ConversationID string
	Source         Source
	Format         audioconv.Format
	Transport      Transport
}

type StageTiming struct {
	Stage    Stage
	Duration time.Duration
}

// Report summarises a finished run. It never carries transcript or reply text.
type Report struct {
	RunID           string
	ConversationID  string
	State           State // CleanedUp or Failed
	Err             error
	Started         time.Time
	Finished        time.Time
	Stages          []StageTiming
	ArtifactsLeaked int
	NoticeSent      bool
}

func (r Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// FailedStage returns the stage that failed, or false for a successful run.
func (r Report) FailedStage() (Stage, bool) {
	var e *Error
	if errors.As(r.Err, &e) {
		return e.Stage, true
	}
	return 0, false
}

// Observer receives the report of every run once it reaches a terminal state.
type Observer interface {
	ObserveRun(ctx context.Context, rep Report)
}

type ObserverFunc func(ctx context.Context, rep Report)

func (f ObserverFunc) ObserveRun(ctx context.Context, rep Report) { f(ctx, rep) }
