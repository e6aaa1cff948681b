package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"voxrelay/internal/artifact"
	"voxrelay/internal/tts"
	"voxrelay/pkg/audioconv"
	"voxrelay/pkg/stt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type sentVoice struct {
	conversation string
	audio        []byte
	format       audioconv.Format
}

type fakeTransport struct {
	mu        sync.Mutex
	voices    []sentVoice
	notices   []string
	voiceErr  error
	noticeErr error
}

func (f *fakeTransport) SendVoiceReply(_ context.Context, conv string, audio []byte, format audioconv.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voiceErr != nil {
		return f.voiceErr
	}
	f.voices = append(f.voices, sentVoice{conv, audio, format})
	return nil
}

func (f *fakeTransport) SendTextNotice(_ context.Context, conv, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, conv+"|"+text)
	return f.noticeErr
}

func (f *fakeTransport) counts() (voices, notices int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.voices), len(f.notices)
}

// tagCodec prefixes payloads with the target format so tests can follow the data.
type tagCodec struct {
	fail map[audioconv.Format]error // keyed by target format
}

func (c tagCodec) Convert(ctx context.Context, data []byte, from, to audioconv.Format) ([]byte, error) {
	if err := c.fail[to]; err != nil {
		return nil, err
	}
	return append([]byte(string(to)+":"), data...), nil
}

type transcriberFunc func(ctx context.Context, audio []byte, f audioconv.Format) (stt.Result, error)

func (fn transcriberFunc) Transcribe(ctx context.Context, audio []byte, f audioconv.Format) (stt.Result, error) {
	return fn(ctx, audio, f)
}

type generatorFunc func(ctx context.Context, prompt string) (string, error)

func (fn generatorFunc) GenerateReply(ctx context.Context, prompt string) (string, error) {
	return fn(ctx, prompt)
}

type synthesizerFunc func(ctx context.Context, text, voice string) (tts.Audio, error)

func (fn synthesizerFunc) Synthesize(ctx context.Context, text, voice string) (tts.Audio, error) {
	return fn(ctx, text, voice)
}

// echo stages: transcript is the payload after the codec tag, reply and audio
// carry it forward.
func echoTranscriber() Transcriber {
	return transcriberFunc(func(_ context.Context, audio []byte, _ audioconv.Format) (stt.Result, error) {
		return stt.Result{Text: strings.TrimPrefix(string(audio), "wav:")}, nil
	})
}

func echoGenerator() Generator {
	return generatorFunc(func(_ context.Context, prompt string) (string, error) {
		return "re:" + prompt, nil
	})
}

func echoSynthesizer() Synthesizer {
	return synthesizerFunc(func(_ context.Context, text, _ string) (tts.Audio, error) {
		return tts.Audio{Data: []byte(text), Format: audioconv.FormatMP3}, nil
	})
}

type recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recorder) ObserveRun(_ context.Context, rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
}

func (r *recorder) all() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}

type harness struct {
	deps Deps
	cfg  Config
	root *artifact.Root
	rec  *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root, err := artifact.NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	return &harness{
		root: root,
		rec:  rec,
		deps: Deps{
			Codec:       tagCodec{},
			Transcriber: echoTranscriber(),
			Generator:   echoGenerator(),
			Synthesizer: echoSynthesizer(),
			Artifacts:   root,
			Observers:   []Observer{rec},
			Logger:      discardLogger(),
		},
		cfg: Config{Voice: "alloy", Notice: "oops"},
	}
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(h.deps, h.cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

// assertNoArtifacts checks that no run left anything under the scratch root.
func (h *harness) assertNoArtifacts(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.root.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty scratch dir, found %d entries", len(entries))
	}
	for _, rep := range h.rec.all() {
		if rep.ArtifactsLeaked != 0 {
			t.Fatalf("run %s leaked %d artifacts", rep.RunID, rep.ArtifactsLeaked)
		}
	}
}

func failingSource(err error) Source {
	return SourceFunc(func(context.Context) (io.ReadCloser, error) { return nil, err })
}

var errBoom = errors.New("boom")
