package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	log "log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"voxrelay/internal/artifact"
	"voxrelay/pkg/audioconv"
)

const (
	DefaultNotice        = "Sorry, something went wrong while processing your voice message. Please try again."
	DefaultStageTimeout  = 60 * time.Second
	DefaultMaxAudioBytes = 20 << 20
)

type Config struct {
	Voice           string
	Notice          string        // generic text sent on failure
	StageTimeout    time.Duration // per network stage
	DownloadTimeout time.Duration // 0 = StageTimeout
	NoticeTimeout   time.Duration // 0 = StageTimeout
	MaxAudioBytes   int64
}

type Deps struct {
	Codec       Codec
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
	Artifacts   *artifact.Root
	Observers   []Observer
	Logger      *log.Logger
}

// Pipeline is safe for concurrent use; runs share no mutable state.
type Pipeline struct {
	deps   Deps
	cfg    Config
	log    *log.Logger
	tracer trace.Tracer
}

func New(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Codec == nil:
		return nil, errors.New("relay: codec required")
	case deps.Transcriber == nil:
		return nil, errors.New("relay: transcriber required")
	case deps.Generator == nil:
		return nil, errors.New("relay: generator required")
	case deps.Synthesizer == nil:
		return nil, errors.New("relay: synthesizer required")
	case deps.Artifacts == nil:
		return nil, errors.New("relay: artifact root required")
	}
	if cfg.Notice == "" {
		cfg.Notice = DefaultNotice
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = DefaultStageTimeout
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = cfg.StageTimeout
	}
	if cfg.NoticeTimeout <= 0 {
		cfg.NoticeTimeout = cfg.StageTimeout
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		log:    logger.With("component", "relay"),
		tracer: otel.Tracer("voxrelay/relay"),
	}, nil
}

// run is the state of one message while it moves through the pipeline.
type run struct {
	id     string
	req    Request
	state  State
	scope  *artifact.Scope
	log    *log.Logger
	stages []StageTiming
}

// Process drives req to a terminal state and returns nil or a *Error.
// Cancelling ctx does not abort a started run; each stage has its own timeout.
func (p *Pipeline) Process(ctx context.Context, req Request) error {
	ctx = context.WithoutCancel(ctx)
	started := time.Now()

	r := &run{
		id:    uuid.NewString(),
		req:   req,
		state: Received,
	}
	r.log = p.log.With("run_id", r.id, "conversation", req.ConversationID)

	ctx, span := p.tracer.Start(ctx, "relay.run", trace.WithAttributes(
		attribute.String("relay.run_id", r.id),
		attribute.String("relay.conversation", req.ConversationID),
	))
	defer span.End()

	r.log.Info("Run started", "format", req.Format)

	var err error
	if req.Transport == nil || req.Source == nil {
		err = &Error{Stage: StageDownload, Kind: ErrDownload, Err: errors.New("request has no source or transport")}
	} else if r.scope, err = p.deps.Artifacts.NewScope(r.id); err != nil {
		err = &Error{Stage: StageDownload, Kind: ErrDownload, Err: err}
	} else {
		err = p.execute(ctx, r)
	}

	leaked := p.cleanup(ctx, r)

	rep := Report{
		RunID:           r.id,
		ConversationID:  req.ConversationID,
		Started:         started,
		Stages:          r.stages,
		ArtifactsLeaked: leaked,
	}

	if err != nil {
		r.state = Failed
		rep.Err = err
		r.log.Error("Run failed", "stage", failedStage(err), "kind", KindName(err), "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, KindName(err))
		if req.Transport != nil {
			rep.NoticeSent = p.notify(ctx, r)
		}
	} else {
		r.state = CleanedUp
		span.SetStatus(codes.Ok, "")
	}

	rep.State = r.state
	rep.Finished = time.Now()
	span.SetAttributes(attribute.String("relay.state", r.state.String()))
	r.log.Info("Run finished", "state", r.state, "took", rep.Duration())

	for _, o := range p.deps.Observers {
		o.ObserveRun(ctx, rep)
	}
	return err
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	var inbound []byte
	err := p.stage(ctx, r, StageDownload, p.cfg.DownloadTimeout, func(ctx context.Context) error {
		data, err := p.download(ctx, r.req.Source)
		if err != nil {
			return err
		}
		if r.req.Format == "" {
			r.req.Format = audioconv.Sniff(data)
			if r.req.Format == "" {
				return &Error{Stage: StageDecode, Kind: ErrCodec, Err: ErrUnknownFormat}
			}
		}
		inbound = data
		_, err = r.scope.Put("inbound"+r.req.Format.Ext(), data)
		return err
	})
	if err != nil {
		return p.fail(StageDownload, ErrDownload, err)
	}

	var decoded []byte
	err = p.stage(ctx, r, StageDecode, p.cfg.StageTimeout, func(ctx context.Context) error {
		out, err := p.deps.Codec.Convert(ctx, inbound, r.req.Format, audioconv.FormatWAV)
		if err != nil {
			return err
		}
		decoded = out
		_, err = r.scope.Put("inbound.wav", out)
		return err
	})
	if err != nil {
		return p.fail(StageDecode, ErrCodec, err)
	}

	var transcript string
	err = p.stage(ctx, r, StageTranscribe, p.cfg.StageTimeout, func(ctx context.Context) error {
		res, err := p.deps.Transcriber.Transcribe(ctx, decoded, audioconv.FormatWAV)
		if err != nil {
			return err
		}
		transcript = strings.TrimSpace(res.Text)
		if transcript == "" {
			return ErrEmptyTranscript
		}
		return nil
	})
	if err != nil {
		return p.fail(StageTranscribe, ErrTranscription, err)
	}
	r.log.Debug("Transcribed", "chars", len(transcript))

	var answer string
	err = p.stage(ctx, r, StageGenerate, p.cfg.StageTimeout, func(ctx context.Context) error {
		out, err := p.deps.Generator.GenerateReply(ctx, transcript)
		if err != nil {
			return err
		}
		if strings.TrimSpace(out) == "" {
			return errors.New("empty reply")
		}
		answer = out
		return nil
	})
	if err != nil {
		return p.fail(StageGenerate, ErrGeneration, err)
	}
	r.log.Debug("Generated reply", "chars", len(answer))

	var synth []byte
	var synthFormat audioconv.Format
	err = p.stage(ctx, r, StageSynthesize, p.cfg.StageTimeout, func(ctx context.Context) error {
		audio, err := p.deps.Synthesizer.Synthesize(ctx, answer, p.cfg.Voice)
		if err != nil {
			return err
		}
		if len(audio.Data) == 0 {
			return errors.New("empty audio")
		}
		synthFormat = audio.Format
		if synthFormat == "" {
			synthFormat = audioconv.Sniff(audio.Data)
		}
		synth = audio.Data
		_, err = r.scope.Put("synth"+synthFormat.Ext(), audio.Data)
		return err
	})
	if err != nil {
		return p.fail(StageSynthesize, ErrSynthesis, err)
	}

	var outbound []byte
	err = p.stage(ctx, r, StageEncode, p.cfg.StageTimeout, func(ctx context.Context) error {
		out, err := p.deps.Codec.Convert(ctx, synth, synthFormat, audioconv.FormatOgg)
		if err != nil {
			return err
		}
		outbound = out
		_, err = r.scope.Put("outbound.ogg", out)
		return err
	})
	if err != nil {
		return p.fail(StageEncode, ErrCodec, err)
	}

	err = p.stage(ctx, r, StageDeliver, p.cfg.StageTimeout, func(ctx context.Context) error {
		return r.req.Transport.SendVoiceReply(ctx, r.req.ConversationID, outbound, audioconv.FormatOgg)
	})
	if err != nil {
		return p.fail(StageDeliver, ErrDelivery, err)
	}
	return nil
}

// stage runs fn under its own timeout and span and advances the run state on success.
func (p *Pipeline) stage(ctx context.Context, r *run, s Stage, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "relay."+s.String())
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	r.stages = append(r.stages, StageTiming{Stage: s, Duration: time.Since(start)})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, s.String())
		return err
	}
	r.state = s.reached()
	r.log.Debug("Stage done", "stage", s, "state", r.state, "took", time.Since(start))
	return nil
}

// fail classifies err as a failure of stage s, unless it already is a relay error.
func (p *Pipeline) fail(s Stage, kind, err error) error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{Stage: s, Kind: kind, Err: err}
}

func (p *Pipeline) download(ctx context.Context, src Source) ([]byte, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, p.cfg.MaxAudioBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.cfg.MaxAudioBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, p.cfg.MaxAudioBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("empty audio payload")
	}
	return data, nil
}

// cleanup releases the run scope. Failures are logged only.
func (p *Pipeline) cleanup(ctx context.Context, r *run) int {
	if r.scope == nil {
		return 0
	}
	_, span := p.tracer.Start(ctx, "relay.cleanup")
	defer span.End()

	start := time.Now()
	if err := r.scope.Release(); err != nil {
		r.log.Warn("Failed to release artifacts", "dir", r.scope.Dir(), "err", err)
	}
	r.stages = append(r.stages, StageTiming{Stage: StageCleanup, Duration: time.Since(start)})

	leaked := r.scope.Outstanding()
	if leaked > 0 {
		r.log.Warn("Artifacts left behind", "count", leaked, "dir", r.scope.Dir())
	}
	return leaked
}

func (p *Pipeline) notify(ctx context.Context, r *run) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.NoticeTimeout)
	defer cancel()
	if err := r.req.Transport.SendTextNotice(ctx, r.req.ConversationID, p.cfg.Notice); err != nil {
		r.log.Warn("Failed to send failure notice", "err", err)
		return false
	}
	return true
}

func failedStage(err error) string {
	var re *Error
	if errors.As(err, &re) {
		return re.Stage.String()
	}
	return ""
}
