// Package runtime wires configuration, providers, the relay pipeline and the
// transports into one process and owns its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	log "log/slog"

	ws "github.com/gorilla/websocket"
	openai "github.com/openai/openai-go/v3"
	"go.opentelemetry.io/otel"

	"voxrelay/internal/artifact"
	"voxrelay/internal/config"
	"voxrelay/internal/ipc"
	"voxrelay/internal/journal"
	"voxrelay/internal/netclient"
	"voxrelay/internal/provider"
	"voxrelay/internal/relay"
	"voxrelay/internal/reply"
	"voxrelay/internal/telemetry"
	"voxrelay/internal/transport"
	"voxrelay/internal/transport/bus"
	"voxrelay/internal/transport/telegram"
	"voxrelay/internal/tts"
	"voxrelay/pkg/audioconv"
	"voxrelay/pkg/stt"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg     config.Config
	log     *log.Logger
	ready   atomic.Bool
	started time.Time

	delivered atomic.Int64
	failed    atomic.Int64

	dispatcher *transport.Dispatcher
	journal    *journal.Journal
	closers    []io.Closer
	wg         sync.WaitGroup
}

func New(cfg config.Config, logger *log.Logger) *Runtime {
	if logger == nil {
		logger = log.Default()
	}
	return &Runtime{cfg: cfg, log: logger}
}

// Ready reports whether every transport is up and messages are accepted.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Start runs until ctx is cancelled, then drains in-flight runs within the
// configured shutdown timeout.
func (r *Runtime) Start(ctx context.Context) error {
	r.started = time.Now()

	tel, err := telemetry.Setup(ctx, r.cfg.Telemetry, r.cfg.Environment, r.log)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			r.log.Error("Telemetry shutdown error", "err", err)
		}
	}()
	defer r.closeAll()

	ncfg := netclient.Config{
		Proxy:               r.cfg.Network.Proxy,
		NoProxy:             r.cfg.Network.NoProxy,
		Timeout:             time.Duration(r.cfg.Network.TimeoutSeconds) * time.Second,
		DialTimeout:         time.Duration(r.cfg.Network.DialTimeoutMS) * time.Millisecond,
		TLSHandshakeTimeout: time.Duration(r.cfg.Network.TLSHandshakeMS) * time.Millisecond,
	}
	hc, err := netclient.New(ncfg)
	if err != nil {
		return fmt.Errorf("failed to build http client: %w", err)
	}
	r.log.Debug("Network configured", "proxy", netclient.Describe(ncfg))

	pipeline, err := r.buildPipeline(ctx, hc)
	if err != nil {
		return err
	}

	r.dispatcher = transport.NewDispatcher(pipeline, r.cfg.Relay.MaxConcurrentRuns, r.log)
	if err := telemetry.ObserveQueue(otel.Meter("voxrelay"), r.dispatcher); err != nil {
		r.log.Warn("Failed to register queue gauges", "err", err)
	}

	srv, err := r.startHTTP(tel.MetricsHandler())
	if err != nil {
		return err
	}
	if err := r.startControl(ctx); err != nil {
		if srv != nil {
			srv.Close()
		}
		return err
	}

	transportCtx, stopTransports := context.WithCancel(ctx)
	defer stopTransports()
	var transports sync.WaitGroup
	if err := r.startTransports(transportCtx, hc, &transports); err != nil {
		stopTransports()
		transports.Wait()
		if srv != nil {
			srv.Close()
		}
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(transportCtx)
	}()

	r.ready.Store(true)
	r.log.Info("Relay started", "max_concurrent_runs", r.cfg.Relay.MaxConcurrentRuns)

	<-ctx.Done()
	r.ready.Store(false)
	r.log.Info("Relay stopping")

	stopTransports()
	transports.Wait()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout())
	defer cancelDrain()
	if err := r.dispatcher.Shutdown(drainCtx); err != nil {
		r.log.Warn("Shutdown timed out with runs in flight", "in_flight", r.dispatcher.InFlight(), "queued", r.dispatcher.Queued())
	}

	if srv != nil {
		if err := srv.Shutdown(drainCtx); err != nil {
			r.log.Error("HTTP shutdown error", "err", err)
		}
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) buildPipeline(ctx context.Context, hc *http.Client) (*relay.Pipeline, error) {
	client, err := provider.NewOpenAIClient(provider.OpenAIConfig{
		APIKey:  r.cfg.OpenAI.APIKey,
		BaseURL: r.cfg.OpenAI.BaseURL,
	}, hc)
	if err != nil {
		return nil, err
	}

	transcriber, err := r.buildTranscriber(client)
	if err != nil {
		return nil, err
	}
	synthesizer, err := r.buildSynthesizer(client)
	if err != nil {
		return nil, err
	}
	generator := reply.New(client, reply.Config{
		Model:        r.cfg.Reply.Model,
		SystemPrompt: r.cfg.Reply.SystemPrompt,
		MaxTokens:    int64(r.cfg.Reply.MaxTokens),
		Temperature:  r.cfg.Reply.Temperature,
		Logger:       r.log,
	})

	root, err := artifact.NewRoot(r.cfg.Relay.ScratchDir)
	if err != nil {
		return nil, err
	}
	if r.cfg.Relay.SweepAfterMinutes > 0 {
		n, err := root.Sweep(time.Duration(r.cfg.Relay.SweepAfterMinutes) * time.Minute)
		if err != nil {
			r.log.Warn("Failed to sweep scratch dir", "dir", root.Dir(), "err", err)
		} else if n > 0 {
			r.log.Info("Removed stale run scopes", "count", n, "dir", root.Dir())
		}
	}

	j, err := journal.Open(ctx, r.cfg.Journal, r.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	r.journal = j
	r.closers = append(r.closers, j)

	observers := []relay.Observer{j, relay.ObserverFunc(r.countRun)}
	if m, err := telemetry.NewRunMetrics(otel.Meter("voxrelay")); err != nil {
		r.log.Warn("Failed to create run metrics", "err", err)
	} else {
		observers = append(observers, m)
	}

	codec := audioconv.New(audioconv.Options{
		TranscriptionRate: r.cfg.Audio.TranscriptionRate,
		OpusBitrate:       r.cfg.Audio.OpusBitrate,
		MinDuration:       time.Duration(r.cfg.Audio.MinDurationMS) * time.Millisecond,
		MaxDuration:       time.Duration(r.cfg.Audio.MaxDurationSeconds) * time.Second,
	})

	return relay.New(relay.Deps{
		Codec:       codec,
		Transcriber: transcriber,
		Generator:   generator,
		Synthesizer: synthesizer,
		Artifacts:   root,
		Observers:   observers,
		Logger:      r.log,
	}, relay.Config{
		Voice:         r.cfg.TTS.Voice,
		Notice:        r.cfg.Relay.FailureNotice,
		StageTimeout:  r.cfg.StageTimeout(),
		MaxAudioBytes: r.cfg.Relay.MaxAudioBytes,
	})
}

func (r *Runtime) buildTranscriber(client openai.Client) (relay.Transcriber, error) {
	opt := stt.Options{
		Language:    r.cfg.STT.Language,
		Prompt:      r.cfg.STT.Prompt,
		Temperature: r.cfg.STT.Temperature,
		Threads:     r.cfg.STT.Threads,
	}
	if r.cfg.STT.Backend == "whisper" {
		w, err := stt.NewWhisper(r.cfg.STT.ModelPath, opt)
		if err != nil {
			return nil, fmt.Errorf("failed to load whisper model: %w", err)
		}
		r.closers = append(r.closers, w)
		r.log.Info("Using local whisper", "model", r.cfg.STT.ModelPath)
		return w, nil
	}
	return stt.NewOpenAI(client, r.cfg.STT.Model, opt), nil
}

func (r *Runtime) buildSynthesizer(client openai.Client) (relay.Synthesizer, error) {
	if r.cfg.TTS.Backend == "espeak" {
		e, err := tts.NewEspeak(r.cfg.TTS.Language)
		if err != nil {
			return nil, fmt.Errorf("failed to init espeak: %w", err)
		}
		return e, nil
	}
	if err := tts.ValidateVoice(r.cfg.TTS.Voice); err != nil {
		return nil, err
	}
	format, ok := audioconv.ParseFormat(r.cfg.TTS.Format)
	if !ok {
		return nil, fmt.Errorf("unknown tts format %q", r.cfg.TTS.Format)
	}
	return tts.NewOpenAI(client, tts.Config{
		Model:  r.cfg.TTS.Model,
		Format: format,
		Speed:  r.cfg.TTS.Speed,
		Logger: r.log,
	}), nil
}

func (r *Runtime) startTransports(ctx context.Context, hc *http.Client, wg *sync.WaitGroup) error {
	if r.cfg.Telegram.Enabled {
		bot, err := telegram.New(r.cfg.Telegram.Token, hc, r.dispatcher, telegram.Config{
			Greeting:    r.cfg.Telegram.Greeting,
			PollTimeout: r.cfg.Telegram.PollSeconds,
			Debug:       r.cfg.Telegram.Debug,
		}, r.log)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bot.Run(ctx); err != nil {
				r.log.Error("Telegram transport stopped", "err", err)
			}
		}()
	}

	if r.cfg.Bus.Enabled {
		transportHTTP, _ := hc.Transport.(*http.Transport)
		dialer := &ws.Dialer{HandshakeTimeout: 10 * time.Second}
		if transportHTTP != nil {
			dialer.Proxy = transportHTTP.Proxy
			dialer.NetDialContext = transportHTTP.DialContext
		}
		b, err := bus.Dial(ctx, bus.Config{
			URL:       r.cfg.Bus.URL,
			Name:      r.cfg.Bus.Name,
			Reconnect: time.Duration(r.cfg.Bus.ReconnectMS) * time.Millisecond,
			Dialer:    dialer,
		}, r.dispatcher, r.log)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer b.Close()
			if err := b.Run(ctx); err != nil {
				r.log.Error("Bus transport stopped", "err", err)
			}
		}()
	}
	return nil
}

func (r *Runtime) startHTTP(metrics http.Handler) (*http.Server, error) {
	if r.cfg.HTTP.Port == 0 {
		return nil, nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("HTTP server failed", "err", err)
		}
	}()
	r.log.Info("HTTP listening", "addr", ln.Addr().String())
	return srv, nil
}

func (r *Runtime) startControl(ctx context.Context) error {
	if r.cfg.Control.Socket == "" {
		return nil
	}
	srv, err := ipc.Listen(r.cfg.Control.Socket, r.handleControl, r.log)
	if err != nil {
		return fmt.Errorf("failed to open control socket: %w", err)
	}
	r.closers = append(r.closers, srv)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		srv.Serve(ctx)
	}()
	r.log.Info("Control socket listening", "path", srv.Path())
	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	t := time.NewTicker(pruneInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.journal.Prune(ctx); err != nil {
				r.log.Warn("Journal prune failed", "err", err)
			}
		}
	}
}

func (r *Runtime) closeAll() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			r.log.Warn("Close failed", "err", err)
		}
	}
	r.closers = nil
}

func (r *Runtime) countRun(_ context.Context, rep relay.Report) {
	if rep.State == relay.Failed {
		r.failed.Add(1)
		return
	}
	r.delivered.Add(1)
}
