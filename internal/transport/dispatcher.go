// Package transport connects chat front-ends to the relay pipeline.
//
// Adapters (telegram, bus) turn inbound voice messages into relay.Requests
// and hand them to a Dispatcher, which keeps one FIFO lane per conversation
// and bounds how many runs execute at once.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	log "log/slog"

	"golang.org/x/sync/semaphore"

	"voxrelay/internal/relay"
)

var ErrClosed = errors.New("transport: dispatcher closed")

// Processor runs one request to completion.
type Processor interface {
	Process(ctx context.Context, req relay.Request) error
}

type Dispatcher struct {
	proc Processor
	sem  *semaphore.Weighted
	log  *log.Logger

	mu     sync.Mutex
	lanes  map[string][]relay.Request
	closed bool
	wg     sync.WaitGroup

	queued   atomic.Int64
	inFlight atomic.Int64
}

// NewDispatcher allows at most maxConcurrent runs at a time (<=0 means 1).
func NewDispatcher(proc Processor, maxConcurrent int, logger *log.Logger) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		proc:  proc,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
		log:   logger.With("component", "dispatcher"),
		lanes: make(map[string][]relay.Request),
	}
}

// Submit queues req behind earlier messages of the same conversation.
// It never blocks on pipeline work.
func (d *Dispatcher) Submit(req relay.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	d.queued.Add(1)
	pending, busy := d.lanes[req.ConversationID]
	d.lanes[req.ConversationID] = append(pending, req)
	if !busy {
		d.wg.Add(1)
		go d.drain(req.ConversationID)
	}
	d.log.Debug("Queued voice message", "conversation", req.ConversationID, "lane", len(pending)+1)
	return nil
}

func (d *Dispatcher) drain(conv string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		pending := d.lanes[conv]
		if len(pending) == 0 {
			delete(d.lanes, conv)
			d.mu.Unlock()
			return
		}
		req := pending[0]
		d.lanes[conv] = pending[1:]
		d.mu.Unlock()

		// background ctx: admitted runs always complete, Shutdown only waits
		_ = d.sem.Acquire(context.Background(), 1)
		d.queued.Add(-1)
		d.inFlight.Add(1)

		if err := d.proc.Process(context.Background(), req); err != nil {
			d.log.Debug("Run ended with error", "conversation", conv, "err", err)
		}

		d.inFlight.Add(-1)
		d.sem.Release(1)
	}
}

// Queued is the number of accepted messages not yet started.
func (d *Dispatcher) Queued() int64 { return d.queued.Load() }

// InFlight is the number of runs currently executing.
func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

// Shutdown stops accepting messages and waits until every accepted message
// has been processed or ctx is done.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
