package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voxrelay/internal/relay"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type procFunc func(ctx context.Context, req relay.Request) error

func (f procFunc) Process(ctx context.Context, req relay.Request) error { return f(ctx, req) }

func TestDispatcherKeepsConversationOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string][]string{}
	)
	d := NewDispatcher(procFunc(func(_ context.Context, req relay.Request) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[req.ConversationID] = append(seen[req.ConversationID], string(req.Source.(relay.Bytes)))
		mu.Unlock()
		return nil
	}), 4, discardLogger())

	for i := 0; i < 20; i++ {
		for _, conv := range []string{"a", "b", "c"} {
			if err := d.Submit(relay.Request{ConversationID: conv, Source: relay.Bytes(strconv.Itoa(i))}); err != nil {
				t.Fatal(err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	for _, conv := range []string{"a", "b", "c"} {
		got := seen[conv]
		if len(got) != 20 {
			t.Fatalf("%s: processed %d of 20", conv, len(got))
		}
		for i, v := range got {
			if v != strconv.Itoa(i) {
				t.Fatalf("%s: out of order at %d: %v", conv, i, got)
			}
		}
	}
}

func TestDispatcherBoundsConcurrency(t *testing.T) {
	var cur, peak atomic.Int64
	d := NewDispatcher(procFunc(func(context.Context, relay.Request) error {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		cur.Add(-1)
		return nil
	}), 2, discardLogger())

	for i := 0; i < 10; i++ {
		d.Submit(relay.Request{ConversationID: strconv.Itoa(i)})
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p := peak.Load(); p > 2 || p == 0 {
		t.Fatalf("peak concurrency %d, want 1..2", p)
	}
	if d.InFlight() != 0 || d.Queued() != 0 {
		t.Fatalf("counters not drained: inflight=%d queued=%d", d.InFlight(), d.Queued())
	}
}

func TestDispatcherRejectsAfterShutdown(t *testing.T) {
	d := NewDispatcher(procFunc(func(context.Context, relay.Request) error { return nil }), 1, discardLogger())
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(relay.Request{ConversationID: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestDispatcherShutdownDeadline(t *testing.T) {
	release := make(chan struct{})
	d := NewDispatcher(procFunc(func(context.Context, relay.Request) error {
		<-release
		return nil
	}), 1, discardLogger())
	d.Submit(relay.Request{ConversationID: "slow"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	close(release)
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
