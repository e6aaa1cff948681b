package bus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "log/slog"

	ws "github.com/gorilla/websocket"

	"voxrelay/internal/relay"
	"voxrelay/pkg/audioconv"
)

type submitter struct {
	ch chan relay.Request
}

func (s *submitter) Submit(req relay.Request) error {
	s.ch <- req
	return nil
}

func newLogger() *log.Logger {
	return log.New(log.NewTextHandler(io.Discard, nil))
}

// peer is the far end of the bus: every accepted connection is handed to conns.
type peer struct {
	srv     *httptest.Server
	conns   chan *ws.Conn
	accepts atomic.Int32
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	p := &peer{conns: make(chan *ws.Conn, 4)}
	up := ws.Upgrader{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.accepts.Add(1)
		p.conns <- conn
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *peer) url() string { return "ws" + strings.TrimPrefix(p.srv.URL, "http") }

func (p *peer) next(t *testing.T) *ws.Conn {
	t.Helper()
	select {
	case c := <-p.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection")
		return nil
	}
}

func send(t *testing.T, c *ws.Conn, m Message) {
	t.Helper()
	data, _ := json.Marshal(m)
	if err := c.WriteMessage(ws.TextMessage, data); err != nil {
		t.Fatal(err)
	}
}

func dialBus(t *testing.T, p *peer, sub Submitter) (*Bus, context.CancelFunc) {
	t.Helper()
	b, err := Dial(context.Background(), Config{URL: p.url(), Name: "relay", Reconnect: 20 * time.Millisecond}, sub, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b, cancel
}

func TestVoiceMessageRoundTrip(t *testing.T) {
	p := newPeer(t)
	sub := &submitter{ch: make(chan relay.Request, 4)}
	b, _ := dialBus(t, p, sub)
	far := p.next(t)

	send(t, far, Message{From: "kitchen", To: "other", Kind: KindVoice, Audio: []byte("x")})
	send(t, far, Message{From: "kitchen", To: "relay", Kind: "text", Content: "hi"})
	send(t, far, Message{From: "kitchen", To: "relay", Kind: KindVoice, Audio: []byte("OggS"), Format: "ogg"})

	var req relay.Request
	select {
	case req = <-sub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("voice message not submitted")
	}
	if req.ConversationID != "kitchen" || req.Format != audioconv.FormatOgg || req.Transport != b {
		t.Fatalf("unexpected request %+v", req)
	}
	rc, _ := req.Source.Open(context.Background())
	data, _ := io.ReadAll(rc)
	if string(data) != "OggS" {
		t.Fatalf("source yielded %q", data)
	}
	select {
	case extra := <-sub.ch:
		t.Fatalf("unexpected extra request %+v", extra)
	default:
	}

	if err := b.SendVoiceReply(context.Background(), "kitchen", []byte("reply"), audioconv.FormatOgg); err != nil {
		t.Fatal(err)
	}
	_, raw, err := far.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got Message
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.From != "relay" || got.To != "kitchen" || got.Kind != KindReply || string(got.Audio) != "reply" {
		t.Fatalf("unexpected reply %+v", got)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	p := newPeer(t)
	sub := &submitter{ch: make(chan relay.Request, 1)}
	b, _ := dialBus(t, p, sub)

	first := p.next(t)
	first.Close()

	second := p.next(t)
	send(t, second, Message{From: "hall", To: Broadcast, Kind: KindVoice, Audio: []byte("OggS")})
	select {
	case req := <-sub.ch:
		if req.ConversationID != "hall" {
			t.Fatalf("unexpected conversation %q", req.ConversationID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message after reconnect")
	}

	if err := b.SendTextNotice(context.Background(), "hall", "sorry"); err != nil {
		t.Fatal(err)
	}
	_, raw, err := second.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got Message
	json.Unmarshal(raw, &got)
	if got.Kind != KindNotice || got.Content != "sorry" {
		t.Fatalf("unexpected notice %+v", got)
	}
	if p.accepts.Load() < 2 {
		t.Fatal("expected a second connection")
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	p := newPeer(t)
	b, err := Dial(context.Background(), Config{URL: p.url()}, &submitter{ch: make(chan relay.Request)}, newLogger())
	if err != nil {
		t.Fatal(err)
	}
	p.next(t)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx)
	}()
	cancel()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDialFailure(t *testing.T) {
	if _, err := Dial(context.Background(), Config{URL: "ws://127.0.0.1:1/bus"}, nil, newLogger()); err == nil {
		t.Fatal("expected dial error")
	}
	if _, err := Dial(context.Background(), Config{}, nil, newLogger()); err == nil {
		t.Fatal("expected error for empty url")
	}
}
