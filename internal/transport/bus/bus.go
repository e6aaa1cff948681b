// Package bus connects the relay to a websocket message bus. Peers address
// each other by name; voice messages sent to the relay's name are processed
// and answered to the sender.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	log "log/slog"

	ws "github.com/gorilla/websocket"

	"voxrelay/internal/relay"
	"voxrelay/pkg/audioconv"
)

const (
	KindVoice  = "voice"
	KindReply  = "reply"
	KindNotice = "notice"

	Broadcast = "ALL"
)

type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Kind    string `json:"kind"`
	Content string `json:"content,omitempty"`
	Audio   []byte `json:"audio,omitempty"`
	Format  string `json:"format,omitempty"`
}

type Submitter interface {
	Submit(req relay.Request) error
}

type Config struct {
	URL       string
	Name      string        // our address on the bus
	Reconnect time.Duration // pause between reconnect attempts
	Dialer    *ws.Dialer    // nil = websocket.DefaultDialer
}

type Bus struct {
	cfg Config
	sub Submitter
	log *log.Logger

	mu   sync.Mutex // guards conn and serialises writes
	conn *ws.Conn
}

// Dial connects to the bus. Run must be called to receive messages.
func Dial(ctx context.Context, cfg Config, sub Submitter, logger *log.Logger) (*Bus, error) {
	if cfg.URL == "" {
		return nil, errors.New("bus: url required")
	}
	if cfg.Name == "" {
		cfg.Name = "voxrelay"
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = ws.DefaultDialer
	}
	if logger == nil {
		logger = log.Default()
	}
	b := &Bus{cfg: cfg, sub: sub, log: logger.With("component", "bus")}

	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	b.conn = conn
	b.log.Info("Connected to bus", "url", cfg.URL, "name", cfg.Name)
	return b, nil
}

func (b *Bus) dial(ctx context.Context) (*ws.Conn, error) {
	conn, _, err := b.cfg.Dialer.DialContext(ctx, b.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", b.cfg.URL, err)
	}
	return conn, nil
}

// Run reads messages until ctx is cancelled, reconnecting whenever the
// connection drops.
func (b *Bus) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.conn.Close()
	})
	defer stop()

	for {
		conn := b.current()
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isClosed(err) {
				b.log.Warn("Bus connection closed, reconnecting", "url", b.cfg.URL)
			} else {
				b.log.Error("Failed to read from bus", "err", err)
			}
			if err := b.reconnect(ctx, conn); err != nil {
				return nil
			}
			continue
		}
		b.handle(data)
	}
}

func (b *Bus) current() *ws.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func (b *Bus) reconnect(ctx context.Context, old *ws.Conn) error {
	old.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.Reconnect):
		}

		conn, err := b.dial(ctx)
		if err != nil {
			b.log.Debug("Reconnect failed", "err", err)
			continue
		}

		b.mu.Lock()
		if ctx.Err() != nil {
			b.mu.Unlock()
			conn.Close()
			return ctx.Err()
		}
		b.conn = conn
		b.mu.Unlock()
		b.log.Info("Reconnected to bus", "url", b.cfg.URL)
		return nil
	}
}

func (b *Bus) handle(data []byte) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		b.log.Warn("Failed to parse bus message", "err", err)
		return
	}
	if m.To != b.cfg.Name && m.To != Broadcast {
		return
	}
	if m.Kind != KindVoice || len(m.Audio) == 0 {
		b.log.Debug("Ignoring bus message", "from", m.From, "kind", m.Kind)
		return
	}
	if m.From == "" {
		b.log.Warn("Voice message without sender")
		return
	}

	format, _ := audioconv.ParseFormat(m.Format)
	req := relay.Request{
		ConversationID: m.From,
		Source:         relay.Bytes(m.Audio),
		Format:         format,
		Transport:      b,
	}
	if err := b.sub.Submit(req); err != nil {
		b.log.Error("Failed to queue voice message", "from", m.From, "err", err)
	}
}

func (b *Bus) SendVoiceReply(ctx context.Context, conversationID string, audio []byte, format audioconv.Format) error {
	return b.write(ctx, &Message{
		To:     conversationID,
		Kind:   KindReply,
		Audio:  audio,
		Format: string(format),
	})
}

func (b *Bus) SendTextNotice(ctx context.Context, conversationID, text string) error {
	return b.write(ctx, &Message{
		To:      conversationID,
		Kind:    KindNotice,
		Content: text,
	})
}

func (b *Bus) write(ctx context.Context, m *Message) error {
	m.From = b.cfg.Name
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	b.conn.SetWriteDeadline(deadline)
	if err := b.conn.WriteMessage(ws.TextMessage, data); err != nil {
		return fmt.Errorf("bus: write %s to %s: %w", m.Kind, m.To, err)
	}
	return nil
}

// Close sends a close frame and drops the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msg := ws.FormatCloseMessage(ws.CloseNormalClosure, "")
	b.conn.WriteControl(ws.CloseMessage, msg, time.Now().Add(time.Second))
	return b.conn.Close()
}

func isClosed(err error) bool {
	return ws.IsCloseError(err,
		ws.CloseNormalClosure,
		ws.CloseGoingAway,
		ws.CloseAbnormalClosure)
}
