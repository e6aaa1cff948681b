// Package telegram is the long-polling Telegram front-end of the relay.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	log "log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"voxrelay/internal/relay"
	"voxrelay/pkg/audioconv"
)

const DefaultGreeting = "Hi! Send me a voice message and I will answer with my voice."

// Submitter accepts inbound voice messages for processing.
type Submitter interface {
	Submit(req relay.Request) error
}

type Config struct {
	Greeting    string
	PollTimeout int // long-poll seconds
	Debug       bool
}

// botAPI is the subset of *tgbotapi.BotAPI the adapter uses.
type botAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot receives voice messages and implements relay.Transport for replies.
type Bot struct {
	api botAPI
	hc  *http.Client
	sub Submitter
	cfg Config
	log *log.Logger
}

// New authenticates with the Bot API. All traffic, including file downloads,
// goes through hc.
func New(token string, hc *http.Client, sub Submitter, cfg Config, logger *log.Logger) (*Bot, error) {
	if token == "" {
		return nil, errors.New("telegram: token required")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("component", "telegram")

	if err := tgbotapi.SetLogger(botLogger{logger}); err != nil {
		return nil, fmt.Errorf("telegram: set logger: %w", err)
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, hc)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	api.Debug = cfg.Debug
	logger.Info("Authorized", "bot", api.Self.UserName)

	return newBot(api, hc, sub, cfg, logger), nil
}

func newBot(api botAPI, hc *http.Client, sub Submitter, cfg Config, logger *log.Logger) *Bot {
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	return &Bot{api: api, hc: hc, sub: sub, cfg: cfg, log: logger}
}

// Run polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.PollTimeout

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.log.Info("Polling for updates")
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			b.handle(ctx, upd)
		}
	}
}

func (b *Bot) handle(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	switch {
	case msg.IsCommand() && msg.Command() == "start":
		if err := b.send(ctx, "greeting", tgbotapi.NewMessage(chatID, b.cfg.Greeting)); err != nil {
			b.log.Error("Failed to send greeting", "chat", chatID, "err", err)
		}
	case msg.Voice != nil:
		req := relay.Request{
			ConversationID: strconv.FormatInt(chatID, 10),
			Source:         b.fileSource(msg.Voice.FileID),
			Format:         audioconv.FormatFromMIME(msg.Voice.MimeType),
			Transport:      b,
		}
		b.log.Debug("Voice message", "chat", chatID, "duration", msg.Voice.Duration, "size", msg.Voice.FileSize)
		if err := b.sub.Submit(req); err != nil {
			b.log.Error("Failed to queue voice message", "chat", chatID, "err", err)
		}
	}
}

func (b *Bot) fileSource(fileID string) relay.Source {
	return relay.SourceFunc(func(ctx context.Context) (io.ReadCloser, error) {
		url, err := b.api.GetFileDirectURL(fileID)
		if err != nil {
			return nil, fmt.Errorf("resolve file: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := b.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("download file: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("download file: status %s", resp.Status)
		}
		return resp.Body, nil
	})
}

// SendVoiceReply sends audio as a Telegram voice note. When ctx expires
// before the Bot API answers, the upload keeps going in the background and
// may still reach the chat; a late success is logged as a warning.
func (b *Bot) SendVoiceReply(ctx context.Context, conversationID string, audio []byte, format audioconv.Format) error {
	if format != audioconv.FormatOgg {
		return fmt.Errorf("telegram: voice must be ogg, got %q", format)
	}
	chatID, err := parseChatID(conversationID)
	if err != nil {
		return err
	}
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileBytes{Name: "reply.ogg", Bytes: audio})
	return b.send(ctx, "voice", voice)
}

func (b *Bot) SendTextNotice(ctx context.Context, conversationID, text string) error {
	chatID, err := parseChatID(conversationID)
	if err != nil {
		return err
	}
	return b.send(ctx, "notice", tgbotapi.NewMessage(chatID, text))
}

// send bounds a Bot API call by ctx. The library call itself is not
// cancellable, so on timeout it finishes in the background.
func (b *Bot) send(ctx context.Context, kind string, c tgbotapi.Chattable) error {
	done := make(chan error, 1)
	go func() {
		_, err := b.api.Send(c)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
		return nil
	case <-ctx.Done():
		go b.awaitLate(done, kind)
		return fmt.Errorf("telegram: send: %w", ctx.Err())
	}
}

// awaitLate reports the outcome of a send the caller already gave up on.
func (b *Bot) awaitLate(done <-chan error, kind string) {
	if err := <-done; err != nil {
		b.log.Debug("Abandoned send failed", "kind", kind, "err", err)
		return
	}
	b.log.Warn("Send completed after its deadline; chat may also get a failure notice", "kind", kind)
}

func parseChatID(conversationID string) (int64, error) {
	id, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: bad conversation id %q: %w", conversationID, err)
	}
	return id, nil
}

// botLogger routes the library's own messages (polling failures and the
// like) into slog.
type botLogger struct {
	log *log.Logger
}

func (l botLogger) Println(v ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l botLogger) Printf(format string, v ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
