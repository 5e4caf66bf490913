package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"golang.org/x/time/rate"

	kit "cliprelay/internal/transport"
	logx "cliprelay/pkg/logx"
)

// Config configures the Telegram backend.
type Config struct {
	Token string
	// APIURL overrides https://api.telegram.org (self-hosted Bot API, tests).
	APIURL      string
	RatePerSec  float64
	Burst       int
	SendTimeout time.Duration
	// Sources are the chats whose pending updates are kept for FetchHistory.
	Sources []kit.ChatTarget
	// BacklogPath is the spool file for source messages not yet relayed.
	// Empty keeps them in memory only.
	BacklogPath string
}

// Backend relays through the Telegram Bot API.
//
// The bot never long-polls. Updates sent to it while the relay is down stay
// queued on Telegram's side; Start reads that backlog once. Reading a page
// confirms the one before it, so messages posted to source chats are written
// to the backlog spool before the next page is requested. They leave the
// spool only through Delete, which the relay calls once their content has
// been delivered; anything else is offered again on the next start.
type Backend struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	client  *http.Client
	limiter *rate.Limiter
	sources map[int64]struct{}

	mu     sync.Mutex
	spool  spool
	loaded bool
	offset int

	terminated atomic.Bool
}

var _ kit.Backend = (*Backend)(nil)

// New builds the backend without touching the network.
func New(cfg Config, log logx.Logger) (*Backend, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	client := &http.Client{Timeout: cfg.SendTimeout}
	settings := tele.Settings{
		Token:   strings.TrimSpace(cfg.Token),
		Client:  client,
		Offline: true,
	}
	if u := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"); u != "" {
		settings.URL = u
	}
	b, err := tele.NewBot(settings)
	if err != nil {
		return nil, err
	}

	sources := make(map[int64]struct{}, len(cfg.Sources))
	for _, s := range cfg.Sources {
		if !s.IsZero() {
			sources[s.ChatID] = struct{}{}
		}
	}
	return &Backend{
		cfg:     cfg,
		log:     log,
		bot:     b,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		sources: sources,
		spool:   spool{path: strings.TrimSpace(cfg.BacklogPath)},
	}, nil
}

// SetRate changes the send rate in place.
func (b *Backend) SetRate(perSec float64, burst int) {
	if perSec <= 0 || burst <= 0 {
		return
	}
	b.limiter.SetLimit(rate.Limit(perSec))
	b.limiter.SetBurst(burst)
	b.log.Info("send rate updated", logx.Any("rate_per_sec", perSec), logx.Int("burst", burst))
}

// Start checks the token, reads the pending update backlog and calls ready.
// A failed attempt can be retried; backlog already spooled is kept.
func (b *Backend) Start(ctx context.Context, ready func()) error {
	if b.terminated.Load() {
		return kit.ErrTerminated
	}
	raw, err := b.bot.Raw("getMe", map[string]string{})
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	var me struct {
		Result struct {
			Username string `json:"username"`
		} `json:"result"`
	}
	_ = json.Unmarshal(raw, &me)

	b.mu.Lock()
	if !b.loaded {
		if err := b.spool.load(); err != nil {
			b.mu.Unlock()
			return err
		}
		b.loaded = true
		if n := b.spool.size(); n > 0 {
			b.log.Info("backlog spool loaded", logx.String("path", b.spool.path), logx.Int("messages", n))
		}
	}
	b.mu.Unlock()

	kept, err := b.drainBacklog(ctx)
	if err != nil {
		return fmt.Errorf("telegram backlog: %w", err)
	}
	b.log.Info("telegram backend ready",
		logx.String("bot", me.Result.Username),
		logx.Int("backlog_read", kept),
		logx.Int("backlog_pending", b.pending()),
		logx.Int("sources", len(b.sources)),
	)
	if ready != nil {
		ready()
	}
	return nil
}

// drainBacklog pages through getUpdates until Telegram reports nothing new.
// Each call with a higher offset confirms the previous page, and the final
// empty call confirms the last one, so a page's source messages are spooled
// before the offset moves past it.
func (b *Backend) drainBacklog(ctx context.Context) (int, error) {
	kept := 0
	for {
		if err := ctx.Err(); err != nil {
			return kept, err
		}
		b.mu.Lock()
		offset := b.offset
		b.mu.Unlock()

		raw, err := b.bot.Raw("getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         0,
			"limit":           100,
			"allowed_updates": []string{"message", "channel_post"},
		})
		if err != nil {
			return kept, err
		}
		ups, err := parseUpdates(raw)
		if err != nil {
			return kept, err
		}
		if len(ups) == 0 {
			return kept, nil
		}

		b.mu.Lock()
		next := offset
		for _, u := range ups {
			next = max(next, u.ID+1)
			hm, ok := b.historyFrom(u)
			if !ok {
				continue
			}
			m := spooled{
				UpdateID:  u.ID,
				ChatID:    hm.Ref.ChatID,
				ThreadID:  hm.Ref.ThreadID,
				MessageID: hm.Ref.MessageID,
				Text:      hm.Text,
			}
			if b.spool.add(m) {
				kept++
			}
		}
		if err := b.spool.save(); err != nil {
			b.mu.Unlock()
			return kept, fmt.Errorf("save backlog spool: %w", err)
		}
		b.offset = next
		b.mu.Unlock()
		b.log.Debug("backlog page read", logx.Int("updates", len(ups)), logx.Int("next_offset", b.nextOffset()))
	}
}

func (b *Backend) nextOffset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offset
}

func (b *Backend) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spool.size()
}

// historyFrom keeps messages and channel posts from source chats.
func (b *Backend) historyFrom(u tele.Update) (kit.HistoryMessage, bool) {
	m := u.Message
	if m == nil {
		m = u.ChannelPost
	}
	if m == nil || m.Chat == nil {
		return kit.HistoryMessage{}, false
	}
	if _, ok := b.sources[m.Chat.ID]; !ok {
		return kit.HistoryMessage{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	return kit.HistoryMessage{
		Ref:  kit.MessageRef{ChatID: m.Chat.ID, ThreadID: m.ThreadID, MessageID: m.ID},
		Text: text,
	}, true
}

func parseUpdates(raw []byte) ([]tele.Update, error) {
	var resp struct {
		OK     bool          `json:"ok"`
		Result []tele.Update `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode getUpdates: %w", err)
	}
	return resp.Result, nil
}

// FetchHistory hands out the spooled backlog for source, oldest first.
// Each message is handed out once per run; it stays spooled until Delete.
func (b *Backend) FetchHistory(_ context.Context, source kit.ChatTarget) ([]kit.HistoryMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spool.claim(source), nil
}

// Dispatch sends content as plain text. Content over MaxMessageLength is
// split at line boundaries; a failed part fails the whole dispatch.
func (b *Backend) Dispatch(ctx context.Context, to kit.ChatTarget, content string) error {
	if b.terminated.Load() {
		return kit.ErrTerminated
	}
	if content == "" {
		return errors.New("telegram: empty message")
	}
	chat := &tele.Chat{ID: to.ChatID}
	parts := splitMessage(content, MaxMessageLength)
	for i, part := range parts {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := b.bot.Send(chat, part, &tele.SendOptions{
			DisableWebPagePreview: true,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return fmt.Errorf("send part %d/%d to %s: %w", i+1, len(parts), to, err)
		}
	}
	return nil
}

// Delete removes the message from its chat. The caller has delivered its
// content, so it also leaves the backlog spool even when the chat delete
// fails.
func (b *Backend) Delete(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.limiter.Wait(ctx)
	if err == nil {
		err = b.bot.Delete(&tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.spool.release(ref) {
		if serr := b.spool.save(); serr != nil {
			b.log.Warn("backlog spool not updated; message may be replayed on next start",
				logx.Int64("chat_id", ref.ChatID), logx.Int("message_id", ref.MessageID), logx.Err(serr))
		}
	}
	return err
}

// Terminate makes later dispatches fail and drops idle connections.
func (b *Backend) Terminate(context.Context) error {
	if b.terminated.Swap(true) {
		return nil
	}
	b.client.CloseIdleConnections()
	if left := b.pending(); left > 0 {
		b.log.Warn("backlog messages not relayed; kept for next start",
			logx.Int("count", left), logx.String("spool", b.spool.path))
	}
	b.log.Info("telegram backend terminated")
	return nil
}
