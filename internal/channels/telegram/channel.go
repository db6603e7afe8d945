// Package telegram is the Telegram channel adapter (spec.md §4.D), grounded
// on the teacher's internal/channels/telegram long-polling loop, reworked
// from push (BaseChannel.HandleMessage) into poll: the update loop only
// buffers, and Poll drains the buffer. Media transcription, draft streaming,
// and slash-command menu sync are teacher features outside this spec's
// scope (slash commands are resolved by the Tool Router, not the channel
// adapter, per spec.md §4.H) and are dropped here.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/orchestrator/internal/bus"
	"github.com/nextlevelbuilder/orchestrator/internal/channels"
	"github.com/nextlevelbuilder/orchestrator/internal/config"
)

const maxBuffered = 500

// Adapter connects to Telegram via the Bot API using long polling, buffering
// updates for the Channel Manager to drain.
type Adapter struct {
	*channels.BaseAdapter
	bot *telego.Bot
	cfg config.TelegramConfig

	pollCancel context.CancelFunc
	pollDone   chan struct{}

	mu       sync.Mutex
	buffered []bus.IncomingMessage
	chatIDs  map[string]struct{}
}

// New creates a Telegram adapter from config.
func New(cfg config.TelegramConfig) (*Adapter, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Adapter{
		BaseAdapter: channels.NewBaseAdapter("telegram", cfg.AllowFrom),
		bot:         bot,
		cfg:         cfg,
		chatIDs:     make(map[string]struct{}),
	}, nil
}

// Initialize begins long polling for Telegram updates.
func (a *Adapter) Initialize(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	a.pollCancel = cancel
	a.pollDone = make(chan struct{})

	updates, err := a.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("telegram adapter connected", "username", a.bot.Username())

	go func() {
		defer close(a.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					a.handleMessage(update.Message)
				}
			}
		}
	}()

	return nil
}

// handleMessage is the long-poll update callback; it only buffers.
func (a *Adapter) handleMessage(m *telego.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	senderID := fmt.Sprintf("%d", m.From.ID)
	chatID := fmt.Sprintf("%d", m.Chat.ID)
	msgID := fmt.Sprintf("%d", m.MessageID)

	if !a.Dedup(chatID + ":" + msgID) {
		return
	}
	if !a.IsAllowed(senderID) {
		slog.Debug("telegram message rejected by allowlist", "user_id", senderID)
		return
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return
	}

	msg := bus.IncomingMessage{
		ID:        chatID + ":" + msgID,
		Channel:   "telegram",
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: time.Unix(int64(m.Date), 0),
	}

	a.mu.Lock()
	if len(a.buffered) < maxBuffered {
		a.buffered = append(a.buffered, msg)
	} else {
		slog.Warn("telegram adapter buffer full, dropping message", "chat_id", chatID)
	}
	a.chatIDs[chatID] = struct{}{}
	a.mu.Unlock()
}

// Poll drains and returns all buffered messages.
func (a *Adapter) Poll(_ context.Context) ([]bus.IncomingMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buffered) == 0 {
		return nil, nil
	}
	out := a.buffered
	a.buffered = nil
	return out, nil
}

// Send delivers an outbound message, chunking at Telegram's 4096-char limit.
func (a *Adapter) Send(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", chatID, err)
	}

	const maxLen = 4096
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := maxLen
			if idx := lastIndexByte(text[:maxLen], '\n'); idx > maxLen/2 {
				cutAt = idx + 1
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		if _, err := a.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: id},
			Text:   chunk,
		}); err != nil {
			return fmt.Errorf("send telegram message: %w", err)
		}
	}
	return nil
}

// MonitoredChatIDs returns chat IDs seen so far.
func (a *Adapter) MonitoredChatIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.chatIDs))
	for id := range a.chatIDs {
		out = append(out, id)
	}
	return out
}

// Shutdown cancels long polling and waits for the update loop to exit.
func (a *Adapter) Shutdown(_ context.Context) error {
	if a.pollCancel != nil {
		a.pollCancel()
	}
	if a.pollDone != nil {
		select {
		case <-a.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}
