// Package discord is the Discord channel adapter (spec.md §4.D), grounded on
// the teacher's internal/channels/discord gateway-event handler but reworked
// from push (BaseChannel.HandleMessage) into poll: the gateway handler now
// only buffers, and Poll drains the buffer.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/orchestrator/internal/bus"
	"github.com/nextlevelbuilder/orchestrator/internal/channels"
	"github.com/nextlevelbuilder/orchestrator/internal/config"
)

const maxBuffered = 500

// Adapter connects to Discord via the Bot API using gateway events, buffering
// them for the Channel Manager to drain.
type Adapter struct {
	*channels.BaseAdapter
	session   *discordgo.Session
	cfg       config.DiscordConfig
	botUserID string

	mu       sync.Mutex
	buffered []bus.IncomingMessage
	chatIDs  map[string]struct{}
}

// New creates a Discord adapter from config.
func New(cfg config.DiscordConfig) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	a := &Adapter{
		BaseAdapter: channels.NewBaseAdapter("discord", cfg.AllowFrom),
		session:     session,
		cfg:         cfg,
		chatIDs:     make(map[string]struct{}),
	}
	session.AddHandler(a.handleMessage)
	return a, nil
}

// Initialize opens the gateway connection and learns the bot's own identity.
func (a *Adapter) Initialize(_ context.Context) error {
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botUserID = user.ID
	slog.Info("discord adapter connected", "username", user.Username, "id", user.ID)
	return nil
}

// handleMessage is the gateway event callback; it only buffers.
func (a *Adapter) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == a.botUserID || m.Author.Bot {
		return
	}
	if !a.Dedup(m.ID) {
		return
	}
	if !a.IsAllowed(m.Author.ID) {
		slog.Debug("discord message rejected by allowlist", "user_id", m.Author.ID)
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		content = "[empty message]"
	}

	msg := bus.IncomingMessage{
		ID:        m.ID,
		Channel:   "discord",
		ChatID:    m.ChannelID,
		SenderID:  m.Author.ID,
		Text:      content,
		Timestamp: m.Timestamp,
	}

	a.mu.Lock()
	if len(a.buffered) < maxBuffered {
		a.buffered = append(a.buffered, msg)
	} else {
		slog.Warn("discord adapter buffer full, dropping message", "channel_id", m.ChannelID)
	}
	a.chatIDs[m.ChannelID] = struct{}{}
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

// Send delivers an outbound message, chunking at Discord's 2000-char limit.
func (a *Adapter) Send(_ context.Context, chatID, text string) error {
	const maxLen = 2000
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
		if _, err := a.session.ChannelMessageSend(chatID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// MonitoredChatIDs returns channel IDs seen so far.
func (a *Adapter) MonitoredChatIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.chatIDs))
	for id := range a.chatIDs {
		out = append(out, id)
	}
	return out
}

// Shutdown closes the gateway connection.
func (a *Adapter) Shutdown(_ context.Context) error {
	return a.session.Close()
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}
