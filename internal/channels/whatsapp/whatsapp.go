// Package whatsapp is the WhatsApp channel adapter (spec.md §4.D), grounded
// on the pack's whatsmeow-based WhatsApp channel: a native Go WhatsApp Web
// client with a SQLite-backed session store, rather than the teacher's
// websocket-bridge design (the teacher delegates the WhatsApp protocol to an
// external Node bridge process, which is exactly the kind of unmanaged
// subprocess this spec's Tool-Server Supervisor replaces with a single
// supervised contract — so the in-process client is the better fit here).
// Reworked from event-channel push into poll: handleMessage only buffers.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nextlevelbuilder/orchestrator/internal/bus"
	"github.com/nextlevelbuilder/orchestrator/internal/channels"
	"github.com/nextlevelbuilder/orchestrator/internal/config"
)

const maxBuffered = 500

// Adapter connects to WhatsApp Web via whatsmeow, buffering inbound text
// messages for the Channel Manager to drain.
type Adapter struct {
	*channels.BaseAdapter
	cfg    config.WhatsAppConfig
	client *whatsmeow.Client

	mu       sync.Mutex
	buffered []bus.IncomingMessage
	chatIDs  map[string]struct{}
}

// New creates a WhatsApp adapter from config. The session store is opened
// lazily in Initialize so construction never touches the filesystem.
func New(cfg config.WhatsAppConfig) (*Adapter, error) {
	if cfg.SessionDir == "" {
		cfg.SessionDir = "./sessions/whatsapp"
	}
	return &Adapter{
		BaseAdapter: channels.NewBaseAdapter("whatsapp", nil),
		cfg:         cfg,
		chatIDs:     make(map[string]struct{}),
	}, nil
}

// Initialize opens the SQLite session store and connects (or, on first run,
// requires an out-of-band QR scan — logged, not printed, since this runtime
// has no interactive terminal).
func (a *Adapter) Initialize(ctx context.Context) error {
	dbPath := a.cfg.SessionDir + "/whatsapp.db"
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath), waLog.Noop)
	if err != nil {
		return fmt.Errorf("open whatsapp session store: %w", err)
	}

	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("list whatsapp devices: %w", err)
	}
	var device *store.Device
	if len(devices) > 0 {
		device = devices[0]
	} else {
		device = container.NewDevice()
	}

	a.client = whatsmeow.NewClient(device, waLog.Noop)
	a.client.AddEventHandler(a.handleEvent)

	if a.client.Store.ID == nil {
		qrChan, _ := a.client.GetQRChannel(ctx)
		if err := a.client.Connect(); err != nil {
			return fmt.Errorf("connect for QR login: %w", err)
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					slog.Info("whatsapp QR code ready, scan to link", "code", evt.Code)
				}
			}
		}()
		return nil
	}

	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect whatsapp: %w", err)
	}
	slog.Info("whatsapp adapter connected", "jid", a.client.Store.ID.String())
	return nil
}

func (a *Adapter) handleEvent(rawEvt interface{}) {
	evt, ok := rawEvt.(*events.Message)
	if !ok {
		return
	}
	if evt.Info.IsFromMe {
		return
	}

	text := evt.Message.GetConversation()
	if text == "" {
		if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
			text = ext.GetText()
		}
	}
	if text == "" {
		return
	}

	senderID := evt.Info.Sender.String()
	chatID := evt.Info.Chat.String()
	msgID := evt.Info.ID

	if !a.Dedup(chatID + ":" + msgID) {
		return
	}
	if !a.IsAllowed(senderID) {
		slog.Debug("whatsapp message rejected by allowlist", "sender_id", senderID)
		return
	}

	msg := bus.IncomingMessage{
		ID:        chatID + ":" + msgID,
		Channel:   "whatsapp",
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: evt.Info.Timestamp,
	}

	a.mu.Lock()
	if len(a.buffered) < maxBuffered {
		a.buffered = append(a.buffered, msg)
	} else {
		slog.Warn("whatsapp adapter buffer full, dropping message", "chat_id", chatID)
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

// Send delivers a text message to a JID.
func (a *Adapter) Send(ctx context.Context, chatID, text string) error {
	jid, err := types.ParseJID(chatID)
	if err != nil {
		return fmt.Errorf("invalid whatsapp JID %q: %w", chatID, err)
	}
	waMsg := &waProto.Message{Conversation: &text}
	_, err = a.client.SendMessage(ctx, jid, waMsg)
	if err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

// MonitoredChatIDs returns chat JIDs seen so far.
func (a *Adapter) MonitoredChatIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.chatIDs))
	for id := range a.chatIDs {
		out = append(out, id)
	}
	return out
}

// Shutdown disconnects the whatsmeow client.
func (a *Adapter) Shutdown(_ context.Context) error {
	if a.client != nil {
		a.client.Disconnect()
	}
	return nil
}
