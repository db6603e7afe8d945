package channels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/orchestrator/internal/bus"
)

// defaultSendsPerSecond caps outbound Send calls per channel adapter when no
// rate is configured, a conservative default well under typical bot-API
// throttling thresholds (e.g. Telegram's one-message-per-second-per-chat
// guidance).
const defaultSendsPerSecond = 5

// OnMessage is the single dispatch callback the Channel Manager hands every
// polled message to, in order, per spec.md §4.E.
type OnMessage func(ctx context.Context, msg bus.IncomingMessage)

// Manager is the fixed-interval fan-out poller of spec.md §4.E.
type Manager struct {
	mu                  sync.RWMutex
	adapters            map[string]Adapter
	intervalMs          int
	maxMessagesPerCycle int
	onMessage           OnMessage
	sendsPerSecond      float64

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager creates a Channel Manager. onMessage is invoked sequentially
// (never in parallel) so per-chat ordering is preserved. Each adapter's
// outbound Send rate is capped independently at defaultSendsPerSecond.
func NewManager(intervalMs, maxMessagesPerCycle int, onMessage OnMessage) *Manager {
	return NewManagerWithRateLimit(intervalMs, maxMessagesPerCycle, 0, onMessage)
}

// NewManagerWithRateLimit is NewManager with an explicit per-channel
// outbound send rate; sendsPerSecond <= 0 uses defaultSendsPerSecond.
func NewManagerWithRateLimit(intervalMs, maxMessagesPerCycle int, sendsPerSecond float64, onMessage OnMessage) *Manager {
	if intervalMs <= 0 {
		intervalMs = 2000
	}
	if maxMessagesPerCycle <= 0 {
		maxMessagesPerCycle = 20
	}
	if sendsPerSecond <= 0 {
		sendsPerSecond = defaultSendsPerSecond
	}
	return &Manager{
		adapters:            make(map[string]Adapter),
		intervalMs:          intervalMs,
		maxMessagesPerCycle: maxMessagesPerCycle,
		onMessage:           onMessage,
		sendsPerSecond:      sendsPerSecond,
		limiters:            make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the shared rate.Limiter for a channel, creating it on
// first use. One limiter per channel, not per chat, matching how bot APIs
// throttle at the connection/bot-token level.
func (m *Manager) limiterFor(channel string) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	l, ok := m.limiters[channel]
	if !ok {
		l = rate.NewLimiter(rate.Limit(m.sendsPerSecond), 1)
		m.limiters[channel] = l
	}
	return l
}

// RegisterAdapter adds an adapter to the poll set. Safe to call before or
// after Start.
func (m *Manager) RegisterAdapter(a Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[a.Channel()] = a
}

// SetOnMessage replaces the dispatch callback. Must be called before Start;
// wiring often needs to construct the Manager before the callback's own
// dependencies (e.g. a dispatch.Pipeline that sends back through this same
// Manager) exist yet.
func (m *Manager) SetOnMessage(onMessage OnMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = onMessage
}

// Start begins the immediate-then-periodic poll cycle. No-op if already running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	cctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.loop(cctx)
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	m.cycle(ctx) // immediate first cycle

	ticker := time.NewTicker(time.Duration(m.intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cycle(ctx)
		}
	}
}

// cycle polls every adapter, isolating each one's failure, and dispatches up
// to maxMessagesPerCycle messages per adapter sequentially.
func (m *Manager) cycle(ctx context.Context) {
	m.mu.RLock()
	snapshot := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		snapshot = append(snapshot, a)
	}
	cb := m.onMessage
	cap := m.maxMessagesPerCycle
	m.mu.RUnlock()

	for _, a := range snapshot {
		msgs, err := a.Poll(ctx)
		if err != nil {
			slog.Warn("channel poll failed", "channel", a.Channel(), "error", err)
			continue
		}
		if len(msgs) > cap {
			msgs = msgs[:cap]
		}
		for _, msg := range msgs {
			if LooksSelfGenerated(msg.Text) {
				continue
			}
			if cb != nil {
				cb(ctx, msg)
			}
		}
	}
}

// Stop cancels the poll timer and shuts down every adapter. Idempotent.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	m.mu.RLock()
	snapshot := make([]Adapter, 0, len(m.adapters))
	for _, a := range m.adapters {
		snapshot = append(snapshot, a)
	}
	m.mu.RUnlock()

	for _, a := range snapshot {
		if err := a.Shutdown(ctx); err != nil {
			slog.Error("channel shutdown failed", "channel", a.Channel(), "error", err)
		}
	}
}

// GetAdapter returns a registered adapter by channel name.
func (m *Manager) GetAdapter(name string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.adapters[name]
	return a, ok
}

// Send delivers an outbound message through the named channel's adapter,
// rate-limited per channel so a burst of replies can't trip the underlying
// bot API's own throttling.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) error {
	a, ok := m.GetAdapter(msg.Channel)
	if !ok {
		slog.Warn("unknown channel for outbound message", "channel", msg.Channel)
		return nil
	}
	if err := m.limiterFor(msg.Channel).Wait(ctx); err != nil {
		return err
	}
	return a.Send(ctx, msg.ChatID, msg.Content)
}
