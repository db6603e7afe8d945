// Package scheduler is Component J (spec.md §4.J): a once-per-minute loop
// evaluating cron/interval triggers for Jobs (direct tool calls, no LLM) and
// Skills (reasoner tasks), with run caps, auto-enable, and failure
// cooldowns. It has no teacher analogue to copy wholesale — the teacher's
// go.mod pulls in github.com/adhocore/gronx as a direct dependency but no
// call site for it survived in the retrieved source (only a
// `scheduler.Scheduler`/`store.CronJob` type reference in cmd/gateway.go) —
// so the cron-evaluation logic here is written from gronx's public API
// directly, and the tick/pass structure follows spec.md §4.J itself.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/orchestrator/internal/reasonerclient"
	"github.com/nextlevelbuilder/orchestrator/internal/store"
)

// AgentSupervisor is the subset of agentsup.Supervisor the scheduler needs
// to run a Skill through the default reasoner agent.
type AgentSupervisor interface {
	EnsureRunning(ctx context.Context, agentID string) bool
	ReasonerFor(agentID string) (*reasonerclient.Client, bool)
}

// ToolCaller is the subset of toolrouter.Router the scheduler needs to run
// Job actions and to gate Skill auto-enable on required-tool presence.
type ToolCaller interface {
	Route(ctx context.Context, exposedName string, args map[string]any) (map[string]any, error)
	HasRoute(exposedName string) bool
}

// HaltChecker is the subset of halt.Manager the scheduler consults first.
type HaltChecker interface {
	IsTargetHalted(target string) bool
}

// Sender delivers a failure/completion notification to a chat.
type Sender interface {
	Send(ctx context.Context, channel, chatID, text string) error
}

// haltTarget is consulted before every tick (spec.md §4.J: "if `inngest`
// target is halted, the entire tick is a no-op").
const haltTarget = "inngest"

// Config tunes the scheduler. Zero values fall back to a 5-minute skill
// failure cooldown and a per-tick item cap of 100.
type Config struct {
	MaxItemsPerTick     int
	FailureCooldown     time.Duration
	DefaultAgentID      string
	DefaultMaxSteps     int
	// DefaultNotify resolves a fallback (channel, chatId) for skill/job
	// failure notifications when no more specific target is available —
	// spec.md §4.D's MonitoredChatIds() accessor, without this package
	// importing a channel adapter type directly.
	DefaultNotify func() (channel, chatID string)

	// Tracer opens one span per fired Job/Skill. If left nil, the global
	// TracerProvider's tracer is used, which is a no-op unless
	// internal/tracing.Init installed a provider.
	Tracer trace.Tracer
}

func (c Config) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("orchestrator")
}

func (c Config) maxItemsPerTick() int {
	if c.MaxItemsPerTick > 0 {
		return c.MaxItemsPerTick
	}
	return 100
}

func (c Config) failureCooldown() time.Duration {
	if c.FailureCooldown > 0 {
		return c.FailureCooldown
	}
	return 5 * time.Minute
}

// Scheduler runs the per-minute Job and Skill passes.
type Scheduler struct {
	log    *slog.Logger
	cfg    Config
	halt   HaltChecker
	tools  ToolCaller
	agents AgentSupervisor
	sender Sender
	stores *store.Stores

	tickMu sync.Mutex // serializes ticks; spec.md §4.J "ticks never overlap"
	cancel context.CancelFunc
}

// New builds a Scheduler over the given stores and collaborators.
func New(cfg Config, stores *store.Stores, halt HaltChecker, tools ToolCaller, agents AgentSupervisor, sender Sender) *Scheduler {
	return &Scheduler{
		log:    slog.Default(),
		cfg:    cfg,
		halt:   halt,
		tools:  tools,
		agents: agents,
		sender: sender,
		stores: stores,
	}
}

// Start launches the once-per-minute tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.loop(ctx)
}

// Stop cancels the tick loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick runs one scheduler pass at the given moment. Exported so callers
// (and tests) can drive ticks deterministically without a live ticker.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.halt.IsTargetHalted(haltTarget) {
		s.log.Debug("scheduler tick skipped: halted", "target", haltTarget)
		return
	}

	minuteStart := now.Truncate(time.Minute)
	prevMinuteStart := minuteStart.Add(-time.Minute)

	s.runJobPass(ctx, now, prevMinuteStart, minuteStart)
	s.runSkillPass(ctx, now, prevMinuteStart, minuteStart)
}

func (s *Scheduler) notify(ctx context.Context, fallbackChannel, fallbackChatID, text string) {
	channel, chatID := fallbackChannel, fallbackChatID
	if channel == "" && s.cfg.DefaultNotify != nil {
		channel, chatID = s.cfg.DefaultNotify()
	}
	if channel == "" || s.sender == nil {
		return
	}
	if err := s.sender.Send(ctx, channel, chatID, text); err != nil {
		s.log.Warn("scheduler: notification send failed", "channel", channel, "error", err)
	}
}
