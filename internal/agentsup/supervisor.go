package agentsup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/orchestrator/internal/config"
	"github.com/nextlevelbuilder/orchestrator/internal/reasonerclient"
)

const (
	healthCheckInterval = 30 * time.Second
	idleScanInterval    = 5 * time.Minute

	restartInitialBackoff = 10 * time.Second
	restartMaxAttempts    = 5

	defaultIdleTimeout      = 30 * time.Minute
	defaultSubagentTimeout  = 5 * time.Minute
	maxSubagentTimeout      = 30 * time.Minute
	maxSubagentsPerParent   = 5
)

// Supervisor is the Agent Supervisor (spec.md §4.F).
type Supervisor struct {
	log *slog.Logger

	stateDir        string
	orchestratorURL string

	mu                sync.Mutex
	agents            map[string]*ManagedAgent
	subagentsByParent map[string]map[string]struct{}

	cancel     context.CancelFunc
	background *errgroup.Group
}

// New creates a Supervisor. stateDir is where agent-prompts/ is materialized.
func New(stateDir, orchestratorURL string) *Supervisor {
	return &Supervisor{
		log:               slog.Default(),
		stateDir:          stateDir,
		orchestratorURL:   orchestratorURL,
		agents:            make(map[string]*ManagedAgent),
		subagentsByParent: make(map[string]map[string]struct{}),
	}
}

// Register adds a persistent agent definition in the stopped state. Does not spawn.
func (s *Supervisor) Register(def config.AgentDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[def.AgentID] = &ManagedAgent{
		definition: def,
		state:      StateStopped,
	}
}

// Start launches the health-check and idle-scan background loops under a
// shared errgroup, so Stop can wait for both to actually exit instead of
// just firing cancel and racing ahead.
func (s *Supervisor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { s.healthLoop(gctx); return nil })
	g.Go(func() error { s.idleLoop(gctx); return nil })
	s.background = g
}

// Stop cancels the background loops, waits for them to exit, and stops
// every agent.
func (s *Supervisor) Stop(ctx context.Context) {
	if s.cancel != nil {
		s.cancel()
	}
	if s.background != nil {
		_ = s.background.Wait()
	}
	s.mu.Lock()
	ids := make([]string, 0, len(s.agents))
	for id, a := range s.agents {
		if !a.isSubagentLocked() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.StopAgent(ctx, id)
	}
}

func (a *ManagedAgent) isSubagentLocked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isSubagent
}

func (s *Supervisor) get(agentID string) (*ManagedAgent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	return a, ok
}

// EnsureRunning returns whether the agent is available, spawning it (or
// awaiting an in-flight spawn) as needed (spec.md §4.F Ensure-running
// deduplication).
func (s *Supervisor) EnsureRunning(ctx context.Context, agentID string) bool {
	agent, ok := s.get(agentID)
	if !ok {
		return false
	}

	agent.mu.Lock()
	if agent.state == StateRunning && agent.available {
		agent.mu.Unlock()
		return true
	}
	if agent.state == StateStarting {
		future := agent.spawnFuture
		agent.mu.Unlock()
		if future == nil {
			return false
		}
		<-future.done
		return future.available
	}

	future := &spawnFuture{done: make(chan struct{})}
	agent.state = StateStarting
	agent.spawnFuture = future
	agent.mu.Unlock()

	available := s.spawn(ctx, agentID, agent)

	agent.mu.Lock()
	agent.spawnFuture = nil
	agent.mu.Unlock()

	future.available = available
	close(future.done)
	return available
}

// StopAgent cascades KillSubagent over the agent's children (spec.md §4.F
// Cascade stop), then stops the agent's own process. Persistent agents
// remain registered in stopped; subagents are never passed directly here
// (KillSubagent removes them).
func (s *Supervisor) StopAgent(ctx context.Context, agentID string) {
	s.mu.Lock()
	children := make([]string, 0, len(s.subagentsByParent[agentID]))
	for id := range s.subagentsByParent[agentID] {
		children = append(children, id)
	}
	s.mu.Unlock()

	for _, childID := range children {
		s.KillSubagent(ctx, childID)
	}

	agent, ok := s.get(agentID)
	if !ok {
		return
	}

	agent.mu.Lock()
	agent.state = StateStopping
	proc := agent.proc
	promptPath := agent.promptFilePath
	agent.mu.Unlock()

	if proc != nil {
		_ = proc.Kill()
	}
	if promptPath != "" {
		_ = os.Remove(promptPath)
	}

	agent.mu.Lock()
	agent.state = StateStopped
	agent.available = false
	agent.proc = nil
	agent.promptFilePath = ""
	agent.restartCount = 0
	agent.mu.Unlock()

	s.log.Info("agent stopped", "agent_id", agentID)
}

// ReasonerFor returns the bound reasoner client for a running agent.
func (s *Supervisor) ReasonerFor(agentID string) (*reasonerclient.Client, bool) {
	agent, ok := s.get(agentID)
	if !ok {
		return nil, false
	}
	agent.mu.Lock()
	defer agent.mu.Unlock()
	if agent.reasoner == nil {
		return nil, false
	}
	return agent.reasoner, true
}

// Status returns a snapshot of every registered agent, for /status.
func (s *Supervisor) Status() []Status {
	s.mu.Lock()
	ids := make([]string, 0, len(s.agents))
	agents := make([]*ManagedAgent, 0, len(s.agents))
	for id, a := range s.agents {
		ids = append(ids, id)
		agents = append(agents, a)
	}
	s.mu.Unlock()

	out := make([]Status, len(ids))
	for i := range ids {
		out[i] = agents[i].status(ids[i])
	}
	return out
}

// UpdateActivity records dispatch activity for idle-kill accounting.
func (s *Supervisor) UpdateActivity(agentID string) {
	agent, ok := s.get(agentID)
	if !ok {
		return
	}
	agent.mu.Lock()
	agent.lastActivityAt = time.Now()
	agent.mu.Unlock()
}

// MarkPaused flips an agent's cost-control pause flag (spec.md §4.L).
func (s *Supervisor) MarkPaused(agentID, reason string) {
	agent, ok := s.get(agentID)
	if !ok {
		return
	}
	agent.mu.Lock()
	agent.paused = true
	agent.pauseReason = reason
	agent.mu.Unlock()
}

// IsPaused reports whether an agent is cost-control paused.
func (s *Supervisor) IsPaused(agentID string) bool {
	agent, ok := s.get(agentID)
	if !ok {
		return false
	}
	agent.mu.Lock()
	defer agent.mu.Unlock()
	return agent.paused
}

// Resume forwards a resume request to the reasoner and only clears the
// local paused flag when it acknowledges (spec.md §4.F Cost-pause state).
func (s *Supervisor) Resume(ctx context.Context, agentID string, resetWindow bool) error {
	agent, ok := s.get(agentID)
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	agent.mu.Lock()
	rc := agent.reasoner
	agent.mu.Unlock()
	if rc == nil {
		return fmt.Errorf("agent %q has no reasoner client (not running)", agentID)
	}

	resp, err := rc.CostResume(ctx, reasonerclient.CostResumeRequest{ResetWindow: resetWindow})
	if err != nil {
		return fmt.Errorf("cost-resume call failed: %w", err)
	}
	if !resp.Acknowledged {
		return fmt.Errorf("reasoner did not acknowledge cost-resume: %s", resp.Error)
	}

	agent.mu.Lock()
	agent.paused = false
	agent.pauseReason = ""
	agent.mu.Unlock()
	return nil
}
