package agentsup

import (
	"context"
	"time"
)

// healthLoop ticks every 30s, health-checking every running agent and
// restarting any that go unhealthy twice in a row (spec.md §4.F
// Restart-with-backoff). Subagents are never auto-restarted.
func (s *Supervisor) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.healthTick(ctx)
		}
	}
}

func (s *Supervisor) healthTick(ctx context.Context) {
	s.mu.Lock()
	running := make(map[string]*ManagedAgent, len(s.agents))
	for id, a := range s.agents {
		running[id] = a
	}
	s.mu.Unlock()

	for id, agent := range running {
		agent.mu.Lock()
		if agent.state != StateRunning {
			agent.mu.Unlock()
			continue
		}
		rc := agent.reasoner
		isSubagent := agent.isSubagent
		wasAvailable := agent.available
		agent.mu.Unlock()

		if rc == nil {
			continue
		}

		healthy := rc.HealthCheck(ctx)

		agent.mu.Lock()
		if healthy {
			agent.available = true
			agent.consecutiveUnhealthy = 0
			agent.mu.Unlock()
			continue
		}
		if wasAvailable {
			agent.available = false
		}
		agent.consecutiveUnhealthy++
		unhealthyTwice := agent.consecutiveUnhealthy >= 2
		agent.mu.Unlock()

		if unhealthyTwice && !isSubagent {
			s.restartWithBackoff(ctx, id, agent)
		}
	}
}

// restartWithBackoff attempts to restart a persistent agent with exponential
// backoff starting at 10s, doubling per attempt, up to 5 attempts. Runs
// synchronously within the health tick's per-agent goroutine-free loop, but
// the sleep itself is backgrounded so one stuck agent doesn't delay others.
func (s *Supervisor) restartWithBackoff(ctx context.Context, agentID string, agent *ManagedAgent) {
	agent.mu.Lock()
	if agent.restartCount >= restartMaxAttempts {
		agent.mu.Unlock()
		s.log.Error("agent restart attempts exhausted, giving up", "agent_id", agentID, "attempts", agent.restartCount)
		return
	}
	attempt := agent.restartCount
	agent.restartCount++
	agent.lastRestartAt = time.Now()
	proc := agent.proc

	// Transition to starting and install the shared future now, under the
	// same lock, so concurrent EnsureRunning callers await this restart
	// instead of racing a second spawn during the backoff sleep.
	agent.state = StateStarting
	future := &spawnFuture{done: make(chan struct{})}
	agent.spawnFuture = future
	agent.mu.Unlock()

	go func() {
		if proc != nil {
			_ = proc.Kill()
		}

		backoff := restartInitialBackoff * time.Duration(1<<attempt)
		s.log.Warn("agent unhealthy, restarting after backoff", "agent_id", agentID, "attempt", attempt+1, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		available := s.spawn(ctx, agentID, agent)

		agent.mu.Lock()
		agent.spawnFuture = nil
		agent.mu.Unlock()
		future.available = available
		close(future.done)
	}()
}

// idleLoop ticks every 5 minutes, stopping non-subagent agents idle past
// their idleTimeoutMinutes (spec.md §4.F Idle-kill).
func (s *Supervisor) idleLoop(ctx context.Context) {
	ticker := time.NewTicker(idleScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.idleTick(ctx)
		}
	}
}

func (s *Supervisor) idleTick(ctx context.Context) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	now := time.Now()
	for _, id := range ids {
		agent, ok := s.get(id)
		if !ok {
			continue
		}
		agent.mu.Lock()
		if agent.state != StateRunning || agent.isSubagent {
			agent.mu.Unlock()
			continue
		}
		timeout := time.Duration(agent.definition.IdleTimeoutMinutes) * time.Minute
		if timeout <= 0 {
			timeout = defaultIdleTimeout
		}
		idleFor := now.Sub(agent.lastActivityAt)
		agent.mu.Unlock()

		if idleFor > timeout {
			s.log.Info("agent idle, stopping", "agent_id", id, "idle_for", idleFor)
			s.StopAgent(ctx, id)
		}
	}
}
