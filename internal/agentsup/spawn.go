package agentsup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/orchestrator/internal/config"
	"github.com/nextlevelbuilder/orchestrator/internal/reasonerclient"
)

// spawn runs the six-step protocol from spec.md §4.F against def, mutating
// agent in place. Called only while agent.state == starting.
func (s *Supervisor) spawn(ctx context.Context, agentID string, agent *ManagedAgent) bool {
	agent.mu.Lock()
	def := agent.definition
	agent.mu.Unlock()

	var promptPath string
	if def.SystemPrompt != "" {
		p, err := s.materializePrompt(agentID, def.SystemPrompt)
		if err != nil {
			s.log.Error("failed to materialize prompt", "agent_id", agentID, "error", err)
			s.setStopped(agent)
			return false
		}
		promptPath = p
	}

	env := s.buildEnv(def, promptPath)

	proc, port, err := spawnReasoner(ensureContext(ctx), agentID, def.BinaryPath, def.BinaryArgs, env, def.DesiredPort)
	if err != nil {
		s.log.Error("reasoner spawn failed", "agent_id", agentID, "error", err)
		s.setStopped(agent)
		return false
	}

	rc := reasonerclient.New(port)

	healthy := pollHealth(ctx, rc)
	if !healthy {
		s.log.Error("reasoner failed health probe, giving up", "agent_id", agentID, "port", port)
		_ = proc.Kill()
		s.setStopped(agent)
		return false
	}

	agent.mu.Lock()
	agent.proc = proc
	agent.actualPort = port
	agent.reasoner = rc
	agent.promptFilePath = promptPath
	agent.state = StateRunning
	agent.available = true
	agent.lastActivityAt = time.Now()
	agent.consecutiveUnhealthy = 0
	agent.mu.Unlock()

	s.log.Info("agent running", "agent_id", agentID, "port", port, "pid", proc.PID())

	go s.awaitExit(agentID, agent, proc)

	return true
}

// awaitExit blocks on the child's exit and reflects it into the state
// machine (spec.md §4.F step 6) — the health checker, not this goroutine,
// decides whether to restart.
func (s *Supervisor) awaitExit(agentID string, agent *ManagedAgent, proc process) {
	err := proc.Wait()

	agent.mu.Lock()
	sameProcess := agent.proc == proc
	if sameProcess {
		agent.available = false
		if agent.state == StateRunning {
			agent.state = StateStopped
		}
	}
	agent.mu.Unlock()

	if sameProcess {
		s.log.Warn("reasoner process exited", "agent_id", agentID, "error", err)
	}
}

func pollHealth(ctx context.Context, rc *reasonerclient.Client) bool {
	deadline := time.Now().Add(healthPollTimeout)
	for time.Now().Before(deadline) {
		if rc.HealthCheck(ensureContext(ctx)) {
			return true
		}
		time.Sleep(healthPollInterval)
	}
	return false
}

func (s *Supervisor) materializePrompt(agentID, prompt string) (string, error) {
	dir := filepath.Join(s.stateDir, "agent-prompts")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create prompt dir: %w", err)
	}
	path := filepath.Join(dir, agentID+".txt")
	if err := os.WriteFile(path, []byte(prompt), 0600); err != nil {
		return "", fmt.Errorf("write prompt file: %w", err)
	}
	return path, nil
}

// buildEnv inherits the supervisor process's environment and overlays the
// agent-specific variables named in spec.md §4.F step 2.
func (s *Supervisor) buildEnv(def config.AgentDefinition, promptPath string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env,
		"LLM_PROVIDER="+def.LLMProvider,
		"MODEL="+def.Model,
		"TEMPERATURE="+strconv.FormatFloat(def.Temperature, 'f', -1, 64),
		"ORCHESTRATOR_URL="+s.orchestratorURL,
	)
	if promptPath != "" {
		env = append(env, "SYSTEM_PROMPT_PATH="+promptPath)
	}
	if def.CostControls != nil {
		cc := def.CostControls
		env = append(env,
			"COST_SHORT_WINDOW_MINUTES="+strconv.Itoa(cc.ShortWindowMinutes),
			"COST_SPIKE_MULTIPLIER="+strconv.FormatFloat(cc.SpikeMultiplier, 'f', -1, 64),
			"COST_HARD_CAP_TOKENS_PER_HOUR="+strconv.FormatInt(cc.HardCapTokensPerHour, 10),
			"COST_MINIMUM_BASELINE_TOKENS="+strconv.FormatInt(cc.MinimumBaselineTokens, 10),
		)
	}
	return env
}

func (s *Supervisor) setStopped(agent *ManagedAgent) {
	agent.mu.Lock()
	agent.state = StateStopped
	agent.available = false
	agent.proc = nil
	agent.mu.Unlock()
}
