package agentsup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/orchestrator/internal/config"
)

// alwaysDeniedSubagentTools is appended to every subagent's deniedTools so a
// worker can never itself spawn a subagent, mirroring the teacher's
// SubagentDenyAlways convention in internal/tools/subagent.go.
var alwaysDeniedSubagentTools = []string{"spawn_subagent"}

// SpawnSubagent creates and spawns an ephemeral, single-level worker agent
// (spec.md §4.F Subagent spawning).
func (s *Supervisor) SpawnSubagent(ctx context.Context, req SpawnSubagentRequest) (string, error) {
	parent, ok := s.get(req.ParentAgentID)
	if !ok {
		return "", fmt.Errorf("unknown parent agent %q", req.ParentAgentID)
	}

	parent.mu.Lock()
	if parent.state != StateRunning || parent.isSubagent {
		parent.mu.Unlock()
		return "", fmt.Errorf("parent %q is not a running top-level agent", req.ParentAgentID)
	}
	parentDef := parent.definition
	parent.mu.Unlock()

	s.mu.Lock()
	if len(s.subagentsByParent[req.ParentAgentID]) >= maxSubagentsPerParent {
		s.mu.Unlock()
		return "", fmt.Errorf("parent %q already has %d subagents", req.ParentAgentID, maxSubagentsPerParent)
	}
	s.mu.Unlock()

	model := req.Model
	if model == "" {
		model = parentDef.Model
	}

	allowed := parentDef.AllowedTools
	if len(req.AllowedTools) > 0 {
		allowed = intersect(req.AllowedTools, subtract(parentDef.AllowedTools, parentDef.DeniedTools))
	}
	denied := append(append([]string{}, parentDef.DeniedTools...), req.DeniedTools...)
	denied = append(denied, alwaysDeniedSubagentTools...)

	timeoutMinutes := req.TimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = int(defaultSubagentTimeout.Minutes())
	}
	if timeoutMinutes > int(maxSubagentTimeout.Minutes()) {
		timeoutMinutes = int(maxSubagentTimeout.Minutes())
	}

	subagentID := fmt.Sprintf("%s-sub-%s", req.ParentAgentID, uuid.NewString()[:8])

	def := config.AgentDefinition{
		AgentID:      subagentID,
		Enabled:      true,
		DesiredPort:  0,
		LLMProvider:  parentDef.LLMProvider,
		Model:        model,
		SystemPrompt: focusedWorkerPrompt(req.Task),
		AllowedTools: allowed,
		DeniedTools:  denied,
		MaxSteps:     parentDef.MaxSteps,
		Temperature:  parentDef.Temperature,
		BinaryPath:   parentDef.BinaryPath,
		BinaryArgs:   parentDef.BinaryArgs,
	}

	agent := &ManagedAgent{
		definition:       def,
		state:            StateStarting,
		parentAgentID:    req.ParentAgentID,
		isSubagent:       true,
		autoKillDeadline: time.Now().Add(time.Duration(timeoutMinutes) * time.Minute),
	}
	future := &spawnFuture{done: make(chan struct{})}
	agent.spawnFuture = future

	s.mu.Lock()
	s.agents[subagentID] = agent
	if s.subagentsByParent[req.ParentAgentID] == nil {
		s.subagentsByParent[req.ParentAgentID] = make(map[string]struct{})
	}
	s.subagentsByParent[req.ParentAgentID][subagentID] = struct{}{}
	s.mu.Unlock()

	available := s.spawn(ctx, subagentID, agent)
	agent.mu.Lock()
	agent.spawnFuture = nil
	agent.mu.Unlock()
	future.available = available
	close(future.done)

	if !available {
		s.unlinkSubagent(req.ParentAgentID, subagentID)
		return "", fmt.Errorf("subagent %q failed to start", subagentID)
	}

	agent.autoKillTimer = time.AfterFunc(time.Duration(timeoutMinutes)*time.Minute, func() {
		s.log.Info("subagent auto-kill deadline reached", "agent_id", subagentID)
		s.KillSubagent(context.Background(), subagentID)
	})

	return subagentID, nil
}

// KillSubagent cancels the auto-kill timer, unlinks the parent relationship,
// stops the process, and removes the agent entirely — unlike StopAgent on a
// persistent agent, the entry does not remain in stopped (spec.md §4.F
// Killing subagents).
func (s *Supervisor) KillSubagent(ctx context.Context, subagentID string) {
	agent, ok := s.get(subagentID)
	if !ok {
		return
	}

	agent.mu.Lock()
	if agent.autoKillTimer != nil {
		agent.autoKillTimer.Stop()
	}
	parentID := agent.parentAgentID
	proc := agent.proc
	promptPath := agent.promptFilePath
	agent.state = StateStopping
	agent.mu.Unlock()

	s.unlinkSubagent(parentID, subagentID)

	if proc != nil {
		_ = proc.Kill()
	}
	if promptPath != "" {
		_ = os.Remove(promptPath)
	}

	s.mu.Lock()
	delete(s.agents, subagentID)
	s.mu.Unlock()

	s.log.Info("subagent killed", "agent_id", subagentID, "parent_agent_id", parentID)
}

func (s *Supervisor) unlinkSubagent(parentID, subagentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if children, ok := s.subagentsByParent[parentID]; ok {
		delete(children, subagentID)
		if len(children) == 0 {
			delete(s.subagentsByParent, parentID)
		}
	}
}

// CountSubagents reports how many subagents a parent currently owns.
func (s *Supervisor) CountSubagents(parentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subagentsByParent[parentID])
}

func focusedWorkerPrompt(task string) string {
	return "You are a focused worker agent spawned to complete a single task, then stop.\n\nTask:\n" + task
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

func subtract(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(a))
	for _, v := range a {
		if _, ok := set[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
