// Package slashcmd is the Slash-Command Handler (spec.md §4.H): a
// zero-LLM, fixed command table consulted by the Dispatch Pipeline before
// any message reaches a reasoner. Implementations call the Tool Router
// only, per spec.md §9's note that `/delete`'s channel-specific deletion
// tool name is resolved through the router so this package never imports a
// channel package. Grounded on the teacher's telegram `commands.go` switch-
// on-command shape (strict table, strip-and-lowercase the first token) made
// channel-agnostic.
package slashcmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AgentStatus is the subset of agentsup.Status the /status report needs.
// Defined locally (rather than importing agentsup's type) so this package
// has no dependency on the Agent Supervisor's internals beyond this shape.
type AgentStatus struct {
	AgentID      string
	State        string
	Available    bool
	RestartCount int
}

// ToolRoute is the subset of toolrouter.ToolRoute needed for tool counts.
type ToolRoute struct {
	ExposedName string
	ServerName  string
}

// ServerStatus reports one tool server's availability for /status.
type ServerStatus struct {
	Name      string
	Connected bool
	ToolCount int
}

// Dependencies the handler calls through — never a concrete channel or
// reasoner type.
type Dependencies struct {
	StartedAt       time.Time
	AgentStatuses   func() []AgentStatus
	ServerStatuses  func() []ServerStatus
	ToolDefinitions func() []ToolRoute
	EnabledSkills   func() []string
	// Route dispatches one tool call by its router-exposed name.
	Route func(ctx context.Context, exposedName string, args map[string]any) (map[string]any, error)
	// Halt and Resume operate the Halt Manager (spec.md §4.K) for a target
	// ("inngest", "channels", "*" for everything). Both are optional; a nil
	// func leaves /halt and /resume reporting themselves unavailable rather
	// than panicking.
	Halt   func(target string)
	Resume func(target string)
}

// Result is what the dispatch pipeline needs back: whether the command was
// recognized, and the text to send (if any).
type Result struct {
	Handled bool
	Reply   string
}

// Handle dispatches a "/"-prefixed message. Unknown commands return
// {Handled: false} so the dispatch pipeline falls through to the reasoner.
func Handle(ctx context.Context, deps Dependencies, channel, chatID, text string) Result {
	if !strings.HasPrefix(text, "/") {
		return Result{Handled: false}
	}
	parts := strings.SplitN(text, " ", 2)
	cmd := strings.ToLower(parts[0])
	arg := ""
	if len(parts) == 2 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/status":
		return Result{Handled: true, Reply: status(deps)}
	case "/delete":
		return Result{Handled: true, Reply: deleteMessages(ctx, deps, channel, chatID, arg)}
	case "/info":
		return Result{Handled: true, Reply: info(deps)}
	case "/help":
		return Result{Handled: true, Reply: helpText()}
	case "/halt":
		return Result{Handled: true, Reply: haltTarget(deps, arg)}
	case "/resume":
		return Result{Handled: true, Reply: resumeTarget(deps, arg)}
	default:
		return Result{Handled: false}
	}
}

func status(deps Dependencies) string {
	var b strings.Builder
	uptime := time.Since(deps.StartedAt).Round(time.Second)
	fmt.Fprintf(&b, "Uptime: %s\n", uptime)

	servers := deps.ServerStatuses()
	fmt.Fprintf(&b, "\nTool servers (%d):\n", len(servers))
	totalTools := 0
	for _, s := range servers {
		state := "down"
		if s.Connected {
			state = "up"
		}
		fmt.Fprintf(&b, "  %s: %s (%d tools)\n", s.Name, state, s.ToolCount)
		totalTools += s.ToolCount
	}

	agents := deps.AgentStatuses()
	sessions := 0
	fmt.Fprintf(&b, "\nAgents (%d):\n", len(agents))
	for _, a := range agents {
		fmt.Fprintf(&b, "  %s: %s (restarts=%d)\n", a.AgentID, a.State, a.RestartCount)
		if a.State == "running" {
			sessions++
		}
	}

	fmt.Fprintf(&b, "\nTotal tools: %d\nActive sessions: %d\n", totalTools, sessions)
	return b.String()
}

func info(deps Dependencies) string {
	var b strings.Builder
	b.WriteString("Commands: /status, /delete <spec>, /info, /halt [target], /resume [target], /help\n\n")

	byServer := make(map[string]int)
	for _, t := range deps.ToolDefinitions() {
		byServer[t.ServerName]++
	}
	b.WriteString("Tools by server:\n")
	for server, count := range byServer {
		fmt.Fprintf(&b, "  %s: %d\n", server, count)
	}

	skills := deps.EnabledSkills()
	fmt.Fprintf(&b, "\nEnabled skills (%d):\n", len(skills))
	for _, s := range skills {
		fmt.Fprintf(&b, "  %s\n", s)
	}
	return b.String()
}

func helpText() string {
	return "Available commands:\n" +
		"/status — uptime, tool server and agent health, tool/session counts\n" +
		"/delete <today|Nh|N> — delete recent messages in this chat\n" +
		"/info — command list, tool counts by server, enabled skills\n" +
		"/halt [target] — halt a named target (\"inngest\" = the scheduler; default \"*\" = everything)\n" +
		"/resume [target] — clear a halt (default \"*\" = everything)\n" +
		"/help — this message\n"
}

// defaultHaltTarget is used when /halt or /resume is called with no
// argument: halt/resume everything, per halt.Manager's own "*" convention.
const defaultHaltTarget = "*"

func haltTarget(deps Dependencies, arg string) string {
	if deps.Halt == nil {
		return "Halt is not available in this deployment."
	}
	target := arg
	if target == "" {
		target = defaultHaltTarget
	}
	deps.Halt(target)
	return fmt.Sprintf("Halted %q.", target)
}

func resumeTarget(deps Dependencies, arg string) string {
	if deps.Resume == nil {
		return "Resume is not available in this deployment."
	}
	target := arg
	if target == "" {
		target = defaultHaltTarget
	}
	deps.Resume(target)
	return fmt.Sprintf("Resumed %q.", target)
}

// deleteSpec parses the /delete argument per spec.md §4.H: "today", "<N>h"
// (1<=N<=168), or "<N>" (1<=N<=500). Exactly one of byTime/byCount applies;
// maxFetch always bounds how many messages are paged in regardless of mode.
type deleteSpec struct {
	byTime     bool
	cutoffTime time.Time
	byCount    int
	maxFetch   int
}

func parseDeleteSpec(arg string) (deleteSpec, error) {
	if arg == "today" {
		now := time.Now()
		return deleteSpec{byTime: true, cutoffTime: time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), maxFetch: 500}, nil
	}
	if strings.HasSuffix(arg, "h") {
		numPart := strings.TrimSuffix(arg, "h")
		n, err := strconv.Atoi(numPart)
		if err != nil || n < 1 || n > 168 {
			return deleteSpec{}, fmt.Errorf("usage: /delete today|<1-168>h|<1-500>")
		}
		return deleteSpec{byTime: true, cutoffTime: time.Now().Add(-time.Duration(n) * time.Hour), maxFetch: 500}, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > 500 {
		return deleteSpec{}, fmt.Errorf("usage: /delete today|<1-168>h|<1-500>")
	}
	return deleteSpec{byCount: n, maxFetch: n}, nil
}

const pageSize = 100
const deleteChunkSize = 100

func deleteMessages(ctx context.Context, deps Dependencies, channel, chatID, arg string) string {
	spec, err := parseDeleteSpec(arg)
	if err != nil {
		return err.Error()
	}

	fetchTool := channel + "_fetch_messages"
	deleteTool := channel + "_delete_messages"

	var candidates []string

	for page := 0; len(candidates) < spec.maxFetch && page*pageSize < 500; page++ {
		result, err := deps.Route(ctx, fetchTool, map[string]any{
			"chat_id": chatID,
			"limit":   pageSize,
			"offset":  page * pageSize,
		})
		if err != nil {
			return fmt.Sprintf("failed to fetch messages: %v", err)
		}
		ids, timestamps := extractMessagePage(result)
		if len(ids) == 0 {
			break
		}
		for i, id := range ids {
			if len(candidates) >= spec.maxFetch {
				break
			}
			if spec.byTime && i < len(timestamps) && timestamps[i].Before(spec.cutoffTime) {
				continue
			}
			candidates = append(candidates, id)
		}
		if len(ids) < pageSize {
			break
		}
	}

	deleted := 0
	for i := 0; i < len(candidates); i += deleteChunkSize {
		end := i + deleteChunkSize
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[i:end]
		_, err := deps.Route(ctx, deleteTool, map[string]any{"chat_id": chatID, "message_ids": chunk})
		if err != nil {
			return fmt.Sprintf("deleted %d message(s) before failing: %v", deleted, err)
		}
		deleted += len(chunk)
	}

	return fmt.Sprintf("Deleted %d message(s)", deleted)
}

// extractMessagePage pulls parallel id/timestamp slices out of a tool
// result shaped as {"messages": [{"id": "...", "timestamp": "RFC3339"}]}.
func extractMessagePage(result map[string]any) ([]string, []time.Time) {
	raw, ok := result["messages"].([]any)
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, len(raw))
	timestamps := make([]time.Time, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		if id == "" {
			continue
		}
		ids = append(ids, id)
		ts, _ := m["timestamp"].(string)
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			t = time.Now()
		}
		timestamps = append(timestamps, t)
	}
	return ids, timestamps
}
