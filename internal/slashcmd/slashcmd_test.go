package slashcmd

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func baseDeps() Dependencies {
	return Dependencies{
		StartedAt:       time.Now().Add(-time.Hour),
		AgentStatuses:   func() []AgentStatus { return nil },
		ServerStatuses:  func() []ServerStatus { return nil },
		ToolDefinitions: func() []ToolRoute { return nil },
		EnabledSkills:   func() []string { return nil },
		Route: func(ctx context.Context, exposedName string, args map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}
}

func TestHandle_NonSlashTextIsNotHandled(t *testing.T) {
	res := Handle(context.Background(), baseDeps(), "telegram", "1", "hello there")
	if res.Handled {
		t.Fatalf("expected a plain message to not be handled as a slash command")
	}
}

func TestHandle_UnknownCommandIsNotHandled(t *testing.T) {
	res := Handle(context.Background(), baseDeps(), "telegram", "1", "/bogus")
	if res.Handled {
		t.Fatalf("expected an unknown command to fall through to the reasoner")
	}
}

func TestHandle_Help(t *testing.T) {
	res := Handle(context.Background(), baseDeps(), "telegram", "1", "/help")
	if !res.Handled || !strings.Contains(res.Reply, "/status") {
		t.Fatalf("expected /help to list commands, got: %+v", res)
	}
}

func TestHandle_StatusReportsServersAgentsAndTotals(t *testing.T) {
	deps := baseDeps()
	deps.ServerStatuses = func() []ServerStatus {
		return []ServerStatus{{Name: "filesystem", Connected: true, ToolCount: 3}}
	}
	deps.AgentStatuses = func() []AgentStatus {
		return []AgentStatus{{AgentID: "default", State: "running", RestartCount: 0}}
	}

	res := Handle(context.Background(), deps, "telegram", "1", "/status")
	if !res.Handled {
		t.Fatalf("expected /status to be handled")
	}
	if !strings.Contains(res.Reply, "filesystem: up (3 tools)") {
		t.Fatalf("expected server line in reply, got: %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "Total tools: 3") {
		t.Fatalf("expected total tool count, got: %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "Active sessions: 1") {
		t.Fatalf("expected one active session counted, got: %q", res.Reply)
	}
}

func TestHandle_InfoGroupsToolsByServerAndListsSkills(t *testing.T) {
	deps := baseDeps()
	deps.ToolDefinitions = func() []ToolRoute {
		return []ToolRoute{
			{ExposedName: "fs_read", ServerName: "filesystem"},
			{ExposedName: "fs_write", ServerName: "filesystem"},
		}
	}
	deps.EnabledSkills = func() []string { return []string{"morning-digest"} }

	res := Handle(context.Background(), deps, "telegram", "1", "/info")
	if !res.Handled {
		t.Fatalf("expected /info to be handled")
	}
	if !strings.Contains(res.Reply, "filesystem: 2") {
		t.Fatalf("expected filesystem tool count of 2, got: %q", res.Reply)
	}
	if !strings.Contains(res.Reply, "morning-digest") {
		t.Fatalf("expected enabled skill listed, got: %q", res.Reply)
	}
}

func TestHandle_DeleteRejectsBadArgument(t *testing.T) {
	res := Handle(context.Background(), baseDeps(), "telegram", "1", "/delete banana")
	if !res.Handled || !strings.Contains(res.Reply, "usage:") {
		t.Fatalf("expected a usage error for a malformed /delete argument, got: %+v", res)
	}
}

func TestHandle_DeleteRejectsOutOfRangeHours(t *testing.T) {
	res := Handle(context.Background(), baseDeps(), "telegram", "1", "/delete 200h")
	if !res.Handled || !strings.Contains(res.Reply, "usage:") {
		t.Fatalf("expected a usage error for >168h, got: %+v", res)
	}
}

func TestHandle_DeleteByCountFetchesAndDeletes(t *testing.T) {
	deps := baseDeps()
	var fetched, deleted []map[string]any
	deps.Route = func(ctx context.Context, exposedName string, args map[string]any) (map[string]any, error) {
		switch exposedName {
		case "telegram_fetch_messages":
			fetched = append(fetched, args)
			offset := args["offset"].(int)
			if offset > 0 {
				return map[string]any{"messages": []any{}}, nil
			}
			return map[string]any{"messages": []any{
				map[string]any{"id": "m1", "timestamp": time.Now().Format(time.RFC3339)},
				map[string]any{"id": "m2", "timestamp": time.Now().Format(time.RFC3339)},
			}}, nil
		case "telegram_delete_messages":
			deleted = append(deleted, args)
			return map[string]any{}, nil
		default:
			return nil, fmt.Errorf("unexpected tool %q", exposedName)
		}
	}

	res := Handle(context.Background(), deps, "telegram", "1", "/delete 2")
	if !res.Handled || res.Reply != "Deleted 2 message(s)" {
		t.Fatalf("expected 2 messages deleted, got: %+v", res)
	}
	if len(deleted) != 1 {
		t.Fatalf("expected one delete call, got %d", len(deleted))
	}
	ids := deleted[0]["message_ids"].([]string)
	if len(ids) != 2 || ids[0] != "m1" || ids[1] != "m2" {
		t.Fatalf("expected [m1 m2] deleted, got %v", ids)
	}
}

func TestHandle_DeleteByTimeSkipsMessagesBeforeCutoff(t *testing.T) {
	deps := baseDeps()
	old := time.Now().Add(-3 * time.Hour)
	recent := time.Now().Add(-30 * time.Minute)
	var deletedIDs []string
	deps.Route = func(ctx context.Context, exposedName string, args map[string]any) (map[string]any, error) {
		switch exposedName {
		case "telegram_fetch_messages":
			offset := args["offset"].(int)
			if offset > 0 {
				return map[string]any{"messages": []any{}}, nil
			}
			return map[string]any{"messages": []any{
				map[string]any{"id": "old-msg", "timestamp": old.Format(time.RFC3339)},
				map[string]any{"id": "recent-msg", "timestamp": recent.Format(time.RFC3339)},
			}}, nil
		case "telegram_delete_messages":
			ids := args["message_ids"].([]string)
			deletedIDs = append(deletedIDs, ids...)
			return map[string]any{}, nil
		default:
			return nil, fmt.Errorf("unexpected tool %q", exposedName)
		}
	}

	res := Handle(context.Background(), deps, "telegram", "1", "/delete 1h")
	if !res.Handled {
		t.Fatalf("expected /delete 1h to be handled")
	}
	if len(deletedIDs) != 1 || deletedIDs[0] != "recent-msg" {
		t.Fatalf("expected only recent-msg deleted, got: %v", deletedIDs)
	}
}

func TestHandle_HaltWithNoArgUsesWildcardTarget(t *testing.T) {
	deps := baseDeps()
	var halted string
	deps.Halt = func(target string) { halted = target }

	res := Handle(context.Background(), deps, "telegram", "1", "/halt")
	if !res.Handled || halted != "*" {
		t.Fatalf("expected /halt with no arg to halt \"*\", got halted=%q res=%+v", halted, res)
	}
}

func TestHandle_HaltWithTarget(t *testing.T) {
	deps := baseDeps()
	var halted string
	deps.Halt = func(target string) { halted = target }

	res := Handle(context.Background(), deps, "telegram", "1", "/halt inngest")
	if !res.Handled || halted != "inngest" {
		t.Fatalf("expected /halt inngest to halt \"inngest\", got halted=%q res=%+v", halted, res)
	}
}

func TestHandle_HaltUnavailableWhenNotWired(t *testing.T) {
	res := Handle(context.Background(), baseDeps(), "telegram", "1", "/halt")
	if !res.Handled || !strings.Contains(res.Reply, "not available") {
		t.Fatalf("expected a not-available reply when Halt is nil, got: %+v", res)
	}
}

func TestHandle_Resume(t *testing.T) {
	deps := baseDeps()
	var resumed string
	deps.Resume = func(target string) { resumed = target }

	res := Handle(context.Background(), deps, "telegram", "1", "/resume channels")
	if !res.Handled || resumed != "channels" {
		t.Fatalf("expected /resume channels to resume \"channels\", got resumed=%q res=%+v", resumed, res)
	}
}

func TestHandle_DeleteStopsOnFetchFailure(t *testing.T) {
	deps := baseDeps()
	deps.Route = func(ctx context.Context, exposedName string, args map[string]any) (map[string]any, error) {
		if exposedName == "telegram_fetch_messages" {
			return nil, fmt.Errorf("boom")
		}
		return nil, fmt.Errorf("unexpected tool %q", exposedName)
	}

	res := Handle(context.Background(), deps, "telegram", "1", "/delete today")
	if !res.Handled || !strings.Contains(res.Reply, "failed to fetch messages") {
		t.Fatalf("expected a fetch failure message, got: %+v", res)
	}
}
