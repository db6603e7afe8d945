package msgrouter

import (
	"testing"

	"github.com/nextlevelbuilder/orchestrator/internal/config"
)

func TestResolve_ExactMatchWinsOverWildcard(t *testing.T) {
	r := New([]config.ChannelBinding{
		{Channel: "telegram", ChatIDPattern: "*", AgentID: "wildcard-agent"},
		{Channel: "telegram", ChatIDPattern: "12345", AgentID: "exact-agent"},
	}, "")

	got, ok := r.Resolve("telegram", "12345")
	if !ok || got != "exact-agent" {
		t.Fatalf("Resolve() = (%q, %v), want (exact-agent, true)", got, ok)
	}
}

func TestResolve_FallsBackToWildcard(t *testing.T) {
	r := New([]config.ChannelBinding{
		{Channel: "telegram", ChatIDPattern: "*", AgentID: "wildcard-agent"},
	}, "")

	got, ok := r.Resolve("telegram", "99999")
	if !ok || got != "wildcard-agent" {
		t.Fatalf("Resolve() = (%q, %v), want (wildcard-agent, true)", got, ok)
	}
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	r := New(nil, "default-agent")

	got, ok := r.Resolve("discord", "whatever")
	if !ok || got != "default-agent" {
		t.Fatalf("Resolve() = (%q, %v), want (default-agent, true)", got, ok)
	}
}

func TestResolve_NoMatchNoDefaultReturnsFalse(t *testing.T) {
	r := New(nil, "")

	_, ok := r.Resolve("discord", "whatever")
	if ok {
		t.Fatalf("expected Resolve to fail with no bindings and no default")
	}
}

func TestUpdateBindings_ReplacesAtomically(t *testing.T) {
	r := New([]config.ChannelBinding{
		{Channel: "telegram", ChatIDPattern: "*", AgentID: "old-agent"},
	}, "")

	r.UpdateBindings([]config.ChannelBinding{
		{Channel: "telegram", ChatIDPattern: "*", AgentID: "new-agent"},
	})

	got, ok := r.Resolve("telegram", "anything")
	if !ok || got != "new-agent" {
		t.Fatalf("Resolve() after UpdateBindings = (%q, %v), want (new-agent, true)", got, ok)
	}
}

func TestSetDefaultAgentID(t *testing.T) {
	r := New(nil, "first")
	r.SetDefaultAgentID("second")

	got, ok := r.Resolve("telegram", "anything")
	if !ok || got != "second" {
		t.Fatalf("Resolve() after SetDefaultAgentID = (%q, %v), want (second, true)", got, ok)
	}
}
