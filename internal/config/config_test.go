package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channels.PollIntervalMs != 2000 {
		t.Fatalf("expected default PollIntervalMs 2000, got %d", cfg.Channels.PollIntervalMs)
	}
	if cfg.Scanner.FailMode != "block" {
		t.Fatalf("expected default Scanner.FailMode 'block', got %q", cfg.Scanner.FailMode)
	}
}

func TestLoad_ParsesJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
		// a comment, since this is JSON5
		state_dir: "/tmp/orch-state",
		default_agent_id: "default",
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateDir != "/tmp/orch-state" {
		t.Fatalf("StateDir = %q, want /tmp/orch-state", cfg.StateDir)
	}
	if cfg.DefaultAgentID != "default" {
		t.Fatalf("DefaultAgentID = %q, want default", cfg.DefaultAgentID)
	}
}

func TestLoad_EnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	if err := os.WriteFile(path, []byte(`{}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ORCH_POSTGRES_DSN", "postgres://from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.PostgresDSN != "postgres://from-env" {
		t.Fatalf("PostgresDSN = %q, want env override", cfg.Database.PostgresDSN)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir available: %v", err)
	}
	cases := map[string]string{
		"~":            home,
		"~/.orchestrator": home + "/.orchestrator",
		"/absolute":    "/absolute",
		"":             "",
	}
	for in, want := range cases {
		if got := ExpandHome(in); got != want {
			t.Fatalf("ExpandHome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFlexibleStringSlice_AcceptsStringsAndNumbers(t *testing.T) {
	var f FlexibleStringSlice
	if err := json.Unmarshal([]byte(`["abc", 123, 456]`), &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := []string{"abc", "123", "456"}
	if len(f) != len(want) {
		t.Fatalf("got %v, want %v", f, want)
	}
	for i := range want {
		if f[i] != want[i] {
			t.Fatalf("got %v, want %v", f, want)
		}
	}
}

func TestResolveDefaultAgentID_FallsBackToFirstEnabledAgent(t *testing.T) {
	cfg := &Config{
		Agents: []AgentDefinition{
			{AgentID: "disabled-one", Enabled: false},
			{AgentID: "enabled-one", Enabled: true},
		},
	}
	if got := cfg.ResolveDefaultAgentID(); got != "enabled-one" {
		t.Fatalf("ResolveDefaultAgentID() = %q, want enabled-one", got)
	}
}

func TestFindAgent(t *testing.T) {
	cfg := &Config{Agents: []AgentDefinition{{AgentID: "default"}}}

	got, ok := cfg.FindAgent("default")
	if !ok || got.AgentID != "default" {
		t.Fatalf("FindAgent(default) = (%+v, %v), want found", got, ok)
	}

	_, ok = cfg.FindAgent("missing")
	if ok {
		t.Fatalf("expected FindAgent(missing) to report not found")
	}
}

func TestUpdateAndCurrentBindings(t *testing.T) {
	cfg := &Config{}
	cfg.UpdateBindings([]ChannelBinding{{Channel: "telegram", ChatIDPattern: "*", AgentID: "default"}})

	got := cfg.CurrentBindings()
	if len(got) != 1 || got[0].AgentID != "default" {
		t.Fatalf("CurrentBindings() = %+v, want one binding with AgentID=default", got)
	}
}
