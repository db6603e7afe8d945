// Package config loads the orchestrator's JSON5 configuration file: tool
// server definitions, agent definitions, channel bindings, and scheduler
// defaults. Parsing/validation only — it owns no runtime state.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, matching
// config files hand-edited by operators who forget to quote numeric IDs.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the orchestrator.
type Config struct {
	StateDir    string               `json:"state_dir"`
	ToolServers map[string]*ToolServerConfig `json:"tool_servers"`
	Agents      []AgentDefinition    `json:"agents"`
	Channels    ChannelsConfig       `json:"channels"`
	Bindings    []ChannelBinding     `json:"bindings,omitempty"`
	DefaultAgentID string            `json:"default_agent_id"`
	OrchestratorURL string           `json:"orchestrator_url,omitempty"` // seeds ORCHESTRATOR_URL for spawned reasoners
	Scheduler   SchedulerConfig      `json:"scheduler,omitempty"`
	Scanner     ScannerConfig        `json:"scanner,omitempty"`
	Database    DatabaseConfig       `json:"database,omitempty"`
	Telemetry   TelemetryConfig      `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// ToolServerConfig describes one tool-server subprocess (Component A).
// Transport mirrors the teacher's MCP manager: "stdio" spawns a child
// process, "sse"/"streamable-http" dial an already-running server.
type ToolServerConfig struct {
	Enabled               bool              `json:"enabled"`
	Transport             string            `json:"transport"` // "stdio", "sse", "streamable-http"
	Command               string            `json:"command,omitempty"`
	Args                  []string          `json:"args,omitempty"`
	Env                   map[string]string `json:"env,omitempty"`
	URL                   string            `json:"url,omitempty"`
	Headers               map[string]string `json:"headers,omitempty"`
	TimeoutSec            int               `json:"timeout_sec,omitempty"`
	AllowDestructiveTools bool              `json:"allow_destructive_tools,omitempty"`
	IsScanner             bool              `json:"is_scanner,omitempty"`
}

func (t *ToolServerConfig) IsEnabled() bool { return t != nil && t.Enabled }

// ScannerConfig configures the optional pre/post-call content scanner (Component B).
type ScannerConfig struct {
	ServerName string `json:"server_name,omitempty"` // name of a ToolServerConfig entry that implements scan()
	FailMode   string `json:"fail_mode,omitempty"`   // "block" (default) or "allow"
	AuditPath  string `json:"audit_path,omitempty"`  // default "<state_dir>/scanner-audit.jsonl"
}

func (s ScannerConfig) FailModeOrDefault() string {
	if s.FailMode == "" {
		return "block"
	}
	return s.FailMode
}

// CostControls mirrors spec.md §3 AgentDefinition.costControls.
type CostControls struct {
	ShortWindowMinutes    int     `json:"short_window_minutes,omitempty"`
	SpikeMultiplier       float64 `json:"spike_multiplier,omitempty"`
	HardCapTokensPerHour  int64   `json:"hard_cap_tokens_per_hour,omitempty"`
	MinimumBaselineTokens int64   `json:"minimum_baseline_tokens,omitempty"`
	NotifyChannel         string  `json:"notify_channel,omitempty"`
	NotifyChatID          string  `json:"notify_chat_id,omitempty"`
}

// AgentDefinition is the static, startup-time config for one reasoner (spec.md §3).
type AgentDefinition struct {
	AgentID            string        `json:"agent_id"`
	Enabled            bool          `json:"enabled"`
	DesiredPort        int           `json:"desired_port,omitempty"` // 0 = dynamic
	LLMProvider        string        `json:"llm_provider"`
	Model              string        `json:"model"`
	SystemPrompt       string        `json:"system_prompt,omitempty"`
	AllowedTools       []string      `json:"allowed_tools,omitempty"` // glob patterns, empty = all
	DeniedTools        []string      `json:"denied_tools,omitempty"`
	MaxSteps           int           `json:"max_steps,omitempty"`
	IdleTimeoutMinutes int           `json:"idle_timeout_minutes,omitempty"`
	Temperature        float64       `json:"temperature,omitempty"`
	CostControls       *CostControls `json:"cost_controls,omitempty"`
	BinaryPath         string        `json:"binary_path"`
	BinaryArgs         []string      `json:"binary_args,omitempty"`
}

// ChannelBinding is a (channel, chatIdPattern) -> agentId rule (spec.md §3).
type ChannelBinding struct {
	Channel       string `json:"channel"`
	ChatIDPattern string `json:"chat_id_pattern"` // "*" = per-channel wildcard
	AgentID       string `json:"agent_id"`
}

// ChannelsConfig holds per-channel-adapter configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`

	PollIntervalMs      int     `json:"poll_interval_ms,omitempty"`       // default 2000
	MaxMessagesPerCycle int     `json:"max_messages_per_cycle,omitempty"` // default 20
	SendsPerSecond      float64 `json:"sends_per_second,omitempty"`       // per-channel outbound rate cap, default 5
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"token"`
	Proxy     string              `json:"proxy,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"token"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

type WhatsAppConfig struct {
	Enabled    bool   `json:"enabled"`
	SessionDir string `json:"session_dir,omitempty"`
}

// SchedulerConfig tunes Component J.
type SchedulerConfig struct {
	MaxItemsPerTick     int    `json:"max_items_per_tick,omitempty"`       // default 100
	FailureCooldownMins int    `json:"failure_cooldown_minutes,omitempty"` // default 5; passed to scheduler.Config.FailureCooldown
	DefaultAgentID      string `json:"default_agent_id,omitempty"`         // reasoner that runs fired Skills
	DefaultMaxSteps     int    `json:"default_max_steps,omitempty"`        // used when a Skill doesn't set its own
}

// DatabaseConfig configures the optional Postgres-backed scheduler store
// (jobs, skills, channel bindings).
type DatabaseConfig struct {
	PostgresDSN string `json:"-"` // from env ORCH_POSTGRES_DSN only, never persisted to disk
	Mode        string `json:"mode,omitempty"` // "file" (default) or "postgres"
}

func (d DatabaseConfig) IsPostgres() bool { return d.Mode == "postgres" && d.PostgresDSN != "" }

// TelemetryConfig configures OTLP trace export for dispatch/scheduler runs.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Transport   string `json:"transport,omitempty"` // "grpc" (default) or "http"
}

// ResolveDefaultAgentID returns the configured default, falling back to the
// first enabled agent definition.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.DefaultAgentID != "" {
		return c.DefaultAgentID
	}
	for _, a := range c.Agents {
		if a.Enabled {
			return a.AgentID
		}
	}
	return ""
}

// FindAgent returns the static definition for an agent ID.
func (c *Config) FindAgent(agentID string) (AgentDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.Agents {
		if a.AgentID == agentID {
			return a, true
		}
	}
	return AgentDefinition{}, false
}

// UpdateBindings atomically replaces the channel binding list (Message Router is stateless
// apart from this list — see spec.md §4.G).
func (c *Config) UpdateBindings(bindings []ChannelBinding) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bindings = bindings
}

// CurrentBindings returns a snapshot of the binding list.
func (c *Config) CurrentBindings() []ChannelBinding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChannelBinding, len(c.Bindings))
	copy(out, c.Bindings)
	return out
}
