package config

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults, matching the teacher's
// Default()/Load() split in config_load.go.
func Default() *Config {
	return &Config{
		StateDir:    "~/.orchestrator",
		ToolServers: map[string]*ToolServerConfig{},
		Channels: ChannelsConfig{
			PollIntervalMs:      2000,
			MaxMessagesPerCycle: 20,
		},
		Scheduler: SchedulerConfig{
			MaxItemsPerTick:     100,
			FailureCooldownMins: 5,
		},
		Scanner: ScannerConfig{
			FailMode: "block",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env-var secrets.
// A missing file is not an error: the orchestrator starts with defaults
// (mirroring the teacher's first-run behavior, minus the onboarding wizard).
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secrets that must never live in the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ORCH_POSTGRES_DSN"); v != "" {
		c.Database.PostgresDSN = v
	}
	if v := os.Getenv("ORCH_TELEGRAM_TOKEN"); v != "" {
		c.Channels.Telegram.Token = v
	}
	if v := os.Getenv("ORCH_DISCORD_TOKEN"); v != "" {
		c.Channels.Discord.Token = v
	}
}

// ExpandHome expands a leading "~" to the user's home directory, matching
// the teacher's config.ExpandHome helper used for workspace/state paths.
func ExpandHome(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if len(path) == 1 {
		return home
	}
	if path[1] == '/' {
		return home + path[1:]
	}
	return path
}
