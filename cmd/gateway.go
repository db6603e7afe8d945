// cmd/gateway.go wires every component together: config, tool servers, the
// Tool Router, channel adapters, the Agent Supervisor, the Message Router,
// the Halt Manager, the Slash-Command Handler, the Dispatch Pipeline, and
// the Scheduler. Grounded on the teacher's cmd/gateway.go top-level wiring
// function (one construct-then-register block per subsystem, slog set up
// once at the top, a context cancelled on SIGINT/SIGTERM).
package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/orchestrator/internal/agentsup"
	"github.com/nextlevelbuilder/orchestrator/internal/bus"
	"github.com/nextlevelbuilder/orchestrator/internal/channels"
	"github.com/nextlevelbuilder/orchestrator/internal/channels/discord"
	"github.com/nextlevelbuilder/orchestrator/internal/channels/telegram"
	"github.com/nextlevelbuilder/orchestrator/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/orchestrator/internal/config"
	"github.com/nextlevelbuilder/orchestrator/internal/dispatch"
	"github.com/nextlevelbuilder/orchestrator/internal/halt"
	"github.com/nextlevelbuilder/orchestrator/internal/msgrouter"
	"github.com/nextlevelbuilder/orchestrator/internal/rpcclient"
	"github.com/nextlevelbuilder/orchestrator/internal/scanner"
	"github.com/nextlevelbuilder/orchestrator/internal/scheduler"
	"github.com/nextlevelbuilder/orchestrator/internal/slashcmd"
	"github.com/nextlevelbuilder/orchestrator/internal/store"
	"github.com/nextlevelbuilder/orchestrator/internal/store/backend"
	"github.com/nextlevelbuilder/orchestrator/internal/toolrouter"
	"github.com/nextlevelbuilder/orchestrator/internal/tracing"
)

var startedAt = time.Now()

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the orchestrator's full poll/dispatch/scheduler loop",
		Run: func(cmd *cobra.Command, args []string) {
			runGateway()
		},
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runGateway() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("load config failed", "error", err)
		os.Exit(1)
	}

	stateDir := config.ExpandHome(cfg.StateDir)
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		slog.Error("create state dir failed", "state_dir", stateDir, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("init tracing failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	router := buildToolRouter(ctx, cfg, stateDir)
	toolCaller := &routerAdapter{router: router}

	haltMgr := halt.New()

	sup := agentsup.New(stateDir, cfg.OrchestratorURL)
	for _, def := range cfg.Agents {
		if def.Enabled {
			sup.Register(def)
		}
	}
	sup.Start(ctx)
	defer sup.Stop(ctx)

	msgRouter := msgrouter.New(cfg.CurrentBindings(), cfg.ResolveDefaultAgentID())

	configPath := resolveConfigPath()
	if changed, err := config.Watch(ctx, configPath); err != nil {
		slog.Warn("config hot-reload disabled: watch failed", "path", configPath, "error", err)
	} else {
		go watchConfigBindings(ctx, configPath, changed, msgRouter)
	}

	manager := buildChannelManager(cfg)
	sender := &channelSender{manager: manager}

	schedStores, err := backend.Open(cfg.Database, stateDir, migrationsDir())
	if err != nil {
		slog.Error("open scheduler store failed", "error", err)
		os.Exit(1)
	}

	slashDeps := slashcmd.Dependencies{
		StartedAt: startedAt,
		AgentStatuses: func() []slashcmd.AgentStatus {
			statuses := sup.Status()
			out := make([]slashcmd.AgentStatus, len(statuses))
			for i, s := range statuses {
				out[i] = slashcmd.AgentStatus{
					AgentID:      s.AgentID,
					State:        string(s.State),
					Available:    s.Available,
					RestartCount: s.RestartCount,
				}
			}
			return out
		},
		ServerStatuses: func() []slashcmd.ServerStatus {
			statuses := router.ServerStatuses()
			out := make([]slashcmd.ServerStatus, len(statuses))
			for i, s := range statuses {
				out[i] = slashcmd.ServerStatus{Name: s.Name, Connected: s.Connected, ToolCount: s.ToolCount}
			}
			return out
		},
		ToolDefinitions: func() []slashcmd.ToolRoute {
			defs := router.ToolDefinitions()
			out := make([]slashcmd.ToolRoute, len(defs))
			for i, d := range defs {
				out[i] = slashcmd.ToolRoute{ExposedName: d.ExposedName, ServerName: d.ServerName}
			}
			return out
		},
		EnabledSkills: func() []string { return enabledSkillNames(ctx, schedStores) },
		Route:         toolCaller.Route,
		Halt:          haltMgr.Halt,
		Resume:        haltMgr.Resume,
	}

	defaultChannel, defaultChatID := defaultNotifyTarget(manager)

	pipeline := &dispatch.Pipeline{
		Supervisor:    sup,
		Router:        msgRouter,
		Tools:         toolCaller,
		Sender:        sender,
		SlashDeps:     slashDeps,
		NotifyChannel: defaultChannel,
		NotifyChatID:  defaultChatID,
		Tracer:        tracer,
	}

	manager.SetOnMessage(func(ctx context.Context, msg bus.IncomingMessage) {
		pipeline.Dispatch(ctx, msg)
	})
	manager.Start(ctx)
	defer manager.Stop(ctx)

	sched := scheduler.New(scheduler.Config{
		MaxItemsPerTick: cfg.Scheduler.MaxItemsPerTick,
		FailureCooldown: time.Duration(cfg.Scheduler.FailureCooldownMins) * time.Minute,
		DefaultAgentID:  cfg.Scheduler.DefaultAgentID,
		DefaultMaxSteps: cfg.Scheduler.DefaultMaxSteps,
		DefaultNotify:   func() (string, string) { return defaultNotifyTarget(manager) },
		Tracer:          tracer,
	}, schedStores, haltMgr, toolCaller, sup, sender)
	sched.Start(ctx)
	defer sched.Stop()

	go exportSchedulerStateLoop(ctx, sched, filepath.Join(stateDir, "scheduler-state.toml"))

	slog.Info("gateway started", "state_dir", stateDir)
	<-ctx.Done()
	slog.Info("gateway shutting down")
}

// exportSchedulerStateLoop periodically snapshots scheduler state to a
// TOML file for operator inspection, independent of the scheduler's own
// per-minute tick.
func exportSchedulerStateLoop(ctx context.Context, sched *scheduler.Scheduler, path string) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sched.ExportState(ctx, path); err != nil {
				slog.Warn("export scheduler state failed", "error", err)
			}
		}
	}
}

// watchConfigBindings reloads the config file on every fsnotify signal and
// pushes its channel bindings into msgRouter, so operators can repoint
// channel->agent routing (spec.md §4.G: "replaceable at runtime") without a
// gateway restart. Only bindings and the default agent are hot-reloaded;
// tool servers and agent definitions still require a restart.
func watchConfigBindings(ctx context.Context, path string, changed <-chan struct{}, msgRouter *msgrouter.Router) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changed:
			if !ok {
				return
			}
			newCfg, err := config.Load(path)
			if err != nil {
				slog.Warn("config hot-reload failed", "path", path, "error", err)
				continue
			}
			msgRouter.UpdateBindings(newCfg.CurrentBindings())
			msgRouter.SetDefaultAgentID(newCfg.ResolveDefaultAgentID())
			slog.Info("config bindings reloaded", "path", path, "bindings", len(newCfg.CurrentBindings()))
		}
	}
}

func migrationsDir() string {
	if v := os.Getenv("ORCH_MIGRATIONS_DIR"); v != "" {
		return v
	}
	return "migrations"
}

// buildToolRouter connects every enabled tool server, optionally wrapping
// non-scanner servers with the scanner.Wrapper, and runs initial discovery.
func buildToolRouter(ctx context.Context, cfg *config.Config, stateDir string) *toolrouter.Router {
	router := toolrouter.New()

	var scannerClient *rpcclient.Client
	if cfg.Scanner.ServerName != "" {
		if scCfg, ok := cfg.ToolServers[cfg.Scanner.ServerName]; ok && scCfg.IsEnabled() {
			scannerClient = rpcclient.New(cfg.Scanner.ServerName, *scCfg)
			if err := scannerClient.Connect(ctx); err != nil {
				slog.Error("connect scanner server failed", "server", cfg.Scanner.ServerName, "error", err)
				scannerClient = nil
			} else {
				router.RegisterServer(cfg.Scanner.ServerName, scannerClient, nil, scCfg.AllowDestructiveTools)
			}
		}
	}

	auditPath := cfg.Scanner.AuditPath
	if auditPath == "" {
		auditPath = filepath.Join(stateDir, "scanner-audit.jsonl")
	}

	for name, srvCfg := range cfg.ToolServers {
		if !srvCfg.IsEnabled() || name == cfg.Scanner.ServerName {
			continue
		}
		client := rpcclient.New(name, *srvCfg)
		if err := client.Connect(ctx); err != nil {
			slog.Error("connect tool server failed", "server", name, "error", err)
			continue
		}

		var override toolrouterCaller
		if scannerClient != nil {
			wrapper, err := scanner.New(client, scannerClient, scanner.Config{
				ScanInput:  true,
				ScanOutput: true,
				FailMode:   cfg.Scanner.FailModeOrDefault(),
			}, auditPath)
			if err != nil {
				slog.Error("wrap tool server with scanner failed", "server", name, "error", err)
			} else {
				override = wrapper
			}
		}
		router.RegisterServer(name, client, override, srvCfg.AllowDestructiveTools)
	}

	router.Discover()
	return router
}

// toolrouterCaller mirrors toolrouter's unexported caller interface so this
// file can pass a *scanner.Wrapper as a RegisterServer override without
// toolrouter exporting its internal seam.
type toolrouterCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error)
}

func buildChannelManager(cfg *config.Config) *channels.Manager {
	manager := channels.NewManagerWithRateLimit(cfg.Channels.PollIntervalMs, cfg.Channels.MaxMessagesPerCycle, cfg.Channels.SendsPerSecond, nil)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.New(cfg.Channels.Telegram)
		if err != nil {
			slog.Error("init telegram adapter failed", "error", err)
		} else {
			manager.RegisterAdapter(adapter)
		}
	}
	if cfg.Channels.Discord.Enabled {
		adapter, err := discord.New(cfg.Channels.Discord)
		if err != nil {
			slog.Error("init discord adapter failed", "error", err)
		} else {
			manager.RegisterAdapter(adapter)
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		adapter, err := whatsapp.New(cfg.Channels.WhatsApp)
		if err != nil {
			slog.Error("init whatsapp adapter failed", "error", err)
		} else {
			manager.RegisterAdapter(adapter)
		}
	}

	return manager
}

// defaultNotifyTarget picks the first monitored chat of any registered
// adapter, per spec.md §4.D's MonitoredChatIDs() note for the Scheduler.
func defaultNotifyTarget(manager *channels.Manager) (string, string) {
	for _, name := range []string{"telegram", "discord", "whatsapp"} {
		a, ok := manager.GetAdapter(name)
		if !ok {
			continue
		}
		chats := a.MonitoredChatIDs()
		if len(chats) > 0 {
			return name, chats[0]
		}
	}
	return "", ""
}

// channelSender adapts channels.Manager to dispatch.Sender/scheduler.Sender.
type channelSender struct {
	manager *channels.Manager
}

func (c *channelSender) Send(ctx context.Context, channel, chatID, text string) error {
	return c.manager.Send(ctx, bus.OutboundMessage{Channel: channel, ChatID: chatID, Content: text})
}

// routerAdapter adapts toolrouter.Router's *mcpgo.CallToolResult return into
// the map[string]any shape dispatch/slashcmd/scheduler expect, so those
// packages stay free of a mark3labs/mcp-go dependency.
type routerAdapter struct {
	router *toolrouter.Router
}

func (r *routerAdapter) Route(ctx context.Context, exposedName string, args map[string]any) (map[string]any, error) {
	result, err := r.router.Route(ctx, exposedName, args)
	if err != nil {
		return nil, err
	}
	return resultToMap(result), nil
}

func (r *routerAdapter) HasRoute(exposedName string) bool {
	return r.router.HasRoute(exposedName)
}

// resultToMap extracts a tool call's text content and tries to decode it as
// JSON; falls back to {"text": "..."} when it isn't a JSON object.
func resultToMap(result *mcpgo.CallToolResult) map[string]any {
	if result == nil {
		return map[string]any{}
	}
	var text string
	for _, c := range result.Content {
		if tc, ok := c.(mcpgo.TextContent); ok {
			text += tc.Text
		}
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		return decoded
	}
	return map[string]any{"text": text}
}

// enabledSkillNames lists currently-enabled skill names for /info.
func enabledSkillNames(ctx context.Context, stores *store.Stores) []string {
	if stores == nil || stores.Skills == nil {
		return nil
	}
	skills, err := stores.Skills.List(ctx)
	if err != nil {
		slog.Warn("list skills for /info failed", "error", err)
		return nil
	}
	names := make([]string, 0, len(skills))
	for _, s := range skills {
		if s.Enabled {
			names = append(names, s.Name)
		}
	}
	return names
}
