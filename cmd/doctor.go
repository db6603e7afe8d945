// cmd/doctor.go is a health-check-only command: it loads config and probes
// every subsystem's startup preconditions without starting the poll,
// dispatch, or scheduler loops. Adapted from the teacher's cmd/doctor.go
// (version/OS/Go banner, then one OK/FAILED line per subsystem), trimmed to
// the components this spec actually has (no managed-mode DB providers/MCP
// grant tables — just tool servers, agents, and the optional Postgres store).
package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/orchestrator/internal/config"
	"github.com/nextlevelbuilder/orchestrator/internal/rpcclient"
	"github.com/nextlevelbuilder/orchestrator/internal/store/pg"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and subsystem health without starting the gateway",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("orchestrator doctor")
	fmt.Printf("  Version: %s\n", Version)
	fmt.Printf("  OS:      %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:      %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:  %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  Tool servers:")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for name, srvCfg := range cfg.ToolServers {
		if !srvCfg.IsEnabled() {
			fmt.Printf("    %-20s disabled\n", name)
			continue
		}
		client := rpcclient.New(name, *srvCfg)
		if err := client.Connect(ctx); err != nil {
			fmt.Printf("    %-20s FAILED (%s)\n", name, err)
			continue
		}
		fmt.Printf("    %-20s OK (%d tools)\n", name, len(client.Tools()))
		client.Close()
	}

	fmt.Println()
	fmt.Println("  Agents:")
	for _, agent := range cfg.Agents {
		if !agent.Enabled {
			fmt.Printf("    %-20s disabled\n", agent.AgentID)
			continue
		}
		if _, err := os.Stat(agent.BinaryPath); err != nil {
			fmt.Printf("    %-20s FAILED (binary not found: %s)\n", agent.AgentID, agent.BinaryPath)
			continue
		}
		fmt.Printf("    %-20s OK (%s)\n", agent.AgentID, agent.BinaryPath)
	}

	if cfg.Database.IsPostgres() {
		fmt.Println()
		fmt.Println("  Database:")
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		} else {
			fmt.Printf("    %-12s OK\n", "Status:")
			db.Close()
		}
	}
}
