// Package rpcclient is the Tool-Server Supervisor's RPC Client (spec.md §4.A):
// it owns the lifecycle of a single tool-server connection — stdio subprocess
// or SSE/streamable-HTTP dial, handshake, tool discovery, health-check
// pinging, and exponential-backoff reconnection. Adapted from the teacher's
// internal/mcp manager/manager_connect, generalized from "one manager holding
// many named MCP servers tied to an agent+user" into "one Client per
// configured tool server," since this spec supervises tool servers globally
// rather than per-agent.
package rpcclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/orchestrator/internal/config"
)

const (
	healthCheckInterval  = 30 * time.Second
	initialBackoff       = 2 * time.Second
	maxBackoff           = 60 * time.Second
	maxReconnectAttempts = 10
)

// Tool is a discovered tool-server capability.
type Tool struct {
	Name            string
	Description     string
	InputSchema     mcpgo.ToolInputSchema
	DestructiveHint bool
	OpenWorldHint   bool
}

// Status reports the live connection state of a tool server.
type Status struct {
	Name      string
	Transport string
	Connected bool
	ToolCount int
	Error     string
}

// Client supervises one tool server's subprocess/connection lifecycle.
type Client struct {
	name string
	cfg  config.ToolServerConfig

	mu        sync.Mutex
	client    *mcpclient.Client
	connected atomic.Bool
	tools     []Tool
	lastErr   string
	attempts  int
	cancel    context.CancelFunc
}

// New creates a Client for one tool server's configuration.
func New(name string, cfg config.ToolServerConfig) *Client {
	return &Client{name: name, cfg: cfg}
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Connect dials/spawns the tool server, performs the MCP handshake, and
// discovers its tools. Starts a background health-check loop on success.
func (c *Client) Connect(ctx context.Context) error {
	cl, err := createClient(c.cfg)
	if err != nil {
		return fmt.Errorf("create client for %s: %w", c.name, err)
	}

	if c.cfg.Transport != "stdio" {
		if err := cl.Start(ctx); err != nil {
			_ = cl.Close()
			return fmt.Errorf("start transport for %s: %w", c.name, err)
		}
	}

	initReq := mcpgo.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpgo.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpgo.Implementation{Name: "orchestrator", Version: "1.0.0"}

	if _, err := cl.Initialize(ctx, initReq); err != nil {
		_ = cl.Close()
		return fmt.Errorf("initialize %s: %w", c.name, err)
	}

	listed, err := cl.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		_ = cl.Close()
		return fmt.Errorf("list tools for %s: %w", c.name, err)
	}

	discovered := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tool := Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
		if t.Annotations.DestructiveHint != nil {
			tool.DestructiveHint = *t.Annotations.DestructiveHint
		}
		if t.Annotations.OpenWorldHint != nil {
			tool.OpenWorldHint = *t.Annotations.OpenWorldHint
		}
		discovered = append(discovered, tool)
	}

	hctx, hcancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.client = cl
	c.tools = discovered
	c.cancel = hcancel
	c.mu.Unlock()
	c.connected.Store(true)

	go c.healthLoop(hctx)

	slog.Info("tool server connected", "server", c.name, "transport", c.cfg.Transport, "tools", len(discovered))
	return nil
}

// Close tears down the connection and stops health monitoring.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Tools returns the last-discovered tool list.
func (c *Client) Tools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Status reports the current connection health.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Name:      c.name,
		Transport: c.cfg.Transport,
		Connected: c.connected.Load(),
		ToolCount: len(c.tools),
		Error:     c.lastErr,
	}
}

// CallTool invokes a tool by name with the given arguments, subject to the
// server's configured timeout.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error) {
	c.mu.Lock()
	cl := c.client
	timeoutSec := c.cfg.TimeoutSec
	c.mu.Unlock()

	if cl == nil || !c.connected.Load() {
		return nil, fmt.Errorf("tool server %s not connected", c.name)
	}
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	cctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return cl.CallTool(cctx, req)
}

func createClient(cfg config.ToolServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio":
		env := make([]string, 0, len(cfg.Env))
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(cfg.Command, env, cfg.Args...)

	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, mcpclient.WithHeaders(cfg.Headers))
		}
		return mcpclient.NewSSEMCPClient(cfg.URL, opts...)

	case "streamable-http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		return mcpclient.NewStreamableHttpClient(cfg.URL, opts...)

	default:
		return nil, fmt.Errorf("unsupported transport: %q", cfg.Transport)
	}
}

func (c *Client) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cl := c.client
			c.mu.Unlock()

			if err := cl.Ping(ctx); err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "method not found") {
					c.connected.Store(true)
					c.mu.Lock()
					c.attempts = 0
					c.lastErr = ""
					c.mu.Unlock()
					continue
				}
				c.connected.Store(false)
				c.mu.Lock()
				c.lastErr = err.Error()
				c.mu.Unlock()
				slog.Warn("tool server health check failed", "server", c.name, "error", err)
				c.tryReconnect(ctx)
			} else {
				c.connected.Store(true)
				c.mu.Lock()
				c.attempts = 0
				c.lastErr = ""
				c.mu.Unlock()
			}
		}
	}
}

func (c *Client) tryReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.attempts >= maxReconnectAttempts {
		c.lastErr = fmt.Sprintf("max reconnect attempts (%d) reached", maxReconnectAttempts)
		c.mu.Unlock()
		slog.Error("tool server reconnect exhausted", "server", c.name)
		return
	}
	c.attempts++
	attempt := c.attempts
	cl := c.client
	c.mu.Unlock()

	backoff := initialBackoff * time.Duration(1<<(attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	slog.Info("tool server reconnecting", "server", c.name, "attempt", attempt, "backoff", backoff)

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	if err := cl.Ping(ctx); err == nil {
		c.connected.Store(true)
		c.mu.Lock()
		c.attempts = 0
		c.lastErr = ""
		c.mu.Unlock()
		slog.Info("tool server reconnected", "server", c.name)
	}
}
