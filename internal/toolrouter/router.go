// Package toolrouter is the Tool Router (spec.md §4.C): owns the global
// exposedName -> ToolRoute map, runs concurrent discovery across every
// registered tool server, blocks destructive tools unless opted in, and
// filters the exposed set per agent by glob allow/deny patterns. Adapted
// from the teacher's internal/mcp manager_tools.go (group/collision
// bookkeeping) and internal/tools/policy.go (allow/deny evaluation),
// generalized from the teacher's profile+group system to the glob-pattern
// AgentDefinition.allowedTools/deniedTools shape spec.md §3 defines.
package toolrouter

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/nextlevelbuilder/orchestrator/internal/rpcclient"
)

// ErrToolBlocked is returned when a route exists but is blocked as
// destructive because its server has not opted in. Route does not check
// per-agent allow/deny patterns.
var ErrToolBlocked = fmt.Errorf("tool blocked")

// caller is implemented by *rpcclient.Client and *scanner.Wrapper so the
// router is agnostic to whether a server is scanner-wrapped.
type caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcpgo.CallToolResult, error)
}

// ToolRoute is one entry in the global exposedName -> route map.
type ToolRoute struct {
	ExposedName     string
	ServerName      string
	OriginalName    string
	Description     string
	DestructiveHint bool
	OpenWorldHint   bool
}

type registeredServer struct {
	name                  string
	client                *rpcclient.Client
	caller                caller
	allowDestructiveTools bool
}

// Router owns the global tool namespace and dispatches calls.
type Router struct {
	mu       sync.RWMutex
	servers  map[string]*registeredServer
	routes   map[string]ToolRoute
	blocked  map[string]bool
}

// New creates an empty Router.
func New() *Router {
	return &Router{
		servers: make(map[string]*registeredServer),
		routes:  make(map[string]ToolRoute),
		blocked: make(map[string]bool),
	}
}

// RegisterServer stores a server's client for later Discover(); does not
// discover immediately. callerOverride lets a scanner.Wrapper stand in for
// the raw client without the router needing to know about scanning.
func (r *Router) RegisterServer(name string, client *rpcclient.Client, callerOverride caller, allowDestructiveTools bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := caller(client)
	if callerOverride != nil {
		c = callerOverride
	}
	r.servers[name] = &registeredServer{name: name, client: client, caller: c, allowDestructiveTools: allowDestructiveTools}
}

// Discover calls ListTools (already cached on each rpcclient.Client from its
// own Connect) concurrently across every registered server and rebuilds the
// route map. Collisions keep the first-seen registration and log a warning.
func (r *Router) Discover() {
	r.mu.RLock()
	servers := make([]*registeredServer, 0, len(r.servers))
	for _, s := range r.servers {
		servers = append(servers, s)
	}
	r.mu.RUnlock()

	type found struct {
		server *registeredServer
		tools  []rpcclient.Tool
	}
	results := make(chan found, len(servers))
	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *registeredServer) {
			defer wg.Done()
			results <- found{server: s, tools: s.client.Tools()}
		}(s)
	}
	wg.Wait()
	close(results)

	newRoutes := make(map[string]ToolRoute)
	newBlocked := make(map[string]bool)

	for f := range results {
		for _, t := range f.tools {
			exposed := f.server.name + "_" + t.Name
			if _, exists := newRoutes[exposed]; exists {
				slog.Warn("tool route collision, keeping first registration", "exposed_name", exposed)
				continue
			}
			route := ToolRoute{
				ExposedName:     exposed,
				ServerName:      f.server.name,
				OriginalName:    t.Name,
				Description:     t.Description,
				DestructiveHint: t.DestructiveHint,
				OpenWorldHint:   t.OpenWorldHint,
			}
			newRoutes[exposed] = route
			if t.DestructiveHint && !f.server.allowDestructiveTools {
				newBlocked[exposed] = true
			}
		}
	}

	r.mu.Lock()
	r.routes = newRoutes
	r.blocked = newBlocked
	r.mu.Unlock()
}

// Route dispatches a call by exposed name.
func (r *Router) Route(ctx context.Context, exposedName string, args map[string]any) (*mcpgo.CallToolResult, error) {
	r.mu.RLock()
	route, ok := r.routes[exposedName]
	blocked := r.blocked[exposedName]
	var srv *registeredServer
	if ok {
		srv = r.servers[route.ServerName]
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown tool route %q", exposedName)
	}
	if blocked {
		return nil, ErrToolBlocked
	}
	if srv == nil {
		return nil, fmt.Errorf("tool server %q for route %q not registered", route.ServerName, exposedName)
	}
	return srv.caller.CallTool(ctx, route.OriginalName, args)
}

// ToolDefinitions returns the flat list of non-blocked routes, for
// broadcasting to reasoners.
func (r *Router) ToolDefinitions() []ToolRoute {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolRoute, 0, len(r.routes))
	for name, route := range r.routes {
		if r.blocked[name] {
			continue
		}
		out = append(out, route)
	}
	return out
}

// ServerStatus reports one registered tool server's connection state, for
// the /status slash command.
type ServerStatus struct {
	Name      string
	Connected bool
	ToolCount int
}

// ServerStatuses returns the live status of every registered server.
func (r *Router) ServerStatuses() []ServerStatus {
	r.mu.RLock()
	servers := make([]*registeredServer, 0, len(r.servers))
	for _, s := range r.servers {
		servers = append(servers, s)
	}
	r.mu.RUnlock()

	out := make([]ServerStatus, len(servers))
	for i, s := range servers {
		st := s.client.Status()
		out[i] = ServerStatus{Name: st.Name, Connected: st.Connected, ToolCount: st.ToolCount}
	}
	return out
}

// GetBlockedTools lists exposed names currently blocked.
func (r *Router) GetBlockedTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.blocked))
	for name := range r.blocked {
		out = append(out, name)
	}
	return out
}

// HasRoute reports whether exposedName is a known, non-blocked route. Used
// by the Scheduler's required-tools gate.
func (r *Router) HasRoute(exposedName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[exposedName]
	return ok && !r.blocked[exposedName]
}

// FilterForAgent returns the exposed tool names visible to an agent given
// its glob allow/deny lists (spec.md §3 AgentDefinition). An empty
// allowedTools means "all routes visible" (subject to deny and blocking).
func (r *Router) FilterForAgent(allowedTools, deniedTools []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.routes))
	for name := range r.routes {
		if r.blocked[name] {
			continue
		}
		if len(allowedTools) > 0 && !matchesAny(name, allowedTools) {
			continue
		}
		if matchesAny(name, deniedTools) {
			continue
		}
		out = append(out, name)
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
