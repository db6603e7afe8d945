// Package msgrouter is the Message Router (spec.md §4.G): a stateless,
// three-pass resolver from (channel, chatId) to the agent that should handle
// it. Grounded on the teacher's routing-table-lookup shape generalized to
// spec.md §3's flat ChannelBinding list plus a wildcard/default fallback.
package msgrouter

import (
	"sync"

	"github.com/nextlevelbuilder/orchestrator/internal/config"
)

// Router resolves IncomingMessages to a target agent ID.
type Router struct {
	mu            sync.RWMutex
	bindings      []config.ChannelBinding
	defaultAgentID string
}

// New creates a Router with an initial binding list and fallback agent.
func New(bindings []config.ChannelBinding, defaultAgentID string) *Router {
	return &Router{bindings: append([]config.ChannelBinding{}, bindings...), defaultAgentID: defaultAgentID}
}

// UpdateBindings atomically replaces the binding list (spec.md §4.G:
// "replaceable at runtime").
func (r *Router) UpdateBindings(bindings []config.ChannelBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append([]config.ChannelBinding{}, bindings...)
}

// SetDefaultAgentID updates the fall-through agent.
func (r *Router) SetDefaultAgentID(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultAgentID = agentID
}

// Resolve runs the three passes in order: exact match, wildcard match,
// default. Returns ("", false) only if there is no default configured and no
// binding matches.
func (r *Router) Resolve(channel, chatID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, b := range r.bindings {
		if b.Channel == channel && b.ChatIDPattern == chatID {
			return b.AgentID, true
		}
	}
	for _, b := range r.bindings {
		if b.Channel == channel && b.ChatIDPattern == "*" {
			return b.AgentID, true
		}
	}
	if r.defaultAgentID != "" {
		return r.defaultAgentID, true
	}
	return "", false
}
