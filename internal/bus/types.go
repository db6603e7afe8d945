// Package bus defines the message shapes passed between channel adapters,
// the dispatch pipeline, and the scheduler. Adapted from the teacher's
// internal/bus/types.go, trimmed to the spec's IncomingMessage/OutboundMessage
// shapes (spec.md §3, §4.D).
package bus

import "time"

// IncomingMessage is a message pulled from a channel adapter (spec.md §3).
type IncomingMessage struct {
	ID        string // adapter-scoped unique ID, used for dedup
	Channel   string
	ChatID    string
	SenderID  string
	Text      string
	Timestamp time.Time
	AgentID   string // initial suggestion; overridden by the Message Router
}

// OutboundMessage is a reply to be relayed back through a channel adapter.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
