// Package channels provides the channel-adapter abstraction (spec.md §4.D)
// and the fixed-interval fan-out poller (spec.md §4.E). Adapted from the
// teacher's internal/channels/channel.go, reworked from the teacher's
// push-only bus subscription model into the poll-based contract spec.md
// requires: adapters buffer inbound messages internally (fed by whatever
// push mechanism the underlying SDK uses) and hand them out in batches via
// Poll().
package channels

import (
	"context"
	"strings"

	"github.com/nextlevelbuilder/orchestrator/internal/bus"
)

// wellKnownBotPrefixes are stripped-sender prefixes that mark a message as
// self-generated; adapters MUST filter these out per spec.md §4.D.
var wellKnownBotPrefixes = []string{"[bot]", "orchestrator:", "system:"}

// LooksSelfGenerated reports whether text carries a well-known bot marker.
func LooksSelfGenerated(text string) bool {
	for _, p := range wellKnownBotPrefixes {
		if strings.HasPrefix(text, p) {
			return true
		}
	}
	return false
}

// Adapter is the per-channel driver contract (spec.md §4.D).
type Adapter interface {
	// Channel returns the channel identifier (e.g. "telegram", "discord").
	Channel() string

	// Initialize opens connections, learns bot identity, etc.
	Initialize(ctx context.Context) error

	// Poll returns up to an adapter-internal number of new inbound messages.
	// Order is preserved (oldest-first or newest-first, adapter's choice);
	// the Channel Manager trusts and relays that order within one chat.
	Poll(ctx context.Context) ([]bus.IncomingMessage, error)

	// Send delivers an outbound message to chatID.
	Send(ctx context.Context, chatID, text string) error

	// MonitoredChatIDs returns chat IDs this adapter actively watches, used
	// by the Scheduler to pick a default notify-chat (spec.md §4.J).
	MonitoredChatIDs() []string

	// Shutdown tears down the adapter's connections.
	Shutdown(ctx context.Context) error
}

// BaseAdapter provides the dedup-by-message-ID bookkeeping every adapter
// needs, matching the teacher's BaseChannel embedding pattern.
type BaseAdapter struct {
	name      string
	allowList []string
	seen      map[string]struct{}
	seenOrder []string
}

// NewBaseAdapter creates a BaseAdapter for the given channel name.
func NewBaseAdapter(name string, allowList []string) *BaseAdapter {
	return &BaseAdapter{
		name:      name,
		allowList: allowList,
		seen:      make(map[string]struct{}),
	}
}

func (b *BaseAdapter) Channel() string { return b.name }

// IsAllowed checks a sender against the configured allowlist; an empty
// allowlist accepts everyone (matching the teacher's BaseChannel.IsAllowed).
func (b *BaseAdapter) IsAllowed(senderID string) bool {
	if len(b.allowList) == 0 {
		return true
	}
	for _, a := range b.allowList {
		if a == senderID {
			return true
		}
	}
	return false
}

// maxSeenIDs bounds the in-memory dedup set so a long-running adapter
// doesn't grow unbounded.
const maxSeenIDs = 10000

// Dedup reports whether id has already been delivered, and records it if not.
func (b *BaseAdapter) Dedup(id string) (isNew bool) {
	if _, ok := b.seen[id]; ok {
		return false
	}
	if len(b.seenOrder) >= maxSeenIDs {
		// Evict the oldest quarter to keep this O(1) amortized.
		evict := maxSeenIDs / 4
		for _, old := range b.seenOrder[:evict] {
			delete(b.seen, old)
		}
		b.seenOrder = b.seenOrder[evict:]
	}
	b.seen[id] = struct{}{}
	b.seenOrder = append(b.seenOrder, id)
	return true
}
