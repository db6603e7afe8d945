// Package halt is the Halt Manager (spec.md §4.K): a global flag map the
// Scheduler consults before every tick. Grounded on the teacher's simple
// flag-map style config toggles — this component has no teacher analogue
// (the teacher has no halt mechanism) since it maps directly and simply to
// spec.md's description with nothing to adapt.
package halt

import "sync"

// Manager tracks halted targets ("inngest", "channels", "*" for all, etc).
type Manager struct {
	mu     sync.RWMutex
	halted map[string]bool
}

// New creates an empty Manager (nothing halted).
func New() *Manager {
	return &Manager{halted: make(map[string]bool)}
}

// Halt marks target as halted.
func (m *Manager) Halt(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted[target] = true
}

// Resume clears target's halted flag.
func (m *Manager) Resume(target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.halted, target)
}

// IsTargetHalted reports true if target or the global "*" target is halted.
func (m *Manager) IsTargetHalted(target string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.halted[target] || m.halted["*"]
}
