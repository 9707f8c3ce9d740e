package manager

import "time"

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cur *ModelInfo
	if m.cur != nil {
		c := *m.cur
		cur = &c
	}
	return Snapshot{
		State:        m.state,
		Selected:     m.selected,
		CurrentModel: cur,
		Err:          m.err,
		LoadsTotal:   m.loads,
		ReloadsTotal: m.reloads,
		Uptime:       time.Since(m.startTime),
	}
}
