package manager

// TrackedSessions returns the number of sessions Close would stop.
func (m *Manager) TrackedSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
