package manager

import "time"

// loadInstances restores persisted records as Created instances.
func (m *Manager) loadInstances() {
	if m.store == nil {
		return
	}
	recs, err := m.store.Load()
	if err != nil {
		m.log.Warn().Err(err).Msg("load instance metadata")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if r.ID == "" {
			continue
		}
		if _, dup := m.table.get(r.ID); dup {
			continue
		}
		kind := r.Service
		if kind == "" {
			kind = m.defaultKind
		}
		inst := &instance{id: r.ID, name: r.Name, kind: kind, createdAt: r.CreatedAt, lastActiveAt: r.LastUsed}
		m.table.add(inst)
		m.setStateLocked(inst, StateCreated, "restored")
	}
}

// persist writes the current table. Writes are serialized so the last write
// always carries the latest snapshot.
func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.mu.Lock()
	recs := m.table.records()
	m.mu.Unlock()
	if err := m.store.Save(recs); err != nil {
		m.log.Warn().Err(err).Msg("save instance metadata")
	}
}

// persistSoonLocked schedules one delayed write; calls made while a write is
// pending join it.
func (m *Manager) persistSoonLocked() {
	if m.store == nil || m.closing || m.persistTimer != nil {
		return
	}
	m.persistTimer = time.AfterFunc(m.persistDelay, func() {
		m.mu.Lock()
		m.persistTimer = nil
		m.mu.Unlock()
		m.persist()
	})
}
