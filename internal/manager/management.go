package manager

import (
	"time"

	"github.com/google/uuid"

	"genpool/pkg/types"
)

// CreateInstance adds a Created instance of kind. It does not start it.
func (m *Manager) CreateInstance(kind types.ServiceKind, name string) (InstanceInfo, error) {
	if kind == "" {
		kind = m.defaultKind
	}
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return InstanceInfo{}, ErrShuttingDown
	}
	id := uuid.NewString()
	if name == "" {
		name = string(kind) + "-" + id[:8]
	}
	inst := &instance{id: id, name: name, kind: kind, createdAt: time.Now()}
	m.table.add(inst)
	m.setStateLocked(inst, StateCreated, "created")
	info := inst.info()
	m.mu.Unlock()
	m.persist()
	return info, nil
}

// StartInstance begins Created → Starting, or a restart from Error.
func (m *Manager) StartInstance(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrShuttingDown
	}
	inst, ok := m.table.get(id)
	if !ok {
		return ErrInstanceNotFound(id)
	}
	switch inst.state {
	case StateCreated, StateError:
		inst.noRestart = false
		m.beginStartLocked(inst, "start")
		return nil
	default:
		return invalidStateError{id: id, state: inst.state, op: "start"}
	}
}

// StartAll starts every Created instance and returns how many were started.
func (m *Manager) StartAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return 0
	}
	n := 0
	for _, inst := range m.table.all() {
		if inst.state == StateCreated {
			m.beginStartLocked(inst, "start")
			n++
		}
	}
	return n
}

// StopInstance releases the session of an instance that is not Busy and
// returns it to Created. The record stays in the table.
func (m *Manager) StopInstance(id string) error {
	m.mu.Lock()
	inst, ok := m.table.get(id)
	if !ok {
		m.mu.Unlock()
		return ErrInstanceNotFound(id)
	}
	if inst.state == StateBusy {
		m.mu.Unlock()
		return busyError{id: id, taskID: inst.currentTaskID}
	}
	inst.epoch++
	m.stopRestartTimerLocked(inst)
	c := inst.client
	inst.client = nil
	inst.lastError = ""
	m.setStateLocked(inst, StateCreated, "stopped")
	m.mu.Unlock()
	if c != nil {
		closeQuietly(c)
	}
	return nil
}

// RestartInstance forces a fresh session and resets the restart budget.
func (m *Manager) RestartInstance(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return ErrShuttingDown
	}
	inst, ok := m.table.get(id)
	if !ok {
		return ErrInstanceNotFound(id)
	}
	if inst.state == StateBusy {
		return busyError{id: id, taskID: inst.currentTaskID}
	}
	inst.restartAttempts = 0
	inst.noRestart = false
	poolRestarts.Inc()
	m.beginStartLocked(inst, "manual_restart")
	return nil
}

// RemoveInstance deletes an instance. A Busy instance is refused unless force
// is set, in which case its task goes back to the queue without counting an
// attempt.
func (m *Manager) RemoveInstance(id string, force bool) error {
	m.mu.Lock()
	inst, ok := m.table.get(id)
	if !ok {
		m.mu.Unlock()
		return ErrInstanceNotFound(id)
	}
	if inst.state == StateBusy {
		if !force {
			m.mu.Unlock()
			return busyError{id: id, taskID: inst.currentTaskID}
		}
		if t := m.tasks[inst.currentTaskID]; t != nil {
			if m.closing {
				m.failLocked(t, ReasonShutdown, nil)
			} else {
				m.requeueLocked(t, false, ReasonInstanceFault)
			}
		}
	}
	inst.epoch++
	if inst.cancelTask != nil {
		inst.cancelTask()
		inst.cancelTask = nil
	}
	m.stopRestartTimerLocked(inst)
	c := inst.client
	inst.client = nil
	m.setStateLocked(inst, StateStopped, "removed")
	m.table.remove(id)
	m.emit("instance_removed", id, "", map[string]any{"force": force})
	m.signal()
	m.mu.Unlock()
	if c != nil {
		closeQuietly(c)
	}
	m.persist()
	return nil
}

// GetInstance returns a copy of one instance.
func (m *Manager) GetInstance(id string) (InstanceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.table.get(id)
	if !ok {
		return InstanceInfo{}, ErrInstanceNotFound(id)
	}
	return inst.info(), nil
}

// ListInstances returns copies of all instances in creation order.
func (m *Manager) ListInstances() []InstanceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]InstanceInfo, 0, m.table.len())
	for _, inst := range m.table.all() {
		out = append(out, inst.info())
	}
	return out
}
