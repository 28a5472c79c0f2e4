package manager

import (
	"time"

	"genpool/pkg/types"
)

// instanceTable keeps instances in creation order. It has no lock of its
// own; callers hold Manager.mu.
type instanceTable struct {
	byID  map[string]*instance
	order []string
}

func newInstanceTable() *instanceTable {
	return &instanceTable{byID: make(map[string]*instance)}
}

func (t *instanceTable) add(inst *instance) {
	t.byID[inst.id] = inst
	t.order = append(t.order, inst.id)
}

func (t *instanceTable) get(id string) (*instance, bool) {
	inst, ok := t.byID[id]
	return inst, ok
}

func (t *instanceTable) remove(id string) {
	if _, ok := t.byID[id]; !ok {
		return
	}
	delete(t.byID, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *instanceTable) all() []*instance {
	out := make([]*instance, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

func (t *instanceTable) len() int { return len(t.order) }

func (t *instanceTable) records() []types.InstanceRecord {
	out := make([]types.InstanceRecord, 0, len(t.order))
	for _, inst := range t.all() {
		out = append(out, types.InstanceRecord{
			ID:        inst.id,
			Name:      inst.name,
			Service:   inst.kind,
			CreatedAt: inst.createdAt,
			LastUsed:  inst.lastActiveAt,
		})
	}
	return out
}

// setStateLocked is the only place an instance changes state.
func (m *Manager) setStateLocked(inst *instance, next InstanceState, reason string) {
	prev := inst.state
	taskID := inst.currentTaskID
	if prev == next {
		return
	}
	inst.state = next
	if next != StateBusy {
		inst.currentTaskID = ""
	}
	if prev != "" {
		poolInstances.WithLabelValues(string(prev)).Dec()
	}
	if next != StateStopped {
		poolInstances.WithLabelValues(string(next)).Inc()
	}
	fields := map[string]any{"from": string(prev), "to": string(next)}
	if reason != "" {
		fields["reason"] = reason
	}
	m.emit("instance_state", inst.id, taskID, fields)
	ev := m.log.Info()
	if next == StateError {
		ev = m.log.Warn()
	}
	ev.Str("instance_id", inst.id).Str("service", string(inst.kind)).
		Str("from", string(prev)).Str("state", string(next)).Str("reason", reason).
		Msg("instance state")
	if next == StateIdle {
		inst.lastActiveAt = time.Now()
	}
}
