package manager

import (
	"time"

	"genpool/pkg/types"
)

// Counts derives instance counts directly from the table.
func (m *Manager) Counts() types.InstanceCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countsLocked()
}

func (m *Manager) countsLocked() types.InstanceCounts {
	var c types.InstanceCounts
	for _, inst := range m.table.all() {
		c.Total++
		switch inst.state {
		case StateIdle:
			c.Running++
			c.Available++
		case StateBusy:
			c.Running++
			c.Busy++
		case StateStarting:
			c.Starting++
		case StateError:
			c.Error++
		}
	}
	return c
}

// Status builds a detailed status response for /health and /api/stats.
func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := m.countsLocked()
	resp := types.StatusResponse{
		Counts:              counts,
		ConcurrencyCapacity: counts.Running,
		QueuedTasks:         m.queue.len(),
		ActiveTasks:         len(m.tasks) - m.queue.len(),
		UptimeSeconds:       int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix:      time.Now().Unix(),
		ShuttingDown:        m.closing,
	}
	resp.Instances = make([]types.InstanceStatus, 0, m.table.len())
	for _, inst := range m.table.all() {
		resp.Instances = append(resp.Instances, InstanceStatusOf(inst.info()))
	}
	return resp
}

// InstanceStatusOf converts an InstanceInfo into its wire form.
func InstanceStatusOf(info InstanceInfo) types.InstanceStatus {
	st := types.InstanceStatus{
		ID:                  info.ID,
		Name:                info.Name,
		Service:             string(info.Kind),
		State:               string(info.State),
		CurrentTaskID:       info.CurrentTaskID,
		ConsecutiveFailures: info.ConsecutiveFailures,
		RestartAttempts:     info.RestartAttempts,
		LastError:           info.LastError,
		CreatedAt:           info.CreatedAt.Unix(),
		IsBusy:              info.State == StateBusy,
	}
	if !info.LastActiveAt.IsZero() {
		st.LastActiveAt = info.LastActiveAt.Unix()
	}
	return st
}
