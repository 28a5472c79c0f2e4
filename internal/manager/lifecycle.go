package manager

import (
	"context"
	"errors"
	"time"

	"genpool/pkg/types"
)

// beginStartLocked moves inst to Starting and initializes a fresh client in
// the background. Any previous client is closed first.
func (m *Manager) beginStartLocked(inst *instance, reason string) {
	inst.epoch++
	m.stopRestartTimerLocked(inst)
	old := inst.client
	inst.client = nil
	m.setStateLocked(inst, StateStarting, reason)
	m.running.Add(1)
	go m.initialize(inst.id, inst.kind, inst.epoch, old)
}

func (m *Manager) initialize(id string, kind types.ServiceKind, epoch uint64, old Client) {
	defer m.running.Done()
	if old != nil {
		if err := guard(old.Close); err != nil {
			m.log.Debug().Err(err).Str("instance_id", id).Msg("close previous client")
		}
	}
	var c Client
	err := errors.New("no client factory configured")
	if m.factory != nil {
		c, err = m.factory(kind, id)
	}
	if err == nil {
		ctx, cancel := context.WithTimeout(m.baseCtx, m.startTimeout)
		err = guard(func() error { return c.Initialize(ctx) })
		cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.signal()
	inst, ok := m.table.get(id)
	if !ok || inst.epoch != epoch || inst.state != StateStarting || m.closing {
		if c != nil {
			go closeQuietly(c)
		}
		return
	}
	if err != nil {
		if c != nil {
			go closeQuietly(c)
		}
		inst.lastError = err.Error()
		if ReasonOf(err) == ReasonLoginRequired {
			inst.noRestart = true
		}
		m.log.Error().Err(err).Str("instance_id", id).Str("service", string(kind)).Msg("instance start failed")
		m.faultLocked(inst, "start_failed")
		return
	}
	inst.client = c
	inst.consecutiveFailures = 0
	inst.lastError = ""
	m.setStateLocked(inst, StateIdle, "ready")
}

// scheduleRestartLocked arms an automatic restart with exponential backoff
// if the restart budget allows it.
func (m *Manager) scheduleRestartLocked(inst *instance) {
	if !m.autoRestart || m.closing || inst.noRestart {
		return
	}
	if inst.restartAttempts >= m.maxRestarts {
		m.emit("restart_exhausted", inst.id, "", map[string]any{"attempts": inst.restartAttempts})
		m.log.Error().Str("instance_id", inst.id).Int("attempt", inst.restartAttempts).Msg("restart attempts exhausted")
		return
	}
	delay := m.backoff(inst.restartAttempts)
	id, epoch := inst.id, inst.epoch
	m.stopRestartTimerLocked(inst)
	inst.restartTimer = time.AfterFunc(delay, func() { m.fireRestart(id, epoch) })
	m.emit("restart_scheduled", inst.id, "", map[string]any{"attempt": inst.restartAttempts + 1, "delay_ms": delay.Milliseconds()})
}

func (m *Manager) fireRestart(id string, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.table.get(id)
	if !ok || inst.epoch != epoch || inst.state != StateError || m.closing {
		return
	}
	inst.restartTimer = nil
	inst.restartAttempts++
	poolRestarts.Inc()
	m.beginStartLocked(inst, "auto_restart")
}

// backoff returns base * 2^attempt, capped.
func (m *Manager) backoff(attempt int) time.Duration {
	d := m.restartBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= m.maxRestartBackoff {
			return m.maxRestartBackoff
		}
	}
	return d
}

func (m *Manager) stopRestartTimerLocked(inst *instance) {
	if inst.restartTimer != nil {
		inst.restartTimer.Stop()
		inst.restartTimer = nil
	}
}

func closeQuietly(c Client) { _ = guard(c.Close) }
