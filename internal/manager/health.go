package manager

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// supervise runs probe rounds at a fixed interval until ctx is done.
func (m *Manager) supervise(ctx context.Context) {
	tick := time.NewTicker(m.probeInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			m.ProbeAll(ctx)
		}
	}
}

type probeTarget struct {
	id     string
	epoch  uint64
	client Client
}

// ProbeAll probes every Idle and Busy instance in parallel and applies the
// results. Rounds never overlap when driven by the supervisor.
func (m *Manager) ProbeAll(ctx context.Context) {
	m.mu.Lock()
	var targets []probeTarget
	for _, inst := range m.table.all() {
		if inst.state.healthy() && inst.client != nil {
			targets = append(targets, probeTarget{id: inst.id, epoch: inst.epoch, client: inst.client})
		}
	}
	m.mu.Unlock()
	if len(targets) == 0 {
		return
	}

	results := make([]error, len(targets))
	var g errgroup.Group
	for i, tg := range targets {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
			defer cancel()
			results[i] = guard(func() error { return tg.client.Probe(pctx) })
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, tg := range targets {
		m.recordProbeLocked(tg, results[i])
	}
	m.signal()
}

// recordProbeLocked counts consecutive probe failures and isolates the
// instance once the threshold is reached. A Busy instance loses its task,
// which goes back to the queue.
func (m *Manager) recordProbeLocked(tg probeTarget, err error) {
	inst, ok := m.table.get(tg.id)
	if !ok || inst.epoch != tg.epoch || !inst.state.healthy() {
		return
	}
	if err == nil {
		inst.consecutiveFailures = 0
		return
	}
	inst.consecutiveFailures++
	poolProbeFailures.Inc()
	m.emit("probe_failed", inst.id, inst.currentTaskID, map[string]any{"consecutive": inst.consecutiveFailures, "error": err.Error()})
	m.log.Warn().Err(err).Str("instance_id", inst.id).Int("consecutive", inst.consecutiveFailures).Msg("probe failed")
	if inst.consecutiveFailures < m.failureThreshold {
		return
	}
	inst.lastError = fmt.Sprintf("%d consecutive probe failures: %v", inst.consecutiveFailures, err)
	var t *task
	if inst.state == StateBusy {
		t = m.tasks[inst.currentTaskID]
	}
	m.faultLocked(inst, "probe_threshold")
	if t != nil {
		m.retryOrFailLocked(t, &TaskError{Reason: ReasonInstanceFault, Transient: true, Err: err})
	}
}
