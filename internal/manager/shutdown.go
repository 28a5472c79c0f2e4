package manager

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Close stops accepting work, fails queued tasks, waits up to the drain
// timeout for running tasks, then closes every client and persists metadata.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() { err = m.shutdown(ctx) })
	return err
}

func (m *Manager) shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	for _, t := range m.queue.drain() {
		m.failLocked(t, ReasonShutdown, nil)
	}
	for _, inst := range m.table.all() {
		m.stopRestartTimerLocked(inst)
	}
	if m.persistTimer != nil {
		m.persistTimer.Stop()
		m.persistTimer = nil
	}
	m.emit("shutdown", "", "", nil)
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.running.Wait()
		close(drained)
	}()
	timer := time.NewTimer(m.drainTimeout)
	defer timer.Stop()
	select {
	case <-drained:
	case <-ctx.Done():
	case <-timer.C:
		m.log.Warn().Msg("drain timeout; abandoning running tasks")
	}
	m.cancelBase()

	m.mu.Lock()
	for _, t := range m.tasks {
		m.failLocked(t, ReasonShutdown, nil)
	}
	var clients []Client
	for _, inst := range m.table.all() {
		inst.epoch++
		if inst.client != nil {
			clients = append(clients, inst.client)
			inst.client = nil
		}
		m.setStateLocked(inst, StateStopped, "shutdown")
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, c := range clients {
		g.Go(func() error { return guard(c.Close) })
	}
	err := g.Wait()
	m.persist()
	return err
}
