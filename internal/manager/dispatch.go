package manager

import (
	"context"
	"time"
)

// dispatchLoop waits for wakeups and runs assignment passes. It never blocks
// on task I/O.
func (m *Manager) dispatchLoop(ctx context.Context) {
	m.signal()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			m.assign()
		}
	}
}

// assign pairs queued tasks with Idle instances, oldest task first. A task
// that cannot be served right now does not block younger tasks of other kinds.
func (m *Manager) assign() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return
	}
	for _, t := range m.queue.snapshot() {
		inst := m.pickInstanceLocked(t)
		if inst == nil {
			continue
		}
		m.queue.remove(t.id)
		m.startTaskLocked(inst, t)
	}
}

// pickInstanceLocked returns an Idle instance for t. Instances the task has
// not tried yet are preferred; an already tried one is reused only once every
// healthy instance of the kind has been tried.
func (m *Manager) pickInstanceLocked(t *task) *instance {
	var reuse *instance
	allTried := true
	for _, inst := range m.table.all() {
		if inst.kind != t.spec.Kind {
			continue
		}
		if inst.state.healthy() && !t.tried[inst.id] {
			allTried = false
		}
		if inst.state != StateIdle || inst.client == nil {
			continue
		}
		if !t.tried[inst.id] {
			return inst
		}
		if reuse == nil {
			reuse = inst
		}
	}
	if allTried {
		return reuse
	}
	return nil
}

// startTaskLocked moves inst to Busy and t to Assigned in one step, then
// hands execution to its own goroutine.
func (m *Manager) startTaskLocked(inst *instance, t *task) {
	ctx, cancel := context.WithTimeout(m.baseCtx, m.taskTimeout)
	inst.cancelTask = cancel
	m.setStateLocked(inst, StateBusy, "assigned")
	inst.currentTaskID = t.id
	inst.lastActiveAt = time.Now()
	t.state = TaskAssigned
	t.assigned = inst.id
	t.tried[inst.id] = true
	t.runs++
	m.emit("task_assigned", inst.id, t.id, map[string]any{"attempt": t.attempt})
	m.log.Info().Str("task_id", t.id).Str("instance_id", inst.id).Int("attempt", t.attempt).Msg("task assigned")

	job := Job{
		TaskID:      t.id,
		Prompt:      t.spec.Prompt,
		Images:      t.spec.Images,
		AspectRatio: t.spec.AspectRatio,
		Attempt:     t.attempt,
	}
	m.running.Add(1)
	go m.execute(ctx, cancel, inst.id, inst.epoch, inst.client, t, job)
}

// requeueLocked puts t back at the tail of the queue.
func (m *Manager) requeueLocked(t *task, countAttempt bool, reason Reason) {
	if countAttempt {
		t.attempt++
		poolTaskRetries.Inc()
	}
	t.state = TaskQueued
	t.assigned = ""
	t.enqueuedAt = time.Now()
	m.queue.push(t)
	m.emit("task_requeued", "", t.id, map[string]any{"attempt": t.attempt, "reason": string(reason)})
	m.log.Warn().Str("task_id", t.id).Int("attempt", t.attempt).Str("reason", string(reason)).Msg("task requeued")
}

// retryOrFailLocked applies the retry policy to a failed execution.
func (m *Manager) retryOrFailLocked(t *task, te *TaskError) {
	if m.closing {
		m.failLocked(t, ReasonShutdown, te)
		return
	}
	if !te.Transient && !te.instanceFault() {
		m.failLocked(t, te.Reason, te.Err)
		return
	}
	if t.attempt >= m.maxRetries {
		if m.maxRetries == 0 {
			m.failLocked(t, te.Reason, te.Err)
			return
		}
		m.failLocked(t, ReasonRetriesExhausted, te)
		return
	}
	m.requeueLocked(t, true, te.Reason)
}
