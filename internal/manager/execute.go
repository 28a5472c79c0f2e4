package manager

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type submitOutcome struct {
	out Output
	err error
}

// execute runs one task on one instance. It is the only code that calls the
// client while the instance is Busy, and it reports back under the lock.
func (m *Manager) execute(ctx context.Context, cancel context.CancelFunc, instID string, epoch uint64, c Client, t *task, job Job) {
	defer m.running.Done()
	defer cancel()

	m.mu.Lock()
	if !m.currentLocked(instID, epoch) {
		m.mu.Unlock()
		return
	}
	t.state = TaskRunning
	t.started = time.Now()
	m.mu.Unlock()

	resCh := make(chan submitOutcome, 1)
	go func() {
		var out Output
		err := guard(func() error {
			var err error
			out, err = c.SubmitTask(ctx, job)
			return err
		})
		resCh <- submitOutcome{out: out, err: err}
	}()

	select {
	case res := <-resCh:
		m.mu.Lock()
		current := m.currentLocked(instID, epoch)
		m.mu.Unlock()
		if !current {
			return
		}
		cctx, ccancel := context.WithTimeout(m.baseCtx, m.cleanupTimeout)
		cleanupErr := guard(func() error { return c.Cleanup(cctx) })
		ccancel()
		m.complete(instID, epoch, t, res, cleanupErr)
	case <-ctx.Done():
		m.abort(instID, epoch, t, ctx.Err())
	}
}

// complete applies the outcome of a finished execution.
func (m *Manager) complete(instID string, epoch uint64, t *task, res submitOutcome, cleanupErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.signal()
	if !m.currentLocked(instID, epoch) {
		return
	}
	inst, _ := m.table.get(instID)
	inst.cancelTask = nil
	inst.lastActiveAt = time.Now()
	m.persistSoonLocked()

	err := res.err
	if err == nil && len(res.out.Images) == 0 && res.out.Text == "" {
		err = NewTaskError(ReasonNoResult, true, errors.New("service returned neither images nor text"))
	}
	var te *TaskError
	if err != nil {
		te = classify(err)
	}

	switch {
	case cleanupErr != nil:
		inst.lastError = "cleanup: " + cleanupErr.Error()
		m.faultLocked(inst, "cleanup_failed")
	case te != nil && te.instanceFault():
		inst.lastError = te.Error()
		if te.Reason == ReasonLoginRequired {
			inst.noRestart = true
		}
		m.faultLocked(inst, string(te.Reason))
	default:
		if te == nil {
			inst.consecutiveFailures = 0
			inst.restartAttempts = 0
		}
		m.setStateLocked(inst, StateIdle, "task_done")
	}

	if te == nil {
		m.finishLocked(t, Result{Images: res.out.Images, Text: res.out.Text, InstanceID: instID})
		return
	}
	m.log.Warn().Err(te).Str("task_id", t.id).Str("instance_id", instID).Int("attempt", t.attempt).
		Str("reason", string(te.Reason)).Msg("task execution failed")
	m.retryOrFailLocked(t, te)
}

// abort handles an execution whose context ended before the client returned.
// The client call keeps running in the background and its result is dropped.
func (m *Manager) abort(instID string, epoch uint64, t *task, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.signal()
	if !m.currentLocked(instID, epoch) {
		return
	}
	inst, _ := m.table.get(instID)
	inst.cancelTask = nil
	if errors.Is(cause, context.DeadlineExceeded) {
		inst.lastError = fmt.Sprintf("task %s exceeded %s", t.id, m.taskTimeout)
		m.faultLocked(inst, string(ReasonTimeout))
		m.retryOrFailLocked(t, &TaskError{Reason: ReasonTimeout, Transient: true, Err: cause})
		return
	}
	inst.lastError = "canceled during shutdown"
	m.faultLocked(inst, string(ReasonShutdown))
	m.failLocked(t, ReasonShutdown, cause)
}

// currentLocked reports whether work started at epoch still owns the instance.
func (m *Manager) currentLocked(instID string, epoch uint64) bool {
	inst, ok := m.table.get(instID)
	return ok && inst.epoch == epoch
}

// faultLocked isolates inst in Error, invalidates its in-flight work and
// schedules an automatic restart when allowed.
func (m *Manager) faultLocked(inst *instance, reason string) {
	inst.epoch++
	if inst.cancelTask != nil {
		inst.cancelTask()
		inst.cancelTask = nil
	}
	m.setStateLocked(inst, StateError, reason)
	m.scheduleRestartLocked(inst)
}

// guard runs fn and turns a panic into a transient page error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewTaskError(ReasonPageError, true, fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}
