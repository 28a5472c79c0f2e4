package manager

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Handle is the completion handle returned by Submit.
type Handle struct {
	ID string
	m  *Manager
	t  *task
}

// Done is closed once the task's result has been delivered.
func (h *Handle) Done() <-chan struct{} { return h.t.done }

// Submit validates spec and enqueues it. It never blocks on instance I/O.
func (m *Manager) Submit(spec TaskSpec) (*Handle, error) {
	if strings.TrimSpace(spec.Prompt) == "" {
		return nil, ErrInvalidInput("prompt is required")
	}
	if spec.Kind == "" {
		spec.Kind = m.defaultKind
	}
	if spec.AspectRatio == "" {
		spec.AspectRatio = "Auto"
	}
	imgs := make([][]byte, 0, len(spec.Images))
	for i, img := range spec.Images {
		if len(img) == 0 {
			return nil, ErrInvalidInput("reference image " + strconv.Itoa(i) + " is empty")
		}
		imgs = append(imgs, append([]byte(nil), img...))
	}
	spec.Images = imgs

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return nil, ErrShuttingDown
	}
	if !m.servableLocked(spec) {
		return nil, unavailableError{kind: string(spec.Kind)}
	}
	if m.maxQueueDepth > 0 && m.queue.len() >= m.maxQueueDepth {
		poolTasks.WithLabelValues("rejected").Inc()
		return nil, tooBusyError{kind: string(spec.Kind)}
	}
	now := time.Now()
	t := &task{
		id:         uuid.NewString(),
		spec:       spec,
		state:      TaskQueued,
		tried:      make(map[string]bool),
		queuedAt:   now,
		enqueuedAt: now,
		done:       make(chan struct{}),
	}
	m.tasks[t.id] = t
	m.queue.push(t)
	m.emit("task_queued", "", t.id, map[string]any{"service": string(spec.Kind), "queue_depth": m.queue.len()})
	m.log.Debug().Str("task_id", t.id).Str("service", string(spec.Kind)).Int("queue_depth", m.queue.len()).Msg("task queued")
	m.signal()
	return &Handle{ID: t.id, m: m, t: t}, nil
}

// Wait blocks until the task resolves, ctx is done, or the task has been
// Queued for longer than the queue timeout. The bound applies to every stretch
// in the queue, including the one after a requeue. When ctx ends first a
// Queued task is withdrawn; a Running task keeps running and its result is
// discarded.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	var expire <-chan time.Time
	var timer *time.Timer
	if h.m.queueTimeout > 0 {
		_, left := h.m.expireQueued(h.t, false)
		timer = time.NewTimer(left)
		defer timer.Stop()
		expire = timer.C
	}
	for {
		select {
		case <-h.t.done:
			return h.t.result, h.t.result.Err
		case <-ctx.Done():
			h.m.withdraw(h.t, ReasonCanceled, ctx.Err())
			return Result{TaskID: h.ID}, ctx.Err()
		case <-expire:
			expired, left := h.m.expireQueued(h.t, true)
			if expired {
				poolTasks.WithLabelValues("rejected").Inc()
				return Result{TaskID: h.ID}, tooBusyError{kind: string(h.t.spec.Kind)}
			}
			timer.Reset(left)
		}
	}
}

// Generate submits spec and waits for its result.
func (m *Manager) Generate(ctx context.Context, spec TaskSpec) (Result, error) {
	h, err := m.Submit(spec)
	if err != nil {
		return Result{}, err
	}
	return h.Wait(ctx)
}

// TaskStatus returns the state of a task that has not been delivered yet.
func (m *Manager) TaskStatus(id string) (TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return TaskInfo{}, ErrTaskNotFound(id)
	}
	return t.info(), nil
}

// expireQueued fails t with a queue timeout when it has been Queued for the
// full timeout and expire is set. Otherwise it returns how long to wait before
// checking again: the rest of the current stretch, or a full timeout while the
// task is assigned.
func (m *Manager) expireQueued(t *task, expire bool) (bool, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.state != TaskQueued {
		return false, m.queueTimeout
	}
	left := m.queueTimeout - time.Since(t.enqueuedAt)
	if left > 0 || !expire {
		return false, max(left, 0)
	}
	if !m.queue.remove(t.id) {
		return false, m.queueTimeout
	}
	m.failLocked(t, ReasonTimeout, nil)
	return true, 0
}

// withdraw removes t if it is still Queued and reports whether it did.
func (m *Manager) withdraw(t *task, reason Reason, cause error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.state != TaskQueued || !m.queue.remove(t.id) {
		return false
	}
	m.failLocked(t, reason, cause)
	return true
}

// servableLocked reports whether some instance of the task's kind is
// running, starting, or will be restarted automatically.
func (m *Manager) servableLocked(spec TaskSpec) bool {
	for _, inst := range m.table.all() {
		if inst.kind != spec.Kind {
			continue
		}
		switch inst.state {
		case StateStarting, StateIdle, StateBusy:
			return true
		case StateError:
			if inst.restartTimer != nil {
				return true
			}
		}
	}
	return false
}

// finishLocked delivers the task result exactly once.
func (m *Manager) finishLocked(t *task, res Result) {
	if t.state == TaskSucceeded || t.state == TaskFailed {
		return
	}
	res.TaskID = t.id
	res.Attempts = t.runs
	outcome := "succeeded"
	if res.Err != nil {
		t.state = TaskFailed
		outcome = "failed"
	} else {
		t.state = TaskSucceeded
	}
	t.result = res
	delete(m.tasks, t.id)
	close(t.done)
	poolTasks.WithLabelValues(outcome).Inc()
	if !t.started.IsZero() {
		poolTaskDuration.Observe(time.Since(t.queuedAt).Seconds())
	}
	fields := map[string]any{"outcome": outcome, "attempts": res.Attempts}
	if r := ReasonOf(res.Err); r != "" {
		fields["reason"] = string(r)
	}
	m.emit("task_done", res.InstanceID, t.id, fields)
	m.log.Info().Str("task_id", t.id).Str("instance_id", res.InstanceID).Str("outcome", outcome).
		Int("attempt", t.attempt).Str("reason", string(ReasonOf(res.Err))).Msg("task done")
}

func (m *Manager) failLocked(t *task, reason Reason, cause error) {
	m.finishLocked(t, Result{InstanceID: t.assigned, Err: NewTaskFailure(t.id, reason, cause)})
}
