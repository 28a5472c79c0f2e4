package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"genpool/pkg/types"
)

func TestConcurrencyBoundedByIdleInstances(t *testing.T) {
	const instances, tasks = 3, 12
	var running, maxRunning atomic.Int32
	var perInstance sync.Map // id -> *atomic.Int32
	var overlap atomic.Bool
	f := newFakeFactory(func(c *fakeClient) {
		ctr := &atomic.Int32{}
		perInstance.Store(c.id, ctr)
		c.submitFn = func(ctx context.Context, job Job) (Output, error) {
			if ctr.Add(1) > 1 {
				overlap.Store(true)
			}
			n := running.Add(1)
			for {
				cur := maxRunning.Load()
				if n <= cur || maxRunning.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Duration(1+rand.Intn(8)) * time.Millisecond)
			running.Add(-1)
			ctr.Add(-1)
			return Output{Images: [][]byte{[]byte(job.Prompt)}}, nil
		}
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated}, f)
	startInstances(t, m, types.ServiceSimulated, instances)

	var wg sync.WaitGroup
	errs := make(chan error, tasks)
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			res, err := m.Generate(testCtx(t), TaskSpec{Prompt: fmt.Sprintf("p%d", i)})
			if err == nil && string(res.Images[0]) != fmt.Sprintf("p%d", i) {
				err = fmt.Errorf("task %d got output %q", i, res.Images[0])
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
	}
	if got := maxRunning.Load(); got > instances {
		t.Fatalf("expected at most %d concurrent tasks, saw %d", instances, got)
	}
	if overlap.Load() {
		t.Fatalf("an instance ran two tasks at once")
	}
}

func TestIdleOnlyAfterCleanup(t *testing.T) {
	release := make(chan struct{})
	f := newFakeFactory(func(c *fakeClient) {
		c.cleanupFn = func(ctx context.Context) error {
			<-release
			return nil
		}
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated}, f)
	ids := startInstances(t, m, types.ServiceSimulated, 1)
	h, err := m.Submit(TaskSpec{Prompt: "a"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "submit to be called", func() bool {
		cs := f.Clients(ids[0])
		return len(cs) == 1 && len(cs[0].Jobs()) == 1
	})
	time.Sleep(20 * time.Millisecond)
	if st := stateOf(t, m, ids[0]); st != StateBusy {
		t.Fatalf("expected busy while cleanup is pending, got %s", st)
	}
	select {
	case <-h.Done():
		t.Fatalf("result delivered before cleanup finished")
	default:
	}
	close(release)
	if _, err := h.Wait(testCtx(t)); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st := stateOf(t, m, ids[0]); st != StateIdle {
		t.Fatalf("expected idle after cleanup, got %s", st)
	}
}

func TestRetryPreservesInputAndCapsAttempts(t *testing.T) {
	f := newFakeFactory(func(c *fakeClient) {
		c.submitFn = func(ctx context.Context, job Job) (Output, error) {
			return Output{}, NewTaskError(ReasonSubmitFailed, true, errors.New("send button missing"))
		}
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated, MaxRetries: 2}, f)
	ids := startInstances(t, m, types.ServiceSimulated, 3)

	spec := TaskSpec{Prompt: "same prompt", Images: [][]byte{[]byte("ref-1"), []byte("ref-2")}, AspectRatio: "16:9"}
	res, err := m.Generate(testCtx(t), spec)
	if !IsTaskFailed(err) {
		t.Fatalf("expected task failure, got %v", err)
	}
	if ReasonOf(err) != ReasonRetriesExhausted {
		t.Fatalf("expected retries_exhausted, got %q", ReasonOf(err))
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 executions, got %d", res.Attempts)
	}

	var jobs []Job
	for _, id := range ids {
		cs := f.Clients(id)
		got := cs[0].Jobs()
		if len(got) != 1 {
			t.Fatalf("expected each instance to be tried exactly once, %s ran %d", id, len(got))
		}
		jobs = append(jobs, got...)
	}
	seen := map[int]bool{}
	for _, j := range jobs {
		if j.Prompt != spec.Prompt || j.AspectRatio != spec.AspectRatio || len(j.Images) != 2 ||
			!bytes.Equal(j.Images[0], spec.Images[0]) || !bytes.Equal(j.Images[1], spec.Images[1]) {
			t.Fatalf("job input changed across attempts: %+v", j)
		}
		if j.Attempt > 2 {
			t.Fatalf("attempt %d exceeds max retries", j.Attempt)
		}
		seen[j.Attempt] = true
	}
	if !seen[0] || !seen[1] || !seen[2] {
		t.Fatalf("expected attempts 0,1,2, got %v", seen)
	}
}

func TestNonTransientFailureIsNotRetried(t *testing.T) {
	f := newFakeFactory(func(c *fakeClient) {
		c.submitFn = func(ctx context.Context, job Job) (Output, error) {
			return Output{}, NewTaskError(ReasonInvalidInput, false, errors.New("unsupported ratio"))
		}
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated}, f)
	ids := startInstances(t, m, types.ServiceSimulated, 2)
	res, err := m.Generate(testCtx(t), TaskSpec{Prompt: "x"})
	if ReasonOf(err) != ReasonInvalidInput {
		t.Fatalf("expected invalid_input, got %v", err)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected a single execution, got %d", res.Attempts)
	}
	if st := stateOf(t, m, ids[0]); st != StateIdle {
		t.Fatalf("instance should stay idle after a task-level failure, got %s", st)
	}
}

func TestFIFOAssignment(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string
	f := newFakeFactory(func(c *fakeClient) {
		c.submitFn = func(ctx context.Context, job Job) (Output, error) {
			if job.Prompt == "blocker" {
				<-gate
			}
			mu.Lock()
			order = append(order, job.Prompt)
			mu.Unlock()
			return Output{Text: job.Prompt}, nil
		}
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated}, f)
	startInstances(t, m, types.ServiceSimulated, 1)

	blocker, err := m.Submit(TaskSpec{Prompt: "blocker"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, "blocker to run", func() bool {
		info, err := m.TaskStatus(blocker.ID)
		return err == nil && info.State == TaskRunning
	})
	var handles []*Handle
	for i := 0; i < 5; i++ {
		h, err := m.Submit(TaskSpec{Prompt: fmt.Sprintf("t%d", i)})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		handles = append(handles, h)
	}
	close(gate)
	for _, h := range append([]*Handle{blocker}, handles...) {
		if _, err := h.Wait(testCtx(t)); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	want := []string{"blocker", "t0", "t1", "t2", "t3", "t4"}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
}

func TestSingleInstanceThreeTasks(t *testing.T) {
	gate := make(chan struct{})
	f := newFakeFactory(func(c *fakeClient) {
		c.submitFn = func(ctx context.Context, job Job) (Output, error) {
			if job.Prompt == "first" {
				<-gate
			}
			return Output{Text: job.Prompt}, nil
		}
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated}, f)
	ids := startInstances(t, m, types.ServiceSimulated, 1)

	first, _ := m.Submit(TaskSpec{Prompt: "first"})
	second, _ := m.Submit(TaskSpec{Prompt: "second"})
	third, _ := m.Submit(TaskSpec{Prompt: "third"})
	waitFor(t, "first task to run", func() bool {
		info, err := m.TaskStatus(first.ID)
		return err == nil && info.State == TaskRunning && info.InstanceID == ids[0]
	})
	time.Sleep(20 * time.Millisecond)
	for _, h := range []*Handle{second, third} {
		info, err := m.TaskStatus(h.ID)
		if err != nil || info.State != TaskQueued {
			t.Fatalf("expected %s queued, got %+v err=%v", h.ID, info, err)
		}
	}
	if q := m.Status().QueuedTasks; q != 2 {
		t.Fatalf("expected 2 queued tasks, got %d", q)
	}
	close(gate)
	for _, h := range []*Handle{first, second, third} {
		res, err := h.Wait(testCtx(t))
		if err != nil {
			t.Fatalf("wait: %v", err)
		}
		if res.InstanceID != ids[0] {
			t.Fatalf("unexpected instance %s", res.InstanceID)
		}
	}
	if _, err := m.TaskStatus(first.ID); !IsNotFound(err) {
		t.Fatalf("delivered task should no longer be visible, got %v", err)
	}
}

func TestDeadlineRequeuesOnDifferentInstance(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	var slow string
	f := newFakeFactory(func(c *fakeClient) {
		if slow == "" {
			slow = c.id
			c.submitFn = func(ctx context.Context, job Job) (Output, error) {
				// ignores ctx on purpose: a hung page does not return
				<-hang
				return Output{}, nil
			}
		}
	})
	m := newTestManager(t, ManagerConfig{
		DefaultKind:        types.ServiceSimulated,
		TaskTimeout:        50 * time.Millisecond,
		DisableAutoRestart: true,
	}, f)
	ids := startInstances(t, m, types.ServiceSimulated, 2)
	if slow != ids[0] {
		t.Fatalf("expected the first instance to be the slow one")
	}

	res, err := m.Generate(testCtx(t), TaskSpec{Prompt: "deadline"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.InstanceID != ids[1] {
		t.Fatalf("expected retry on %s, got %s", ids[1], res.InstanceID)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected 2 executions, got %d", res.Attempts)
	}
	jobs := f.Clients(ids[1])[0].Jobs()
	if len(jobs) != 1 || jobs[0].Attempt != 1 {
		t.Fatalf("expected requeued job with attempt=1, got %+v", jobs)
	}
	info, _ := m.GetInstance(ids[0])
	if info.State != StateError {
		t.Fatalf("expected timed out instance in error, got %s", info.State)
	}
	if info.CurrentTaskID != "" {
		t.Fatalf("error instance must not hold a task")
	}
}

func TestCleanupFailureIsolatesInstance(t *testing.T) {
	f := newFakeFactory(func(c *fakeClient) {
		c.cleanupFn = func(ctx context.Context) error { return errors.New("new chat page did not load") }
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated, DisableAutoRestart: true}, f)
	ids := startInstances(t, m, types.ServiceSimulated, 1)
	res, err := m.Generate(testCtx(t), TaskSpec{Prompt: "x"})
	if err != nil {
		t.Fatalf("task result should still be delivered: %v", err)
	}
	if len(res.Images) != 1 {
		t.Fatalf("expected one image")
	}
	info, _ := m.GetInstance(ids[0])
	if info.State != StateError || info.LastError == "" {
		t.Fatalf("expected error state with message, got %+v", info)
	}
}

func TestFailingCleanupConsumesRestartBudget(t *testing.T) {
	pub := NewMemoryPublisher()
	f := newFakeFactory(func(c *fakeClient) {
		c.cleanupFn = func(ctx context.Context) error { return errors.New("new chat page did not load") }
	})
	m := newTestManager(t, ManagerConfig{
		DefaultKind:    types.ServiceSimulated,
		MaxRestarts:    2,
		RestartBackoff: time.Millisecond,
		Publisher:      pub,
	}, f)
	id := startInstances(t, m, types.ServiceSimulated, 1)[0]

	delivered := 0
	for round := 0; round < 8; round++ {
		_, err := m.Generate(testCtx(t), TaskSpec{Prompt: "x"})
		if IsUnavailable(err) {
			break
		}
		if err != nil {
			t.Fatalf("round %d: %v", round, err)
		}
		delivered++
	}
	if delivered != 3 {
		t.Fatalf("expected initial run plus 2 restarts, got %d deliveries", delivered)
	}
	if n := len(f.Clients(id)); n != 3 {
		t.Fatalf("expected 3 clients built, got %d", n)
	}
	info, _ := m.GetInstance(id)
	if info.State != StateError || info.RestartAttempts != 2 {
		t.Fatalf("expected exhausted instance, got %+v", info)
	}
	if len(pub.Named("restart_exhausted")) != 1 {
		t.Fatalf("expected restart_exhausted event")
	}
}

func TestPanicInClientIsContained(t *testing.T) {
	var calls atomic.Int32
	f := newFakeFactory(func(c *fakeClient) {
		c.submitFn = func(ctx context.Context, job Job) (Output, error) {
			if calls.Add(1) == 1 {
				panic("selector exploded")
			}
			return Output{Text: "recovered"}, nil
		}
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated}, f)
	startInstances(t, m, types.ServiceSimulated, 1)
	res, err := m.Generate(testCtx(t), TaskSpec{Prompt: "x"})
	if err != nil {
		t.Fatalf("expected retry after panic to succeed: %v", err)
	}
	if res.Text != "recovered" || res.Attempts != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEmptyOutputIsNoResult(t *testing.T) {
	f := newFakeFactory(func(c *fakeClient) {
		c.submitFn = func(ctx context.Context, job Job) (Output, error) { return Output{}, nil }
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated, MaxRetries: -1}, f)
	startInstances(t, m, types.ServiceSimulated, 1)
	_, err := m.Generate(testCtx(t), TaskSpec{Prompt: "x"})
	if ReasonOf(err) != ReasonNoResult {
		t.Fatalf("expected no_result, got %v", err)
	}
}

func TestRetryWaitsForUntriedInstance(t *testing.T) {
	gate := make(chan struct{})
	created := 0
	f := newFakeFactory(func(c *fakeClient) {
		created++
		if created == 2 {
			c.submitFn = func(ctx context.Context, job Job) (Output, error) {
				return Output{}, errors.New("page crashed")
			}
			return
		}
		c.submitFn = func(ctx context.Context, job Job) (Output, error) {
			if job.Prompt == "hold" {
				<-gate
			}
			return Output{Text: job.Prompt}, nil
		}
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated}, f)
	ids := startInstances(t, m, types.ServiceSimulated, 2)

	// occupy the healthy instance first
	hold, _ := m.Submit(TaskSpec{Prompt: "hold"})
	waitFor(t, "hold to run on the first instance", func() bool {
		info, err := m.TaskStatus(hold.ID)
		return err == nil && info.InstanceID == ids[0] && info.State == TaskRunning
	})
	retried, _ := m.Submit(TaskSpec{Prompt: "retried"})
	waitFor(t, "first attempt to fail", func() bool {
		info, err := m.TaskStatus(retried.ID)
		return err == nil && info.Attempt == 1 && info.State == TaskQueued
	})
	time.Sleep(20 * time.Millisecond)
	if n := len(f.Clients(ids[1])[0].Jobs()); n != 1 {
		t.Fatalf("retry should wait for the untried instance, failing instance ran %d jobs", n)
	}
	close(gate)
	res, err := retried.Wait(testCtx(t))
	if err != nil || res.InstanceID != ids[0] {
		t.Fatalf("expected retry on %s, got %+v err=%v", ids[0], res, err)
	}
	if _, err := hold.Wait(testCtx(t)); err != nil {
		t.Fatalf("hold: %v", err)
	}
}

func TestBackToBackTasksAreIndependent(t *testing.T) {
	// The fake keeps a conversation like a chat page. Cleanup never deletes
	// it, the way a disabled delete button behaves, but always opens a new chat.
	f := newFakeFactory(func(c *fakeClient) {
		var convo [][]byte
		c.submitFn = func(ctx context.Context, job Job) (Output, error) {
			convo = append(convo, job.Images...)
			return Output{Images: append([][]byte(nil), convo...)}, nil
		}
		c.cleanupFn = func(ctx context.Context) error {
			convo = nil
			return nil
		}
	})
	m := newTestManager(t, ManagerConfig{DefaultKind: types.ServiceSimulated}, f)
	ids := startInstances(t, m, types.ServiceSimulated, 1)

	r1, err := m.Generate(testCtx(t), TaskSpec{Prompt: "one", Images: [][]byte{[]byte("caller-a")}})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	r2, err := m.Generate(testCtx(t), TaskSpec{Prompt: "two", Images: [][]byte{[]byte("caller-b")}})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if r1.InstanceID != ids[0] || r2.InstanceID != ids[0] {
		t.Fatalf("expected both tasks on the same instance")
	}
	if len(r2.Images) != 1 || string(r2.Images[0]) != "caller-b" {
		t.Fatalf("second task saw state from the first: %q", r2.Images)
	}
	if n := f.Clients(ids[0])[0].Cleanups(); n != 2 {
		t.Fatalf("expected cleanup after each task, got %d", n)
	}
}
