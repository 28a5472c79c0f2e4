package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"genpool/pkg/types"
)

// fakeClient is a scriptable in-memory Client used by the tests.
type fakeClient struct {
	id  string
	gen int

	initErr   error
	submitFn  func(ctx context.Context, job Job) (Output, error)
	cleanupFn func(ctx context.Context) error
	probeFn   func(ctx context.Context) error

	mu       sync.Mutex
	jobs     []Job
	cleanups int
	closed   atomic.Bool
}

func (c *fakeClient) Initialize(ctx context.Context) error { return c.initErr }

func (c *fakeClient) SubmitTask(ctx context.Context, job Job) (Output, error) {
	c.mu.Lock()
	c.jobs = append(c.jobs, job)
	c.mu.Unlock()
	if c.submitFn != nil {
		return c.submitFn(ctx, job)
	}
	return Output{Images: [][]byte{[]byte("img:" + job.Prompt)}, Text: "ok"}, nil
}

func (c *fakeClient) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	c.cleanups++
	c.mu.Unlock()
	if c.cleanupFn != nil {
		return c.cleanupFn(ctx)
	}
	return nil
}

func (c *fakeClient) Probe(ctx context.Context) error {
	if c.probeFn != nil {
		return c.probeFn(ctx)
	}
	return nil
}

func (c *fakeClient) Cleanups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanups
}

func (c *fakeClient) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeClient) Jobs() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Job, len(c.jobs))
	copy(out, c.jobs)
	return out
}

// fakeFactory builds fakeClients and remembers every client per instance.
type fakeFactory struct {
	mu      sync.Mutex
	build   func(c *fakeClient)
	clients map[string][]*fakeClient
}

func newFakeFactory(build func(c *fakeClient)) *fakeFactory {
	return &fakeFactory{build: build, clients: make(map[string][]*fakeClient)}
}

func (f *fakeFactory) New(kind types.ServiceKind, id string) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeClient{id: id, gen: len(f.clients[id])}
	if f.build != nil {
		f.build(c)
	}
	f.clients[id] = append(f.clients[id], c)
	return c, nil
}

func (f *fakeFactory) Clients(id string) []*fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*fakeClient, len(f.clients[id]))
	copy(out, f.clients[id])
	return out
}

// newTestManager runs a manager for the duration of the test.
func newTestManager(t *testing.T, cfg ManagerConfig, f *fakeFactory) *Manager {
	t.Helper()
	if f != nil {
		cfg.Factory = f.New
	}
	if cfg.ProbeInterval == 0 {
		// probes are driven by hand through ProbeAll
		cfg.ProbeInterval = time.Hour
	}
	m := NewWithConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		cctx, ccancel := context.WithTimeout(context.Background(), time.Second)
		defer ccancel()
		_ = m.Close(cctx)
	})
	return m
}

// startInstances creates n instances of kind and waits until they are Idle.
func startInstances(t *testing.T, m *Manager, kind types.ServiceKind, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		info, err := m.CreateInstance(kind, "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := m.StartInstance(info.ID); err != nil {
			t.Fatalf("start: %v", err)
		}
		// one at a time so client creation order follows ids
		waitState(t, m, info.ID, StateIdle)
		ids = append(ids, info.ID)
	}
	return ids
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, m *Manager, id string, want InstanceState) {
	t.Helper()
	waitFor(t, "instance "+id+" to be "+string(want), func() bool {
		info, err := m.GetInstance(id)
		return err == nil && info.State == want
	})
}

func stateOf(t *testing.T, m *Manager, id string) InstanceState {
	t.Helper()
	info, err := m.GetInstance(id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return info.State
}

// testCtx returns a context with a short timeout, canceled on test cleanup.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}

// memoryStore is an in-memory MetadataStore.
type memoryStore struct {
	mu    sync.Mutex
	recs  []types.InstanceRecord
	saves int
}

func (s *memoryStore) Load() ([]types.InstanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.InstanceRecord(nil), s.recs...), nil
}

func (s *memoryStore) Save(recs []types.InstanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append([]types.InstanceRecord(nil), recs...)
	s.saves++
	return nil
}
