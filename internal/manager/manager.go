package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genpool/pkg/types"
)

// Manager owns the instance table, the task queue and the dispatcher. Every
// instance and task transition happens under mu, so the dispatcher and the
// management surface never observe a half-updated instance.
type Manager struct {
	mu    sync.Mutex
	table *instanceTable
	queue *taskQueue
	tasks map[string]*task

	factory     ClientFactory
	defaultKind types.ServiceKind
	publisher   EventPublisher
	log         zerolog.Logger

	store     MetadataStore
	persistMu sync.Mutex
	// persistTimer is armed under mu while a delayed write is pending.
	persistTimer *time.Timer
	persistDelay time.Duration

	maxRetries        int
	taskTimeout       time.Duration
	startTimeout      time.Duration
	cleanupTimeout    time.Duration
	queueTimeout      time.Duration
	maxQueueDepth     int
	probeInterval     time.Duration
	probeTimeout      time.Duration
	failureThreshold  int
	autoRestart       bool
	maxRestarts       int
	restartBackoff    time.Duration
	maxRestartBackoff time.Duration
	drainTimeout      time.Duration

	// wake has capacity 1; a pending signal means "run an assignment pass".
	wake       chan struct{}
	baseCtx    context.Context
	cancelBase context.CancelFunc
	running    sync.WaitGroup
	closing    bool
	closeOnce  sync.Once
	startTime  time.Time
}

// New builds a Manager with default tunables.
func New(factory ClientFactory) *Manager {
	return NewWithConfig(ManagerConfig{Factory: factory})
}

// Run drives the dispatcher and the health supervisor until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.supervise(ctx)
	}()
	m.dispatchLoop(ctx)
	<-done
	return nil
}

// Ready reports whether at least one instance can take tasks.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return false
	}
	for _, inst := range m.table.all() {
		if inst.state.healthy() {
			return true
		}
	}
	return false
}

// DefaultKind is the service used when a request does not name one.
func (m *Manager) DefaultKind() types.ServiceKind { return m.defaultKind }

// signal requests an assignment pass without blocking.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
