package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"genpool/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxRetries        = 2
	defaultTaskTimeout       = 300 * time.Second
	defaultStartTimeout      = 120 * time.Second
	defaultCleanupTimeout    = 60 * time.Second
	defaultProbeInterval     = 30 * time.Second
	defaultProbeTimeout      = 10 * time.Second
	defaultFailureThreshold  = 3
	defaultMaxRestarts       = 3
	defaultRestartBackoff    = 2 * time.Second
	defaultMaxRestartBackoff = 60 * time.Second
	defaultDrainTimeout      = 30 * time.Second
	defaultPersistDelay      = 2 * time.Second
)

// MetadataStore persists the instance table between process runs. Only ids,
// names, kinds and timestamps are stored; sessions are never persisted here.
type MetadataStore interface {
	Load() ([]types.InstanceRecord, error)
	Save([]types.InstanceRecord) error
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Factory     ClientFactory
	DefaultKind types.ServiceKind
	Store       MetadataStore
	Publisher   EventPublisher
	Logger      *zerolog.Logger

	// MaxRetries bounds requeues after transient failures. Negative disables
	// retries; zero uses the default.
	MaxRetries     int
	TaskTimeout    time.Duration
	StartTimeout   time.Duration
	CleanupTimeout time.Duration
	// QueueTimeout bounds how long a task may stay Queued before the caller
	// gets a too-busy error. Zero waits without bound.
	QueueTimeout time.Duration
	// MaxQueueDepth rejects new tasks once this many are queued. Zero is unbounded.
	MaxQueueDepth int

	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration
	FailureThreshold int

	// DisableAutoRestart keeps instances in Error until a management restart.
	DisableAutoRestart bool
	MaxRestarts        int
	RestartBackoff     time.Duration
	MaxRestartBackoff  time.Duration
	DrainTimeout       time.Duration
	// PersistDelay coalesces metadata writes after finished tasks.
	PersistDelay time.Duration
}

// NewWithConfig constructs a Manager from ManagerConfig. Persisted instance
// records are loaded as Created instances.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		factory:       cfg.Factory,
		defaultKind:   cfg.DefaultKind,
		store:         cfg.Store,
		publisher:     cfg.Publisher,
		table:         newInstanceTable(),
		queue:         newTaskQueue(),
		tasks:         make(map[string]*task),
		wake:          make(chan struct{}, 1),
		autoRestart:   !cfg.DisableAutoRestart,
		queueTimeout:  cfg.QueueTimeout,
		maxQueueDepth: cfg.MaxQueueDepth,
		startTime:     time.Now(),
	}
	m.baseCtx, m.cancelBase = context.WithCancel(context.Background())
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if cfg.Logger != nil {
		m.log = *cfg.Logger
	} else {
		m.log = zerolog.Nop()
	}
	if m.defaultKind == "" {
		m.defaultKind = types.ServiceAIStudio
	}
	// Apply defaults if unset
	switch {
	case cfg.MaxRetries < 0:
		m.maxRetries = 0
	case cfg.MaxRetries == 0:
		m.maxRetries = defaultMaxRetries
	default:
		m.maxRetries = cfg.MaxRetries
	}
	m.taskTimeout = durationOr(cfg.TaskTimeout, defaultTaskTimeout)
	m.startTimeout = durationOr(cfg.StartTimeout, defaultStartTimeout)
	m.cleanupTimeout = durationOr(cfg.CleanupTimeout, defaultCleanupTimeout)
	m.probeInterval = durationOr(cfg.ProbeInterval, defaultProbeInterval)
	m.probeTimeout = durationOr(cfg.ProbeTimeout, defaultProbeTimeout)
	m.restartBackoff = durationOr(cfg.RestartBackoff, defaultRestartBackoff)
	m.maxRestartBackoff = durationOr(cfg.MaxRestartBackoff, defaultMaxRestartBackoff)
	m.drainTimeout = durationOr(cfg.DrainTimeout, defaultDrainTimeout)
	m.persistDelay = durationOr(cfg.PersistDelay, defaultPersistDelay)
	if m.maxRestartBackoff < m.restartBackoff {
		m.maxRestartBackoff = m.restartBackoff
	}
	if cfg.FailureThreshold <= 0 {
		m.failureThreshold = defaultFailureThreshold
	} else {
		m.failureThreshold = cfg.FailureThreshold
	}
	if cfg.MaxRestarts <= 0 {
		m.maxRestarts = defaultMaxRestarts
	} else {
		m.maxRestarts = cfg.MaxRestarts
	}
	m.loadInstances()
	return m
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
