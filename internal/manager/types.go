package manager

import (
	"context"
	"time"

	"genpool/pkg/types"
)

// InstanceState is the lifecycle state of one browser instance.
type InstanceState string

const (
	StateCreated  InstanceState = "created"
	StateStarting InstanceState = "starting"
	StateIdle     InstanceState = "idle"
	StateBusy     InstanceState = "busy"
	StateError    InstanceState = "error"
	StateStopped  InstanceState = "stopped"
)

// healthy reports whether the state counts toward concurrency capacity.
func (s InstanceState) healthy() bool { return s == StateIdle || s == StateBusy }

// TaskState is the lifecycle state of one generation task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskAssigned  TaskState = "assigned"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
)

// instance is owned by the manager's table. Other components only see
// InstanceInfo copies obtained by id.
type instance struct {
	id        string
	name      string
	kind      types.ServiceKind
	state     InstanceState
	client    Client
	createdAt time.Time

	currentTaskID       string
	lastActiveAt        time.Time
	consecutiveFailures int
	restartAttempts     int
	lastError           string

	// epoch is bumped whenever a start, restart, stop or forced removal
	// invalidates work that is still in flight for the instance.
	epoch        uint64
	cancelTask   context.CancelFunc
	restartTimer *time.Timer
	noRestart    bool
}

// InstanceInfo is a read-only copy of an instance.
type InstanceInfo struct {
	ID                  string
	Name                string
	Kind                types.ServiceKind
	State               InstanceState
	CurrentTaskID       string
	ConsecutiveFailures int
	RestartAttempts     int
	LastError           string
	CreatedAt           time.Time
	LastActiveAt        time.Time
}

func (inst *instance) info() InstanceInfo {
	return InstanceInfo{
		ID:                  inst.id,
		Name:                inst.name,
		Kind:                inst.kind,
		State:               inst.state,
		CurrentTaskID:       inst.currentTaskID,
		ConsecutiveFailures: inst.consecutiveFailures,
		RestartAttempts:     inst.restartAttempts,
		LastError:           inst.lastError,
		CreatedAt:           inst.createdAt,
		LastActiveAt:        inst.lastActiveAt,
	}
}

// TaskSpec is the caller input of a generation task. It is never modified
// after Submit, so every attempt runs with the same prompt, images and ratio.
type TaskSpec struct {
	Kind        types.ServiceKind
	Prompt      string
	Images      [][]byte
	AspectRatio types.AspectRatio
}

// Result is delivered once per task.
type Result struct {
	TaskID     string
	Images     [][]byte
	Text       string
	InstanceID string
	// Attempts is the number of executions the task went through.
	Attempts int
	Err      error
}

// TaskInfo is a read-only copy of a task that has not been delivered yet.
type TaskInfo struct {
	ID         string
	Kind       types.ServiceKind
	State      TaskState
	InstanceID string
	Attempt    int
	QueuedAt   time.Time
}

type task struct {
	id       string
	spec     TaskSpec
	state    TaskState
	assigned string
	attempt  int
	runs     int
	tried    map[string]bool
	queuedAt time.Time
	// enqueuedAt is when the task last entered the queue.
	enqueuedAt time.Time
	started    time.Time

	result Result
	done   chan struct{}
}

func (t *task) info() TaskInfo {
	return TaskInfo{
		ID:         t.id,
		Kind:       t.spec.Kind,
		State:      t.state,
		InstanceID: t.assigned,
		Attempt:    t.attempt,
		QueuedAt:   t.queuedAt,
	}
}
