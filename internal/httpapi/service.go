package httpapi

import (
	"context"

	"genpool/internal/manager"
	"genpool/pkg/types"
)

// Service defines what the generation API needs from the pool.
type Service interface {
	Generate(ctx context.Context, spec manager.TaskSpec) (manager.Result, error)
	TaskStatus(id string) (manager.TaskInfo, error)
	Status() types.StatusResponse
	DefaultKind() types.ServiceKind
	Ready() bool
}

// Management defines what the management API needs from the pool.
type Management interface {
	CreateInstance(kind types.ServiceKind, name string) (manager.InstanceInfo, error)
	StartInstance(id string) error
	StopInstance(id string) error
	RestartInstance(id string) error
	RemoveInstance(id string, force bool) error
	GetInstance(id string) (manager.InstanceInfo, error)
	ListInstances() []manager.InstanceInfo
	Status() types.StatusResponse
	DefaultKind() types.ServiceKind
}

// EventSource feeds the management event stream.
type EventSource interface {
	Subscribe() (<-chan manager.Event, func())
}

var (
	_ Service     = (*manager.Manager)(nil)
	_ Management  = (*manager.Manager)(nil)
	_ EventSource = (*manager.Broadcaster)(nil)
)
