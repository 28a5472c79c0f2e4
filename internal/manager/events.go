package manager

import "time"

// Event represents a pool lifecycle event.
// Minimal and stable: name + ids and optional fields via key/values.
type Event struct {
	Name       string         `json:"name"`
	InstanceID string         `json:"instance_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Time       time.Time      `json:"time"`
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic. Publish is called with
// the manager lock held.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MultiPublisher fans an event out to several publishers in order.
type MultiPublisher []EventPublisher

func (mp MultiPublisher) Publish(e Event) {
	for _, p := range mp {
		if p != nil {
			p.Publish(e)
		}
	}
}

func (m *Manager) emit(name, instanceID, taskID string, fields map[string]any) {
	m.publisher.Publish(Event{Name: name, InstanceID: instanceID, TaskID: taskID, Fields: fields, Time: time.Now()})
}
