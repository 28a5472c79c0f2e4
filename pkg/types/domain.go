package types

import "time"

// ServiceKind identifies the external web UI an instance drives.
type ServiceKind string

const (
	// ServiceAIStudio drives Google AI Studio image chats.
	ServiceAIStudio ServiceKind = "aistudio"
	// ServiceDoubao drives the Doubao image creation skill.
	ServiceDoubao ServiceKind = "doubao"
	// ServiceGrok drives image generation in the Grok chat.
	ServiceGrok ServiceKind = "grok"
	// ServiceSimulated is an in-process client used for local runs and tests.
	ServiceSimulated ServiceKind = "simulated"
)

// AspectRatio is the requested output ratio. "Auto" lets the service decide.
type AspectRatio string

const AspectAuto AspectRatio = "Auto"

// InstanceRecord is the persisted subset of an instance. Session state
// (cookies, page) is never part of it.
type InstanceRecord struct {
	ID        string      `json:"instance_id"`
	Name      string      `json:"name"`
	Service   ServiceKind `json:"service"`
	CreatedAt time.Time   `json:"created_at"`
	LastUsed  time.Time   `json:"last_used,omitempty"`
}
