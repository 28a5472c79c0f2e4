package types

// GenerateRequest is the JSON payload of POST /generate.
type GenerateRequest struct {
	// Required prompt text.
	// example: A watercolor fox in a snowy forest
	Prompt string `json:"prompt" validate:"required,max=8000" example:"A watercolor fox in a snowy forest"`
	// Base64 reference images, optionally prefixed with a data URL header.
	ReferenceImagesB64 []string `json:"reference_images_b64,omitempty" validate:"max=8,dive,required"`
	// Output ratio; empty means Auto.
	// example: 16:9
	AspectRatio string `json:"aspect_ratio,omitempty" example:"16:9"`
	// Target service; empty means the server default.
	// example: aistudio
	Service string `json:"service,omitempty" validate:"omitempty,oneof=aistudio doubao grok simulated" example:"aistudio"`
}

// GenerateResponse is returned by POST /generate and POST /generate-with-file.
type GenerateResponse struct {
	Success bool   `json:"success"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
	// Base64 encoded generated images, in the order the service returned them.
	GeneratedImages []string `json:"generated_images,omitempty"`
	AITextResponse  string   `json:"ai_text_response,omitempty"`
	// Failure classification when success is false.
	// example: retries_exhausted
	Reason string `json:"reason,omitempty" example:"retries_exhausted"`
	// Number of executions the task took.
	Attempts int `json:"attempts"`
}

// TaskStatusResponse is returned by GET /tasks/{id}.
type TaskStatusResponse struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	Service    string `json:"service"`
	InstanceID string `json:"instance_id,omitempty"`
	Attempt    int    `json:"attempt"`
	QueuedAt   int64  `json:"queued_at_unix"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: prompt is required
	Error string `json:"error" example:"prompt is required"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Set when the request already created a task, e.g. a queue timeout.
	TaskID string `json:"task_id,omitempty"`
}

// InstanceStatus summarizes one browser instance.
type InstanceStatus struct {
	ID      string `json:"instance_id"`
	Name    string `json:"name"`
	Service string `json:"service"`
	// Lifecycle state: created, starting, idle, busy, error, stopped.
	// example: idle
	State               string `json:"state" example:"idle"`
	CurrentTaskID       string `json:"current_task_id,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	RestartAttempts     int    `json:"restart_attempts"`
	LastError           string `json:"error_message,omitempty"`
	CreatedAt           int64  `json:"created_at_unix"`
	LastActiveAt        int64  `json:"last_active_unix,omitempty"`
	IsBusy              bool   `json:"is_busy"`
}

// InstanceCounts are derived directly from the instance table.
type InstanceCounts struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Available int `json:"available"`
	Busy      int `json:"busy"`
	Starting  int `json:"starting"`
	Error     int `json:"error"`
}

// StatusResponse is the pool snapshot used by /health and /api/stats.
type StatusResponse struct {
	Instances           []InstanceStatus `json:"instances"`
	Counts              InstanceCounts   `json:"browser_instances"`
	ConcurrencyCapacity int              `json:"concurrency_capacity"`
	QueuedTasks         int              `json:"queued_tasks"`
	ActiveTasks         int              `json:"active_tasks"`
	UptimeSeconds       int64            `json:"uptime_seconds"`
	ServerTimeUnix      int64            `json:"server_time_unix"`
	ShuttingDown        bool             `json:"shutting_down,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status              string         `json:"status"`
	Counts              InstanceCounts `json:"browser_instances"`
	ConcurrencyCapacity int            `json:"concurrency_capacity"`
	QueuedTasks         int            `json:"queued_tasks"`
	ActiveTasks         int            `json:"active_tasks"`
	Timestamp           string         `json:"timestamp"`
	Message             string         `json:"message"`
}

// CreateInstanceRequest is the payload of POST /api/instances.
type CreateInstanceRequest struct {
	// example: aistudio
	Service string `json:"service" validate:"omitempty,oneof=aistudio doubao grok simulated" example:"aistudio"`
	// example: studio-1
	Name string `json:"name,omitempty" validate:"max=64" example:"studio-1"`
	// Start the instance right after creating it.
	Start bool `json:"start,omitempty"`
}

// InstanceResponse wraps a single instance.
type InstanceResponse struct {
	Success  bool           `json:"success"`
	Instance InstanceStatus `json:"instance"`
	Message  string         `json:"message,omitempty"`
}

// InstancesResponse is returned by GET /api/instances.
type InstancesResponse struct {
	Success          bool             `json:"success"`
	Instances        []InstanceStatus `json:"instances"`
	ConcurrencyCount int              `json:"concurrency_count"`
	TotalCount       int              `json:"total_count"`
}

// ActionResponse acknowledges a management action.
type ActionResponse struct {
	Success    bool   `json:"success"`
	InstanceID string `json:"instance_id,omitempty"`
	Message    string `json:"message"`
}
