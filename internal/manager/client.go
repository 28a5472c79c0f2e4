package manager

import (
	"context"

	"genpool/pkg/types"
)

// Job is one execution of a task handed to a Client.
type Job struct {
	TaskID      string
	Prompt      string
	Images      [][]byte
	AspectRatio types.AspectRatio
	Attempt     int
}

// Output is what a Client returns for a completed job.
type Output struct {
	Images [][]byte
	Text   string
}

// Client drives one browser session against one web service. A Client is
// owned by exactly one instance. Initialize, SubmitTask and Cleanup are never
// called concurrently. Probe may be called while SubmitTask is running.
type Client interface {
	// Initialize opens the session and navigates to a clean entry page.
	Initialize(ctx context.Context) error
	// SubmitTask runs one generation and blocks until it resolves.
	SubmitTask(ctx context.Context, job Job) (Output, error)
	// Cleanup discards the conversation and returns to a fresh entry page.
	Cleanup(ctx context.Context) error
	// Probe is a cheap liveness check.
	Probe(ctx context.Context) error
	// Close releases the session. It may interrupt a running SubmitTask.
	Close() error
}

// ClientFactory builds a new Client for an instance. It is called on every
// start and restart so a restarted instance never reuses a faulted session.
type ClientFactory func(kind types.ServiceKind, instanceID string) (Client, error)
