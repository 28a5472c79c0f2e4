package manager

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies a task failure for callers.
type Reason string

const (
	ReasonTimeout          Reason = "timeout"
	ReasonPageError        Reason = "page_error"
	ReasonUploadFailed     Reason = "upload_failed"
	ReasonSubmitFailed     Reason = "submit_failed"
	ReasonNoResult         Reason = "no_result"
	ReasonInstanceFault    Reason = "instance_fault"
	ReasonRetriesExhausted Reason = "retries_exhausted"
	ReasonCanceled         Reason = "canceled"
	ReasonShutdown         Reason = "shutdown"
	ReasonLoginRequired    Reason = "login_required"
	ReasonInvalidInput     Reason = "invalid_input"
)

// TaskError is returned by clients to classify a failure. Transient failures
// are retried on another instance; the rest fail the task immediately.
type TaskError struct {
	Reason    Reason
	Transient bool
	Err       error
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return string(e.Reason) + ": " + e.Err.Error()
}

func (e *TaskError) Unwrap() error { return e.Err }

// NewTaskError wraps err with a reason code.
func NewTaskError(reason Reason, transient bool, err error) error {
	return &TaskError{Reason: reason, Transient: transient, Err: err}
}

// classify turns any client error into a TaskError. Unknown errors count as
// transient page errors.
func classify(err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TaskError{Reason: ReasonTimeout, Transient: true, Err: err}
	}
	return &TaskError{Reason: ReasonPageError, Transient: true, Err: err}
}

// instanceFault reports whether the failure says the session itself is broken
// rather than the single task.
func (e *TaskError) instanceFault() bool {
	return e.Reason == ReasonInstanceFault || e.Reason == ReasonLoginRequired
}

// taskFailedError is the caller-visible failure of a task.
type taskFailedError struct {
	taskID string
	reason Reason
	cause  error
}

func (e taskFailedError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("task %s failed: %s", e.taskID, e.reason)
	}
	return fmt.Sprintf("task %s failed: %s: %v", e.taskID, e.reason, e.cause)
}

func (e taskFailedError) Unwrap() error { return e.cause }

// NewTaskFailure builds the caller-visible failure of a task.
func NewTaskFailure(taskID string, reason Reason, cause error) error {
	return taskFailedError{taskID: taskID, reason: reason, cause: cause}
}

// IsTaskFailed reports whether err is a typed task failure.
func IsTaskFailed(err error) bool {
	var tf taskFailedError
	return errors.As(err, &tf)
}

// ReasonOf returns the reason code carried by err, or "" when there is none.
func ReasonOf(err error) Reason {
	var tf taskFailedError
	if errors.As(err, &tf) {
		return tf.reason
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ""
}

// notFoundError signals an unknown instance or task id.
type notFoundError struct{ what, id string }

func (e notFoundError) Error() string { return e.what + " not found: " + e.id }

// ErrInstanceNotFound returns the error used for unknown instance ids.
func ErrInstanceNotFound(id string) error { return notFoundError{what: "instance", id: id} }

// ErrTaskNotFound returns the error used for unknown or delivered task ids.
func ErrTaskNotFound(id string) error { return notFoundError{what: "task", id: id} }

// IsNotFound reports whether err is an unknown instance or task.
func IsNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf)
}

// busyError rejects operations on an instance that is running a task.
type busyError struct{ id, taskID string }

func (e busyError) Error() string {
	return "instance " + e.id + " is busy with task " + e.taskID
}

// IsBusy reports whether err rejects an action on a Busy instance.
func IsBusy(err error) bool {
	var be busyError
	return errors.As(err, &be)
}

// invalidStateError rejects a transition that the state machine does not allow.
type invalidStateError struct {
	id    string
	state InstanceState
	op    string
}

func (e invalidStateError) Error() string {
	return fmt.Sprintf("cannot %s instance %s in state %s", e.op, e.id, e.state)
}

// IsInvalidState reports whether err is a rejected transition.
func IsInvalidState(err error) bool {
	var ie invalidStateError
	return errors.As(err, &ie)
}

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ kind string }

func (e tooBusyError) Error() string { return "too busy: " + e.kind }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var tb tooBusyError
	return errors.As(err, &tb)
}

// unavailableError means no instance of the requested kind can ever serve
// the task without a management action.
type unavailableError struct{ kind string }

func (e unavailableError) Error() string { return "no instances available for service " + e.kind }

// IsUnavailable reports whether err means the pool has no capacity for a kind.
func IsUnavailable(err error) bool {
	var ue unavailableError
	return errors.As(err, &ue)
}

type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "manager is shutting down" }

// ErrShuttingDown is returned for work submitted after Close started.
var ErrShuttingDown error = shuttingDownError{}

// IsShuttingDown reports whether err was caused by shutdown.
func IsShuttingDown(err error) bool {
	var sd shuttingDownError
	return errors.As(err, &sd)
}

// invalidInputError is a caller input error rejected before enqueue.
type invalidInputError struct{ msg string }

func (e invalidInputError) Error() string { return "invalid input: " + e.msg }

// ErrInvalidInput constructs an input error.
func ErrInvalidInput(msg string) error { return invalidInputError{msg: msg} }

// IsInvalidInput reports whether err is a caller input error.
func IsInvalidInput(err error) bool {
	var ie invalidInputError
	return errors.As(err, &ie)
}
