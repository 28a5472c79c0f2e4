// Package manager owns the pool of browser instances and dispatches
// generation tasks onto them. It is structured into small files by concern:
//
//   - manager.go: core Manager type, Run, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: instance and task states, InstanceInfo, TaskSpec, Result.
//   - client.go: the Client capability each instance drives.
//   - errors.go: reason codes and error predicates (IsBusy, IsTooBusy, ...).
//   - registry.go: the instance table and the single state transition point.
//   - queue.go: FIFO task queue.
//   - submit.go: Submit/Wait/Generate and result delivery.
//   - dispatch.go: assignment passes and the retry policy.
//   - execute.go: per-task execution, cleanup, deadline handling.
//   - lifecycle.go: start, automatic restart and backoff.
//   - health.go: periodic liveness probes.
//   - management.go: create/start/stop/restart/remove.
//   - status_report.go, persist.go, metrics.go, shutdown.go.
//
// Instances and tasks are guarded by one mutex. Client calls never run under
// it: each assignment hands the task to its own goroutine, which reports back
// through complete or abort. Work carries the instance epoch it was started
// with, and results from a superseded epoch are dropped.
package manager
