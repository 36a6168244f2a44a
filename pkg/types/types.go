// Package types defines the core domain model shared by every falconq
// component: the store, the dispatch engine, and the HTTP API.
package types

import (
	"time"

	"github.com/google/uuid"
)

// TaskType selects the side effect a task performs once claimed.
type TaskType string

const (
	TaskFoo TaskType = "foo"
	TaskBar TaskType = "bar"
	TaskBaz TaskType = "baz"
)

// Valid reports whether t is one of the recognized task types.
func (t TaskType) Valid() bool {
	switch t {
	case TaskFoo, TaskBar, TaskBaz:
		return true
	default:
		return false
	}
}

// Status is a task's position in its lifecycle state machine.
type Status string

const (
	StatusSubmitted        Status = "submitted"
	StatusStartedExecuting Status = "started_executing"
	StatusDone             Status = "done"
	StatusFailed           Status = "failed"
	StatusDeleted          Status = "deleted"
)

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusDeleted:
		return true
	default:
		return false
	}
}

// Task is the sole durable entity in the system. The store is the single
// source of truth; any in-memory copy (admission hints, dispatcher fetches)
// is an ephemeral view that must be re-read inside the claim transaction
// before it is trusted.
type Task struct {
	ID            uuid.UUID
	CreatedAt     time.Time
	Status        Status
	ExecutionTime time.Time
	TaskType      TaskType

	StartedExecutingAt *time.Time
	CompletedAt        *time.Time
	FailedAt           *time.Time
	DeletedAt          *time.Time

	// WorkerID records which process's claim won, for diagnostics only.
	// It participates in no invariant and is never read back by the engine.
	WorkerID string

	// RetryCount is reserved for a future lease/reaper and stays zero in
	// this version; handler failures are never retried.
	RetryCount int
}
