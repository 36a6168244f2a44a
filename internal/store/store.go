// Package store is the Datastore Gateway: the only component that talks to
// Postgres. Every operation is a short transaction; row locks are taken with
// SKIP LOCKED so concurrent claimers never serialize behind one another.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/falconq/falconq/pkg/types"
)

// ErrNotFound is returned by Get when the row does not exist, and wrapped by
// MarkDone/MarkFailed when no StartedExecuting row matched. Claim reports a
// missing row as ErrLost instead.
var ErrNotFound = errors.New("store: task not found")

// ErrLost is returned by Claim when the task was not won: the row was
// absent, not Submitted, or locked by a concurrent claimer. Routine, not
// logged as an error by callers.
var ErrLost = errors.New("store: claim lost")

// DeleteOutcome is the result of a conditional delete.
type DeleteOutcome int

const (
	Deleted DeleteOutcome = iota
	NotDeletable
	NotFoundOutcome
)

// Filter narrows List by status and/or task type. Zero values mean "any".
type Filter struct {
	Status   types.Status
	TaskType types.TaskType
}

// Gateway is the Datastore Gateway's interface. The dispatch engine depends
// only on this interface, never on the concrete Postgres implementation —
// tests substitute an in-memory fake that satisfies the same exactly-once
// claim semantics.
type Gateway interface {
	Insert(ctx context.Context, task *types.Task) error
	Get(ctx context.Context, id uuid.UUID) (*types.Task, error)
	List(ctx context.Context, filter Filter) ([]*types.Task, error)
	DeleteIfSubmitted(ctx context.Context, id uuid.UUID) (DeleteOutcome, types.Status, error)
	FindUpcoming(ctx context.Context, window time.Duration, limit int) ([]uuid.UUID, error)
	Claim(ctx context.Context, id uuid.UUID, workerID string) (*types.Task, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}
