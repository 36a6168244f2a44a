// Package executor maps each task type to the handler that performs its
// side effect once claimed; the dispatcher runs the handler and writes the
// terminal status. Handlers are pure {Ok, Err} functions — retrying a
// failed handler is out of scope.
package executor

import (
	"context"
	"fmt"

	"github.com/falconq/falconq/pkg/types"
)

// Handler performs a task's side effect. Returning a non-nil error marks
// the task Failed; returning nil marks it Done. Neither outcome is retried.
type Handler func(ctx context.Context, task *types.Task) error

// Registry maps task types to their handler.
type Registry map[types.TaskType]Handler

// NewRegistry builds the default registry for foo/bar/baz. Production
// deployments register their real task bodies the same way; these three are
// the example handlers.
func NewRegistry() Registry {
	return Registry{
		types.TaskFoo: noopHandler,
		types.TaskBar: noopHandler,
		types.TaskBaz: noopHandler,
	}
}

func noopHandler(ctx context.Context, task *types.Task) error {
	return nil
}

// Lookup returns the handler for t, or an error if none is registered.
func (r Registry) Lookup(t types.TaskType) (Handler, error) {
	h, ok := r[t]
	if !ok {
		return nil, fmt.Errorf("executor: no handler registered for task type %q", t)
	}
	return h, nil
}
