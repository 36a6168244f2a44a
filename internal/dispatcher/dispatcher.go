// Package dispatcher implements the Dispatcher: it drains the Admission
// Queue, spawns one lightweight timed goroutine per admitted task, and
// enforces the global execution concurrency cap via a semaphore. The
// dispatcher itself never blocks on a task's delay — it returns immediately
// to draining the queue.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/falconq/falconq/internal/executor"
	"github.com/falconq/falconq/internal/store"
	"github.com/falconq/falconq/pkg/types"
)

// Source is the subset of the Admission Queue the dispatcher drains.
type Source interface {
	Pop(ctx context.Context) (uuid.UUID, bool)
}

// Recorder receives dispatch lifecycle events for metrics. Nil-safe: a
// Dispatcher with no recorder attached simply skips these calls.
type Recorder interface {
	RecordClaimed(executionTime time.Time)
	RecordDone()
	RecordFailed()
}

// Config bounds the dispatcher's resource usage.
type Config struct {
	MaxConcurrentExecuting int64
	MaxSecondsToSleep      time.Duration
	ShutdownGrace          time.Duration
	WorkerID               string
}

func (c *Config) defaults() {
	if c.MaxConcurrentExecuting <= 0 {
		c.MaxConcurrentExecuting = 10
	}
	if c.MaxSecondsToSleep <= 0 {
		c.MaxSecondsToSleep = 10 * time.Minute
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
}

// Dispatcher drains hints, fetches tasks, and spawns timed workers.
type Dispatcher struct {
	queue    Source
	gateway  store.Gateway
	registry executor.Registry
	gate     *semaphore.Weighted
	cfg      Config
	logger   *slog.Logger
	recorder Recorder

	inFlight atomic.Int64
	wg       sync.WaitGroup
}

// InFlight reports how many tasks currently hold a concurrency permit and
// are executing.
func (d *Dispatcher) InFlight() int64 {
	return d.inFlight.Load()
}

// SetRecorder attaches a metrics Recorder. Call before Run.
func (d *Dispatcher) SetRecorder(r Recorder) {
	d.recorder = r
}

// New creates a Dispatcher.
func New(cfg Config, queue Source, gateway store.Gateway, registry executor.Registry, logger *slog.Logger) *Dispatcher {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:    queue,
		gateway:  gateway,
		registry: registry,
		gate:     semaphore.NewWeighted(cfg.MaxConcurrentExecuting),
		cfg:      cfg,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Run drains the queue until stopCh closes. On shutdown it stops admitting
// new hints; timed workers still sleeping abort without claiming, and
// workers that already claimed a task run to completion up to
// cfg.ShutdownGrace, after which they are abandoned.
func (d *Dispatcher) Run(stopCh <-chan struct{}) {
	ctx, cancel := contextFromStopCh(stopCh)
	defer cancel()

	for {
		id, ok := d.queue.Pop(ctx)
		if !ok {
			break
		}
		d.admit(ctx, id)
	}

	d.logger.Info("dispatcher draining, awaiting in-flight executions", "grace", d.cfg.ShutdownGrace)
	if waitWithTimeout(&d.wg, d.cfg.ShutdownGrace) {
		d.logger.Info("dispatcher stopped cleanly")
	} else {
		d.logger.Warn("shutdown grace period elapsed, abandoning in-flight executions")
	}
}

// admit fetches the task and, if still Submitted, spawns its timed worker.
func (d *Dispatcher) admit(ctx context.Context, id uuid.UUID) {
	task, err := d.gateway.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		d.logger.Error("failed to fetch admitted task", "task_id", id, "error", err)
		return
	}
	if task.Status != types.StatusSubmitted {
		return
	}

	if delay := time.Until(task.ExecutionTime); delay > d.cfg.MaxSecondsToSleep {
		// Beyond the configured horizon: spawning a timed worker now would
		// hold a sleeping goroutine open for the full delay. Discard the
		// hint and trust the range poller, whose lookahead window is bounded
		// by poll_interval, to re-admit this task once it is within horizon.
		d.logger.Debug("hint beyond max_seconds_to_sleep horizon, discarding",
			"task_id", id, "delay", delay, "max_seconds_to_sleep", d.cfg.MaxSecondsToSleep)
		return
	}

	d.wg.Add(1)
	go d.runTimedWorker(ctx, task)
}

// runTimedWorker waits out the task's delay, acquires a concurrency permit,
// claims, executes, and writes the terminal status. Steps within one timed
// worker are strictly sequential; across timed workers there is no ordering
// guarantee.
func (d *Dispatcher) runTimedWorker(ctx context.Context, task *types.Task) {
	defer d.wg.Done()

	delay := time.Until(task.ExecutionTime)
	if delay < 0 {
		delay = 0
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		// Shutdown while still sleeping: abort without claiming.
		return
	case <-timer.C:
	}

	if err := d.gate.Acquire(ctx, 1); err != nil {
		// Context cancelled while waiting for a permit: abort without claiming.
		return
	}
	defer d.gate.Release(1)

	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	d.claimAndExecute(ctx, task.ID)
}

func (d *Dispatcher) claimAndExecute(ctx context.Context, id uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("recovered from panic during execution, marking failed", "task_id", id, "panic", r)
			d.markFailed(id)
		}
	}()

	task, err := d.gateway.Claim(ctx, id, d.cfg.WorkerID)
	if err != nil {
		if errors.Is(err, store.ErrLost) {
			return // routine: another worker won the race
		}
		d.logger.Error("claim failed", "task_id", id, "error", err)
		return
	}
	if d.recorder != nil {
		d.recorder.RecordClaimed(task.ExecutionTime)
	}

	handler, err := d.registry.Lookup(task.TaskType)
	if err != nil {
		d.logger.Error("no handler for claimed task, marking failed", "task_id", id, "error", err)
		d.markFailed(id)
		return
	}

	// Use a background context for the handler: no per-task timeout is
	// imposed, and a cancelled shutdown context must not abort a task that
	// has already won its claim.
	if err := handler(context.Background(), task); err != nil {
		d.logger.Debug("handler failed", "task_id", id, "error", err)
		d.markFailed(id)
		return
	}

	if err := d.gateway.MarkDone(context.Background(), id); err != nil {
		d.logger.Error("failed to mark done", "task_id", id, "error", err)
		return
	}
	if d.recorder != nil {
		d.recorder.RecordDone()
	}
}

func (d *Dispatcher) markFailed(id uuid.UUID) {
	if err := d.gateway.MarkFailed(context.Background(), id); err != nil {
		d.logger.Error("failed to mark failed", "task_id", id, "error", err)
		return
	}
	if d.recorder != nil {
		d.recorder.RecordFailed()
	}
}

func contextFromStopCh(stopCh <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// waitWithTimeout returns true if wg finished before timeout elapsed.
func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
