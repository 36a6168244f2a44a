// Package engine wires the Datastore Gateway, Notification Subscriber, Range
// Poller, Admission Queue, and Dispatcher into a single process with one
// Start/Stop lifecycle.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/falconq/falconq/internal/dispatcher"
	"github.com/falconq/falconq/internal/executor"
	"github.com/falconq/falconq/internal/notify"
	"github.com/falconq/falconq/internal/poller"
	"github.com/falconq/falconq/internal/queue"
	"github.com/falconq/falconq/internal/store"
)

// Config bounds every engine tunable.
type Config struct {
	QueueCapacity          int
	MaxConcurrentExecuting int64
	MaxSecondsToSleep      time.Duration
	PollInterval           time.Duration
	PollPageSize           int
	ShutdownGrace          time.Duration
	WorkerID               string

	NotifyMinBackoff time.Duration
	NotifyMaxBackoff time.Duration
}

func (c *Config) defaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.MaxConcurrentExecuting <= 0 {
		c.MaxConcurrentExecuting = 10
	}
	if c.MaxSecondsToSleep <= 0 {
		c.MaxSecondsToSleep = 10 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
	if c.WorkerID == "" {
		c.WorkerID = "falconq-worker"
	}
}

// Engine is the executor process: subscriber + poller feed the admission
// queue, the dispatcher drains it.
type Engine struct {
	cfg Config

	queue      *queue.Queue
	subscriber *notify.Subscriber
	poller     *poller.Poller
	dispatcher *dispatcher.Dispatcher
	recorder   Recorder

	stopCh chan struct{}
	wg     sync.WaitGroup

	logger *slog.Logger
}

// New builds an Engine. connString is used only by the Notification
// Subscriber, which requires lib/pq's own connection rather than a pgx pool.
func New(cfg Config, gateway store.Gateway, registry executor.Registry, connString string, logger *slog.Logger) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	q := queue.New(cfg.QueueCapacity)

	sub := notify.New(notify.Config{
		ConnString: connString,
		MinBackoff: cfg.NotifyMinBackoff,
		MaxBackoff: cfg.NotifyMaxBackoff,
	}, q, logger)

	pol := poller.New(poller.Config{
		Interval: cfg.PollInterval,
		PageSize: cfg.PollPageSize,
	}, gateway, q, logger)

	disp := dispatcher.New(dispatcher.Config{
		MaxConcurrentExecuting: cfg.MaxConcurrentExecuting,
		MaxSecondsToSleep:      cfg.MaxSecondsToSleep,
		ShutdownGrace:          cfg.ShutdownGrace,
		WorkerID:               cfg.WorkerID,
	}, q, gateway, registry, logger)

	return &Engine{
		cfg:        cfg,
		queue:      q,
		subscriber: sub,
		poller:     pol,
		dispatcher: disp,
		stopCh:     make(chan struct{}),
		logger:     logger.With("component", "engine"),
	}
}

// GaugeRecorder receives periodic gauge snapshots: admission queue depth per
// priority and the number of tasks currently executing.
type GaugeRecorder interface {
	SetQueueDepth(priority string, depth int)
	SetExecutingInFlight(n int)
}

// Recorder is every metrics sink the engine's collaborators can report
// through. *metrics.Collector satisfies it.
type Recorder interface {
	dispatcher.Recorder
	poller.DropRecorder
	notify.DropRecorder
	GaugeRecorder
}

// SetRecorder attaches a metrics recorder to the engine's dispatcher,
// poller, and subscriber; Start then also runs a background loop reporting
// queue depth and in-flight gauges to it. Call before Start.
func (e *Engine) SetRecorder(r Recorder) {
	e.dispatcher.SetRecorder(r)
	e.poller.SetRecorder(r)
	e.subscriber.SetRecorder(r)
	e.recorder = r
}

// Start launches the subscriber, poller, and dispatcher loops and returns
// immediately. Call Stop to shut down.
func (e *Engine) Start() {
	e.logger.Info("engine starting",
		"max_concurrent_executing", e.cfg.MaxConcurrentExecuting,
		"poll_interval", e.cfg.PollInterval,
		"queue_capacity", e.cfg.QueueCapacity,
	)

	e.wg.Add(3)
	go func() { defer e.wg.Done(); e.subscriber.Run(e.stopCh) }()
	go func() { defer e.wg.Done(); e.poller.Run(e.stopCh) }()
	go func() { defer e.wg.Done(); e.dispatcher.Run(e.stopCh) }()

	if e.recorder != nil {
		e.wg.Add(1)
		go func() { defer e.wg.Done(); e.reportGauges() }()
	}
}

// reportGauges samples the admission queue depth and in-flight execution
// count every second until stopCh closes.
func (e *Engine) reportGauges() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.recorder.SetQueueDepth("high", e.queue.HighLen())
			e.recorder.SetQueueDepth("low", e.queue.LowLen())
			e.recorder.SetExecutingInFlight(int(e.dispatcher.InFlight()))
		}
	}
}

// Stop signals every loop to stop admitting new work and blocks until they
// exit or ctx is done. The dispatcher itself already bounds how long it
// waits for in-flight executions by cfg.ShutdownGrace; ctx is an outer
// caller-side bound on top of that.
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("engine stopping")
	close(e.stopCh)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("engine stop deadline exceeded, some loops may still be draining")
		return ctx.Err()
	}
}
