// Package poller implements the Range Poller: a fixed-interval scan of the
// store for Submitted tasks due soon, fed into the Admission Queue with
// higher priority than the Notification Subscriber. This is the recovery
// mechanism for dropped hints and missed notifications — starving it risks
// permanent loss, so its pushes use the high-priority channel.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Sink is the subset of queue.Queue the poller pushes into.
type Sink interface {
	PushHigh(id uuid.UUID) error
}

// Source is the subset of store.Gateway the poller reads from.
type Source interface {
	FindUpcoming(ctx context.Context, window time.Duration, limit int) ([]uuid.UUID, error)
}

// Config controls the poller's tick interval, lookahead window, and page size.
type Config struct {
	Interval time.Duration
	PageSize int
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.PageSize <= 0 {
		c.PageSize = 500
	}
}

// DropRecorder receives a count of hints dropped because the admission
// queue had no free capacity.
type DropRecorder interface {
	RecordDropped(source string)
}

// Poller runs the fixed-interval scan.
type Poller struct {
	source   Source
	sink     Sink
	cfg      Config
	logger   *slog.Logger
	recorder DropRecorder
}

// New creates a Poller. Call Run to start ticking.
func New(cfg Config, source Source, sink Sink, logger *slog.Logger) *Poller {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{source: source, sink: sink, cfg: cfg, logger: logger.With("component", "poller")}
}

// SetRecorder attaches a metrics DropRecorder. Call before Run.
func (p *Poller) SetRecorder(r DropRecorder) {
	p.recorder = r
}

// Run ticks every cfg.Interval until stopCh is closed. The lookahead window
// for FindUpcoming equals the tick interval itself.
func (p *Poller) Run(stopCh <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Interval)
	defer cancel()

	ids, err := p.source.FindUpcoming(ctx, p.cfg.Interval, p.cfg.PageSize)
	if err != nil {
		p.logger.Error("poll tick failed, will retry next interval", "error", err)
		return
	}

	for _, id := range ids {
		if err := p.sink.PushHigh(id); err != nil {
			p.logger.Debug("admission queue full, poller hint dropped until next tick", "task_id", id)
			if p.recorder != nil {
				p.recorder.RecordDropped("poller")
			}
		}
	}
}
