// Package notify implements the Notification Subscriber: a long-lived
// listener on Postgres's new_task broadcast channel that forwards task-id
// hints into the Admission Queue. It never queries the store; the
// Dispatcher fetches the row. Delivery is best-effort — the Range Poller
// compensates for anything lost.
package notify

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const channelName = "new_task"

// Sink is the subset of queue.Queue the subscriber pushes into.
type Sink interface {
	PushLow(id uuid.UUID) error
}

// DropRecorder receives a count of hints dropped because the admission
// queue had no free capacity.
type DropRecorder interface {
	RecordDropped(source string)
}

// Subscriber holds the LISTEN connection and forwards notifications.
type Subscriber struct {
	connString string
	sink       Sink
	logger     *slog.Logger
	recorder   DropRecorder

	minBackoff time.Duration
	maxBackoff time.Duration
}

// Config controls reconnect backoff.
type Config struct {
	ConnString string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (c *Config) defaults() {
	if c.MinBackoff <= 0 {
		c.MinBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// New creates a Subscriber. Call Run to start listening.
func New(cfg Config, sink Sink, logger *slog.Logger) *Subscriber {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		connString: cfg.ConnString,
		sink:       sink,
		logger:     logger.With("component", "notify"),
		minBackoff: cfg.MinBackoff,
		maxBackoff: cfg.MaxBackoff,
	}
}

// SetRecorder attaches a metrics DropRecorder. Call before Run.
func (s *Subscriber) SetRecorder(r DropRecorder) {
	s.recorder = r
}

// Run listens for notifications until stopCh is closed. On connection loss
// it reconnects with exponential backoff bounded by maxBackoff; the Range
// Poller's next tick compensates for anything missed during the gap.
func (s *Subscriber) Run(stopCh <-chan struct{}) {
	reportProblem := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Warn("listener event", "event", listenerEventName(ev), "error", err)
		}
	}

	listener := pq.NewListener(s.connString, s.minBackoff, s.maxBackoff, reportProblem)
	defer listener.Close()

	// Listen blocks until a connection is established, so wait for it
	// alongside stopCh; closing the listener on return unblocks it.
	listenErr := make(chan error, 1)
	go func() { listenErr <- listener.Listen(channelName) }()
	select {
	case <-stopCh:
		s.logger.Info("subscriber stopped")
		return
	case err := <-listenErr:
		if err != nil {
			s.logger.Error("failed to listen on channel", "channel", channelName, "error", err)
			return
		}
	}
	s.logger.Info("subscriber listening", "channel", channelName)

	for {
		select {
		case <-stopCh:
			s.logger.Info("subscriber stopped")
			return

		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Connection re-established; the poller covers any gap.
				continue
			}
			s.forward(n.Extra)

		case <-time.After(90 * time.Second):
			// lib/pq recommends a periodic ping to detect a half-open
			// connection faster than TCP keepalive would.
			go func() { _ = listener.Ping() }()
		}
	}
}

func (s *Subscriber) forward(payload string) {
	id, err := uuid.Parse(payload)
	if err != nil {
		s.logger.Warn("dropping malformed notification payload", "payload", payload, "error", err)
		return
	}
	if err := s.sink.PushLow(id); err != nil {
		s.logger.Debug("admission queue full, dropping subscriber hint", "task_id", id)
		if s.recorder != nil {
			s.recorder.RecordDropped("subscriber")
		}
	}
}

func listenerEventName(ev pq.ListenerEventType) string {
	switch ev {
	case pq.ListenerEventConnected:
		return "connected"
	case pq.ListenerEventDisconnected:
		return "disconnected"
	case pq.ListenerEventReconnected:
		return "reconnected"
	case pq.ListenerEventConnectionAttemptFailed:
		return "connection_attempt_failed"
	default:
		return "unknown"
	}
}
