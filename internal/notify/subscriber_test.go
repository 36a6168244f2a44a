package notify_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/falconq/falconq/internal/notify"
)

type fakeSink struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (s *fakeSink) PushLow(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

func (s *fakeSink) seen() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, len(s.ids))
	copy(out, s.ids)
	return out
}

// TestNewAppliesBackoffDefaults exercises the Config.defaults path (no
// backoff values given) and checks that New still returns a Subscriber;
// the defaulted backoff values are unexported and not inspected here.
func TestNewAppliesBackoffDefaults(t *testing.T) {
	sink := &fakeSink{}
	sub := notify.New(notify.Config{ConnString: "postgres://unused/db"}, sink, nil)
	assert.NotNil(t, sub)
}

// TestRunStopsOnStopCh confirms the listener loop exits promptly once
// stopCh closes, even though it never manages to connect (no real Postgres
// instance is reachable in this test).
func TestRunStopsOnStopCh(t *testing.T) {
	sink := &fakeSink{}
	sub := notify.New(notify.Config{
		ConnString: "postgres://nonexistent-host:5432/falconq?sslmode=disable",
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 50 * time.Millisecond,
	}, sink, nil)

	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() { sub.Run(stopCh); close(done) }()

	close(stopCh)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop within the timeout")
	}

	assert.Empty(t, sink.seen())
}
