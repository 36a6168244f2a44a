package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/falconq/falconq/internal/queue"
)

func TestQueuePopPrefersHighPriority(t *testing.T) {
	q := queue.New(8)

	low := uuid.New()
	high := uuid.New()

	require.NoError(t, q.PushLow(low))
	require.NoError(t, q.PushHigh(high))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, high, got, "poller hint must be preferred over subscriber hint")

	got, ok = q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, low, got)
}

func TestQueuePushLowDropsOnFull(t *testing.T) {
	q := queue.New(2) // low capacity is 1

	require.NoError(t, q.PushLow(uuid.New()))
	err := q.PushLow(uuid.New())
	assert.ErrorIs(t, err, queue.ErrFull)
}

func TestQueuePushHighDropsOnFull(t *testing.T) {
	q := queue.New(2) // high capacity is 1

	require.NoError(t, q.PushHigh(uuid.New()))
	err := q.PushHigh(uuid.New())
	assert.ErrorIs(t, err, queue.ErrFull)
}

func TestQueuePopRespectsContextCancellation(t *testing.T) {
	q := queue.New(4)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}
