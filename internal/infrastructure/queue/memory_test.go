package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func receive(t *testing.T, q Queue, within time.Duration) (Job, bool) {
	t.Helper()
	select {
	case job := <-q.Jobs():
		return job, true
	case <-time.After(within):
		return Job{}, false
	}
}

func TestJobKey(t *testing.T) {
	job := Job{Kind: KindPoll, ID: "4b0c"}
	assert.Equal(t, "poll:4b0c", job.Key())

	parsed, err := ParseKey(job.Key())
	require.NoError(t, err)
	assert.Equal(t, job, parsed)

	for _, bad := range []string{"", "poll", ":id", "poll:"} {
		_, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers after delay", func(t *testing.T) {
		q := NewMemoryQueue(4, zap.NewNop())
		defer q.Close()

		start := time.Now()
		require.NoError(t, q.Enqueue(ctx, Job{Kind: KindPoll, ID: "a"}, 30*time.Millisecond))

		job, ok := receive(t, q, time.Second)
		require.True(t, ok)
		assert.Equal(t, "a", job.ID)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("deduplicates pending keys", func(t *testing.T) {
		q := NewMemoryQueue(4, zap.NewNop())
		defer q.Close()

		require.NoError(t, q.Enqueue(ctx, Job{Kind: KindPoll, ID: "a"}, 50*time.Millisecond))
		require.NoError(t, q.Enqueue(ctx, Job{Kind: KindPoll, ID: "a"}, 80*time.Millisecond))

		pending, err := q.Pending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, pending)

		_, ok := receive(t, q, time.Second)
		require.True(t, ok)
		_, ok = receive(t, q, 150*time.Millisecond)
		assert.False(t, ok, "duplicate key must be delivered once")
	})

	t.Run("earlier enqueue wins", func(t *testing.T) {
		q := NewMemoryQueue(4, zap.NewNop())
		defer q.Close()

		require.NoError(t, q.Enqueue(ctx, Job{Kind: KindWebhook, ID: "tx"}, time.Hour))
		require.NoError(t, q.Enqueue(ctx, Job{Kind: KindWebhook, ID: "tx"}, 0))

		job, ok := receive(t, q, time.Second)
		require.True(t, ok)
		assert.Equal(t, KindWebhook, job.Kind)
	})

	t.Run("different kinds do not collide", func(t *testing.T) {
		q := NewMemoryQueue(4, zap.NewNop())
		defer q.Close()

		require.NoError(t, q.Enqueue(ctx, Job{Kind: KindPoll, ID: "x"}, 0))
		require.NoError(t, q.Enqueue(ctx, Job{Kind: KindWebhook, ID: "x"}, 0))

		_, ok := receive(t, q, time.Second)
		require.True(t, ok)
		_, ok = receive(t, q, time.Second)
		require.True(t, ok)
	})

	t.Run("rejects enqueue after close", func(t *testing.T) {
		q := NewMemoryQueue(4, zap.NewNop())
		require.NoError(t, q.Enqueue(ctx, Job{Kind: KindPoll, ID: "a"}, time.Hour))
		require.NoError(t, q.Close())

		assert.ErrorIs(t, q.Enqueue(ctx, Job{Kind: KindPoll, ID: "b"}, 0), ErrClosed)
		pending, _ := q.Pending(ctx)
		assert.Zero(t, pending)
	})
}
