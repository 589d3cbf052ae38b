package queue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arenaplay/arena/internal/domain"
	"github.com/arenaplay/arena/internal/queue"
)

func TestQueue_EnqueueReplaces(t *testing.T) {
	t.Parallel()

	q := queue.New()
	q.Enqueue(domain.QueueEntry{Identity: "u1", Rating: 1500})
	q.Enqueue(domain.QueueEntry{Identity: "u2", Rating: 1600})
	q.Enqueue(domain.QueueEntry{Identity: "u1", Rating: 1550})

	require.Equal(t, 2, q.Len(), "re-join must replace, not duplicate")

	snap := q.Snapshot()
	require.Equal(t, "u1", snap[0].Identity, "re-join keeps the original position")
	require.Equal(t, 1550, snap[0].Rating, "re-join refreshes the rating")
	require.Equal(t, "u2", snap[1].Identity)
}

func TestQueue_SnapshotInsertionOrder(t *testing.T) {
	t.Parallel()

	q := queue.New()
	ids := []string{"u3", "u1", "u5", "u2"}
	for i, id := range ids {
		q.Enqueue(domain.QueueEntry{Identity: id, Rating: 1000 + i})
	}

	snap := q.Snapshot()
	require.Len(t, snap, len(ids))
	for i, id := range ids {
		require.Equal(t, id, snap[i].Identity)
	}
}

func TestQueue_DequeueAbsent(t *testing.T) {
	t.Parallel()

	q := queue.New()
	q.Enqueue(domain.QueueEntry{Identity: "u1", Rating: 1500})

	q.Dequeue("nobody")
	require.Equal(t, 1, q.Len())

	q.Dequeue("u1")
	q.Dequeue("u1")
	require.Equal(t, 0, q.Len())
}

func TestQueue_Take(t *testing.T) {
	t.Parallel()

	q := queue.New()
	q.Enqueue(domain.QueueEntry{Identity: "u1", Rating: 1500})
	q.Enqueue(domain.QueueEntry{Identity: "u2", Rating: 1520})
	q.Enqueue(domain.QueueEntry{Identity: "u3", Rating: 1540})

	require.False(t, q.Take("u1", "gone"), "missing identity must fail the whole take")
	require.Equal(t, 3, q.Len(), "a failed take removes nothing")

	require.True(t, q.Take("u1", "u3"))
	require.Equal(t, 1, q.Len())

	snap := q.Snapshot()
	require.Equal(t, "u2", snap[0].Identity)
}
