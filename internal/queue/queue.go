// Package queue holds the matchmaking pool: the set of participants waiting
// to be paired, keyed by identity.
package queue

import (
	"sync"

	"github.com/arenaplay/arena/internal/domain"
)

// Queue is a concurrency-safe pool of waiting participants. Iteration order
// of Snapshot is insertion order; re-enqueueing an identity refreshes its
// entry in place without moving it to the back.
type Queue struct {
	mu      sync.Mutex
	entries map[string]domain.QueueEntry
	order   []string
}

func New() *Queue {
	return &Queue{
		entries: make(map[string]domain.QueueEntry),
	}
}

// Enqueue inserts the entry, replacing any existing entry for the same
// identity (last write wins).
func (q *Queue) Enqueue(e domain.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[e.Identity]; !ok {
		q.order = append(q.order, e.Identity)
	}
	q.entries[e.Identity] = e
}

// Dequeue removes the entry for identity. Removing an absent identity is a
// no-op.
func (q *Queue) Dequeue(identity string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.remove(identity)
}

// Take removes all given identities atomically, but only if every one of
// them is still queued. It reports whether the removal happened. The pairing
// engine uses it so a participant who left between snapshot and pairing is
// never half-matched.
func (q *Queue) Take(identities ...string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range identities {
		if _, ok := q.entries[id]; !ok {
			return false
		}
	}
	for _, id := range identities {
		q.remove(id)
	}
	return true
}

// Snapshot returns the queued entries in insertion order. The returned slice
// is a copy; mutating it does not affect the queue.
func (q *Queue) Snapshot() []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.QueueEntry, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.entries[id])
	}
	return out
}

// Len returns the number of queued participants.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

func (q *Queue) remove(identity string) {
	if _, ok := q.entries[identity]; !ok {
		return
	}
	delete(q.entries, identity)
	for i, id := range q.order {
		if id == identity {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
