// Package matchmaking pairs queued participants by skill rating on a fixed
// cadence.
package matchmaking

import (
	"context"
	"log/slog"
	"time"

	"github.com/arenaplay/arena/internal/domain"
	"github.com/arenaplay/arena/internal/match"
	"github.com/arenaplay/arena/internal/queue"
	"github.com/arenaplay/arena/internal/telemetry"
)

const (
	defaultInterval  = 2 * time.Second
	defaultThreshold = 200
)

type Config struct {
	Queue   *queue.Queue
	Matches *match.Manager

	// Interval is the pairing cadence. Zero means the default of 2 seconds.
	Interval time.Duration

	// Threshold is the maximum rating distance between two participants for
	// them to be paired. Zero means the default of 200.
	Threshold int
}

// Engine scans the queue once per interval and greedily forms pairs within
// the rating threshold. First fit, not best fit: the queue stays small in
// head-to-head matchmaking, so O(n²) with bounded latency beats an optimal
// assignment.
type Engine struct {
	queue     *queue.Queue
	matches   *match.Manager
	interval  time.Duration
	threshold int
}

func NewEngine(c Config) *Engine {
	e := &Engine{
		queue:     c.Queue,
		matches:   c.Matches,
		interval:  c.Interval,
		threshold: c.Threshold,
	}
	if e.interval <= 0 {
		e.interval = defaultInterval
	}
	if e.threshold <= 0 {
		e.threshold = defaultThreshold
	}
	return e
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(e.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Tick(ctx)
		}
	}
}

// Tick performs one pairing pass. Entries left unmatched persist untouched to
// the next tick; nobody is ever half-matched.
func (e *Engine) Tick(ctx context.Context) {
	entries := e.queue.Snapshot()
	telemetry.QueueSize.Set(float64(len(entries)))

	if len(entries) < 2 {
		return
	}

	matched := make(map[string]bool, len(entries))
	for i := range entries {
		if matched[entries[i].Identity] {
			continue
		}
		for j := i + 1; j < len(entries); j++ {
			if matched[entries[j].Identity] {
				continue
			}
			if abs(entries[i].Rating-entries[j].Rating) > e.threshold {
				continue
			}

			matched[entries[i].Identity] = true
			matched[entries[j].Identity] = true
			e.form(ctx, entries[i], entries[j])
			break
		}
	}
}

// form removes both entries and hands them to the lifecycle manager. Take is
// atomic: if either participant left the queue after the snapshot, neither is
// removed and no match is created. If creation itself fails (an identity raced
// back into the queue while already bound to a match), whoever is still free
// is handed back so the next tick can pair them.
func (e *Engine) form(ctx context.Context, a, b domain.QueueEntry) {
	if !e.queue.Take(a.Identity, b.Identity) {
		return
	}

	if _, err := e.matches.Create(ctx, a, b); err != nil {
		for _, ent := range []domain.QueueEntry{a, b} {
			if !e.matches.Active(ent.Identity) {
				e.queue.Enqueue(ent)
			}
		}
		slog.WarnContext(ctx, "matchmaking: create match failed",
			"a", a.Identity,
			"b", b.Identity,
			"error", err,
		)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
