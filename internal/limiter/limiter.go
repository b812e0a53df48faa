// Package limiter implements the lane-based concurrency substrate: each
// named lane admits at most MaxConcurrent concurrent callers, FIFO, with an
// optional minimum spacing between admitted starts. It carries no internal
// timeout — the caller's context governs cancellation while queued.
package limiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LaneConfig configures one named lane.
type LaneConfig struct {
	MaxConcurrent int
	MinSpacingMS  int
}

type lane struct {
	slots chan struct{}
	pace  *rate.Limiter // nil when MinSpacingMS == 0
}

// Limiter is a process-global registry of named lanes. The zero value is
// not usable; construct with New.
type Limiter struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// New builds a Limiter from a name->LaneConfig map. Lanes not present in
// cfg are created on first use with a single concurrent slot and no spacing.
func New(cfg map[string]LaneConfig) *Limiter {
	l := &Limiter{lanes: make(map[string]*lane, len(cfg))}
	for name, c := range cfg {
		l.lanes[name] = newLane(c)
	}
	return l
}

func newLane(c LaneConfig) *lane {
	max := c.MaxConcurrent
	if max <= 0 {
		max = 1
	}
	ln := &lane{slots: make(chan struct{}, max)}
	if c.MinSpacingMS > 0 {
		interval := float64(c.MinSpacingMS) / 1000.0
		ln.pace = rate.NewLimiter(rate.Limit(1.0/interval), 1)
	}
	return ln
}

func (l *Limiter) laneFor(name string) *lane {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln, ok := l.lanes[name]
	if !ok {
		ln = newLane(LaneConfig{MaxConcurrent: 1})
		l.lanes[name] = ln
	}
	return ln
}

// Run admits fn onto the named lane: it blocks (respecting ctx) until a
// concurrency slot is free and, if the lane has spacing configured, until
// the spacing interval has elapsed since the last admitted start. The slot
// is released when fn returns.
func Run[T any](ctx context.Context, l *Limiter, laneName string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	ln := l.laneFor(laneName)

	select {
	case ln.slots <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	defer func() { <-ln.slots }()

	if ln.pace != nil {
		if err := ln.pace.Wait(ctx); err != nil {
			return zero, err
		}
	}

	return fn(ctx)
}
