package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRun_BoundsConcurrency(t *testing.T) {
	lim := New(map[string]LaneConfig{"llm": {MaxConcurrent: 2}})

	var active, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Run(context.Background(), lim, "llm", func(ctx context.Context) (struct{}, error) {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				active.Add(-1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestRun_CancelledWhileQueued(t *testing.T) {
	lim := New(map[string]LaneConfig{"llm": {MaxConcurrent: 1}})

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = Run(context.Background(), lim, "llm", func(ctx context.Context) (struct{}, error) {
			close(started)
			<-release
			return struct{}{}, nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, lim, "llm", func(ctx context.Context) (struct{}, error) {
		t.Error("fn must not run after cancellation")
		return struct{}{}, nil
	})
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	close(release)
}

func TestRun_MinSpacingBetweenStarts(t *testing.T) {
	lim := New(map[string]LaneConfig{"biblio": {MaxConcurrent: 1, MinSpacingMS: 50}})

	var starts []time.Time
	var mu sync.Mutex
	for i := 0; i < 3; i++ {
		_, _ = Run(context.Background(), lim, "biblio", func(ctx context.Context) (struct{}, error) {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			return struct{}{}, nil
		})
	}

	if len(starts) != 3 {
		t.Fatalf("expected 3 starts, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < 40*time.Millisecond {
			t.Errorf("start %d followed previous by %v, want >= ~50ms", i, gap)
		}
	}
}

func TestRun_UnknownLaneDefaults(t *testing.T) {
	lim := New(nil)
	v, err := Run(context.Background(), lim, "adhoc", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Errorf("Run on unregistered lane = (%d, %v), want (42, nil)", v, err)
	}
}
