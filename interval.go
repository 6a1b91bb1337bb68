package entitysync

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Interval expresses a tick period in milliseconds.
type Interval struct {
	Ms int64
}

// FromHz converts a tick rate in Hz into the millisecond period an
// IntervalRunner expects.
func FromHz(hz float64) Interval {
	return Interval{Ms: int64(1000 / hz)}
}

// IntervalRunner is the collaborator interface named in §6: an injectable
// scheduler that calls tick on a fixed interval until stopped. The core
// itself never sleeps or spins; start/stop are its only suspension points,
// delegated entirely to this collaborator.
type IntervalRunner interface {
	Start()
	Stop()
	IsRunning() bool
}

// TickerRunner is the default IntervalRunner. It generalizes the teacher's
// debounced time.AfterFunc scheduling in TrackedSession into a repeating,
// injectable runner, gated by a token-bucket rate.Limiter so an
// occasionally-slow tick function cannot queue up unbounded catch-up ticks.
type TickerRunner struct {
	tick     func(nowMs int64)
	interval Interval
	clock    Clock
	limiter  *rate.Limiter

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewTickerRunner creates a runner that calls tick(clock.NowMs()) on every
// interval while running.
func NewTickerRunner(tick func(nowMs int64), interval Interval, clock Clock) *TickerRunner {
	hz := 1000.0 / float64(interval.Ms)
	return &TickerRunner{
		tick:     tick,
		interval: interval,
		clock:    clock,
		limiter:  rate.NewLimiter(rate.Limit(hz), 1),
	}
}

// Start begins ticking in a background goroutine. Calling Start while
// already running is a no-op.
func (r *TickerRunner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.loop()
}

func (r *TickerRunner) loop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(time.Duration(r.interval.Ms) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.limiter.Wait(context.Background()); err != nil {
				continue
			}
			r.tick(r.clock.NowMs())
		}
	}
}

// Stop halts the runner at the next tick boundary; an in-flight tick
// completes. Calling Stop while not running is a no-op.
func (r *TickerRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()
	<-r.doneCh
}

// IsRunning reports whether the runner is currently ticking.
func (r *TickerRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
