// Package scheduler paces bursts of caller work against a rate budget.
//
// At most Limit items are admitted per Period. An admitted item is released
// after a random jitter in [0, Period/2) so that a cycle does not start all
// of its work at the same instant. Items beyond the budget wait in a FIFO
// queue for the next cycle. The scheduler never runs the work itself; it
// only decides when an item may proceed.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Config is the rate budget of a scheduler.
type Config struct {
	// Disabled releases every item as soon as it is enqueued.
	Disabled bool
	Limit    int
	Period   time.Duration
}

func (c Config) Validate() error {
	if c.Disabled {
		return nil
	}
	if c.Limit < 1 {
		return fmt.Errorf("scheduler limit must be at least 1, got: %d", c.Limit)
	}
	if c.Period <= 0 {
		return fmt.Errorf("scheduler period must be positive, got: %v", c.Period)
	}
	return nil
}

// Item is one unit of work waiting for admission.
type Item struct {
	Enqueued time.Time

	resolve  func()
	started  atomic.Bool
	resolved atomic.Bool
	done     chan struct{}
}

// Started reports whether the item has been admitted.
func (it *Item) Started() bool { return it.started.Load() }

// Resolved reports whether the item has been released.
func (it *Item) Resolved() bool { return it.resolved.Load() }

// Done is closed when the item is released.
func (it *Item) Done() <-chan struct{} { return it.done }

// Wait blocks until the item is released or ctx is done.
func (it *Item) Wait(ctx context.Context) error {
	select {
	case <-it.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithJitter replaces the random release delay. fn receives Period/2.
func WithJitter(fn func(max time.Duration) time.Duration) Option {
	return func(s *Scheduler) { s.jitter = fn }
}

// Scheduler admits items according to its Config. It is safe for
// concurrent use.
type Scheduler struct {
	name   string
	cfg    Config
	logger hclog.Logger
	jitter func(time.Duration) time.Duration

	mu       sync.Mutex
	queue    []*Item
	inFlight int
	// admitted counts admissions in the current period.
	admitted    int
	periodStart time.Time
	pending  map[*Item]*time.Timer
	stop     chan struct{}
}

// New returns a scheduler. An empty name is replaced by "unnamed".
func New(name string, cfg Config, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if name == "" {
		name = "unnamed"
	}
	s := &Scheduler{
		name:    name,
		cfg:     cfg,
		logger:  hclog.NewNullLogger(),
		jitter:  randomJitter,
		pending: make(map[*Item]*time.Timer),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.Named("scheduler").With("scheduler", name)
	return s, nil
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}

// Enqueue submits work. resolve, when not nil, is called from the releasing
// goroutine once the item is admitted and its jitter has elapsed.
func (s *Scheduler) Enqueue(resolve func()) *Item {
	it := &Item{Enqueued: time.Now(), resolve: resolve, done: make(chan struct{})}
	if s == nil || s.cfg.Disabled {
		it.started.Store(true)
		release(it)
		return it
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil && time.Since(s.periodStart) >= s.cfg.Period {
		s.admitted = 0
	}
	if len(s.queue) == 0 && s.inFlight < s.cfg.Limit && s.admitted < s.cfg.Limit {
		s.admitted++
		s.admitLocked(it)
	} else {
		s.queue = append(s.queue, it)
	}
	if s.stop == nil {
		s.startLocked()
	}
	return it
}

// admitLocked marks it started and arms its release timer.
func (s *Scheduler) admitLocked(it *Item) {
	it.started.Store(true)
	s.inFlight++
	delay := s.jitter(s.cfg.Period / 2)
	s.pending[it] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if _, ok := s.pending[it]; !ok {
			s.mu.Unlock()
			return
		}
		delete(s.pending, it)
		s.inFlight--
		s.mu.Unlock()
		release(it)
	})
}

func release(it *Item) {
	if it.resolved.Swap(true) {
		return
	}
	if it.resolve != nil {
		it.resolve()
	}
	close(it.done)
}

func (s *Scheduler) startLocked() {
	stop := make(chan struct{})
	s.stop = stop
	s.logger.Trace("starting cycle", "queued", len(s.queue))

	ticker := time.NewTicker(s.cfg.Period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !s.cycle(stop) {
					return
				}
			}
		}
	}()
}

// cycle opens a new period and admits as many queued items as the budget
// allows. It reports whether the cycle timer should keep running.
func (s *Scheduler) cycle(stop chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != stop {
		return false
	}

	capacity := s.cfg.Limit - s.inFlight
	n := min(max(capacity, 0), len(s.queue))
	for _, it := range s.queue[:n] {
		s.admitLocked(it)
	}
	s.queue = s.queue[n:]
	s.admitted = n
	s.periodStart = time.Now()
	if n > 0 || len(s.queue) > 0 {
		s.logger.Debug("admitted items", "count", n, "waiting", len(s.queue), "in_flight", s.inFlight)
	}

	if len(s.queue) == 0 {
		s.logger.Trace("queue drained, stopping cycle")
		s.stop = nil
		return false
	}
	return true
}

// Stop halts the periodic cycle and releases every admitted item at once so
// that no timer outlives the scheduler. Queued items stay queued; a later
// Enqueue restarts the cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	var admitted []*Item
	for it, t := range s.pending {
		t.Stop()
		admitted = append(admitted, it)
	}
	clear(s.pending)
	s.inFlight = 0
	s.admitted = 0
	s.mu.Unlock()

	s.logger.Trace("stopped", "released", len(admitted))
	for _, it := range admitted {
		release(it)
	}
}

// Pending returns the number of items waiting for admission.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// InFlight returns the number of admitted items not yet released.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.name }
