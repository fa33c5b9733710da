package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultEarlyTTL = 5 * time.Minute
	defaultEarlyMax = 1024
)

// Result is the terminal outcome of a run as reported by its webhook.
type Result struct {
	Succeeded bool
	DatasetID string
	Message   string
}

// Correlator hands webhook outcomes to the job waiting on the run. A result
// that arrives before Await is held until it is collected, forgotten or
// expired. At most maxEarly results are held; the oldest goes first.
type Correlator struct {
	mu       sync.Mutex
	waiting  map[string]chan Result
	early    map[string]earlyResult
	earlyTTL time.Duration
	maxEarly int
	now      func() time.Time
}

type earlyResult struct {
	res Result
	at  time.Time
}

// CorrelatorOption configures a Correlator.
type CorrelatorOption func(*Correlator)

// WithEarlyTTL sets how long an unclaimed result is held.
func WithEarlyTTL(d time.Duration) CorrelatorOption {
	return func(c *Correlator) { c.earlyTTL = d }
}

// WithMaxEarly caps the number of unclaimed results held.
func WithMaxEarly(n int) CorrelatorOption {
	return func(c *Correlator) { c.maxEarly = n }
}

func NewCorrelator(opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		waiting:  make(map[string]chan Result),
		early:    make(map[string]earlyResult),
		earlyTTL: defaultEarlyTTL,
		maxEarly: defaultEarlyMax,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxEarly < 1 {
		c.maxEarly = 1
	}
	return c
}

// Resolve delivers the outcome for runID. Only the first resolve counts.
func (c *Correlator) Resolve(runID string, res Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.waiting[runID]; ok {
		delete(c.waiting, runID)
		ch <- res
		return
	}
	now := c.now()
	c.expire(now)
	if _, dup := c.early[runID]; dup {
		return
	}
	if len(c.early) >= c.maxEarly {
		c.evictOldest()
	}
	c.early[runID] = earlyResult{res: res, at: now}
}

// expire drops held results older than the TTL. Callers hold mu.
func (c *Correlator) expire(now time.Time) {
	for id, e := range c.early {
		if now.Sub(e.at) > c.earlyTTL {
			delete(c.early, id)
		}
	}
}

func (c *Correlator) evictOldest() {
	var oldest string
	var at time.Time
	for id, e := range c.early {
		if oldest == "" || e.at.Before(at) {
			oldest, at = id, e.at
		}
	}
	delete(c.early, oldest)
}

// Await blocks until runID is resolved or ctx ends. A deadline becomes
// ErrCrawlTimeout.
func (c *Correlator) Await(ctx context.Context, runID string) (Result, error) {
	c.mu.Lock()
	c.expire(c.now())
	if e, ok := c.early[runID]; ok {
		delete(c.early, runID)
		c.mu.Unlock()
		return e.res, nil
	}
	ch := make(chan Result, 1)
	c.waiting[runID] = ch
	c.mu.Unlock()

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.waiting, runID)
		c.mu.Unlock()
		// Resolve may have raced the deadline.
		select {
		case res := <-ch:
			return res, nil
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w: run %s", ErrCrawlTimeout, runID)
		}
		return Result{}, ctx.Err()
	}
}

// Waiting reports whether a job is currently awaiting runID.
func (c *Correlator) Waiting(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.waiting[runID]
	return ok
}

// Forget drops any held early result for runID.
func (c *Correlator) Forget(runID string) {
	c.mu.Lock()
	delete(c.early, runID)
	c.mu.Unlock()
}
