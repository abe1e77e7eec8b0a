// Package stats provides the one-way statistics sink used by the storage and
// graph layers to report failures and operational counters.
//
// The core never reads these counters to make decisions; they exist for an
// external monitoring process to scrape. The sink must therefore never fail
// and never block.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Reporter is the interface the storage and graph layers depend on. It is a
// one-way sink: implementations must be safe for concurrent use and must not
// return errors or block.
type Reporter interface {
	// Record increments the counter for the given stable error kind.
	Record(kind string)
}

// Collector is the default Reporter backed by atomic counters.
//
// Collector is safe for concurrent use. Counters use atomic operations for
// lock-free updates; the kind registry is protected by a mutex since new
// kinds appear rarely.
type Collector struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64

	recorded  atomic.Int64
	lastEvent atomic.Int64 // Unix ms of last recorded event
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		counters: make(map[string]*atomic.Int64),
	}
}

// Record increments the counter for the given kind.
func (c *Collector) Record(kind string) {
	c.mu.RLock()
	counter, ok := c.counters[kind]
	c.mu.RUnlock()

	if !ok {
		c.mu.Lock()
		counter, ok = c.counters[kind]
		if !ok {
			counter = &atomic.Int64{}
			c.counters[kind] = counter
		}
		c.mu.Unlock()
	}

	counter.Add(1)
	c.recorded.Add(1)
	c.lastEvent.Store(time.Now().UnixMilli())
}

// Count returns the current count for a kind. Unknown kinds return zero.
func (c *Collector) Count(kind string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counter, ok := c.counters[kind]
	if !ok {
		return 0
	}
	return counter.Load()
}

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(map[string]int64, len(c.counters))
	for kind, counter := range c.counters {
		snap[kind] = counter.Load()
	}
	return snap
}

// Total returns the total number of recorded events.
func (c *Collector) Total() int64 {
	return c.recorded.Load()
}

// LastEventTime returns the time of the last recorded event, or the zero
// time if nothing has been recorded.
func (c *Collector) LastEventTime() time.Time {
	ms := c.lastEvent.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Nop is a Reporter that discards everything. Useful for tests and for
// callers that do not wire a monitoring process.
type Nop struct{}

// Record implements Reporter.
func (Nop) Record(string) {}
