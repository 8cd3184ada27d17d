// Package clock generates recording timestamps.
package clock

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Clock generates timestamps in nanoseconds.
type Clock interface {
	Timestamp() int64
}

// Source is the time source used by RealtimeClock.
type Source = clock.Clock

// Mock is a time source that only advances when told to.
type Mock = clock.Mock

// NewMock returns a mock time source.
func NewMock() *Mock {
	return clock.NewMock()
}

// RealtimeClock measures wall time since its first read.
type RealtimeClock struct {
	src Source

	started bool
	running bool
	elapsed time.Duration // Accumulated before the last resume.
	since   time.Time     // Last resume.

	mu sync.Mutex
}

// NewRealtimeClock returns a clock backed by the system time.
func NewRealtimeClock() *RealtimeClock {
	return NewRealtimeClockWithSource(clock.New())
}

// NewRealtimeClockWithSource returns a clock backed by src.
func NewRealtimeClockWithSource(src Source) *RealtimeClock {
	return &RealtimeClock{src: src}
}

// Timestamp returns the elapsed time in nanoseconds.
// The first call returns zero and starts the clock.
func (c *RealtimeClock) Timestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		c.started = true
		c.running = true
		c.since = c.src.Now()
		return 0
	}

	elapsed := c.elapsed
	if c.running {
		elapsed += c.src.Now().Sub(c.since)
	}
	return int64(elapsed)
}

// Paused reports if the clock is paused.
// The clock is paused until the first timestamp is read.
func (c *RealtimeClock) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running
}

// SetPaused pauses or resumes the clock. No-op before the first read.
func (c *RealtimeClock) SetPaused(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}
	now := c.src.Now()
	switch {
	case paused && c.running:
		c.elapsed += now.Sub(c.since)
		c.running = false
	case !paused && !c.running:
		c.since = now
		c.running = true
	}
}

// FixedIntervalClock generates timestamps at a fixed interval,
// used when recording offline at a constant frame rate.
type FixedIntervalClock struct {
	interval time.Duration
	autoTick bool
	ticks    int64

	mu sync.Mutex
}

// NewFixedIntervalClock returns a clock with interval 1/frameRate.
// If autoTick is true every read advances the clock after returning.
func NewFixedIntervalClock(frameRate float64, autoTick bool) *FixedIntervalClock {
	return &FixedIntervalClock{
		interval: time.Duration(float64(time.Second) / frameRate),
		autoTick: autoTick,
	}
}

// Interval returns the tick interval.
func (c *FixedIntervalClock) Interval() time.Duration {
	return c.interval
}

// Timestamp returns the current timestamp in nanoseconds.
func (c *FixedIntervalClock) Timestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.ticks * int64(c.interval)
	if c.autoTick {
		c.ticks++
	}
	return ts
}

// Tick advances the clock by one interval.
func (c *FixedIntervalClock) Tick() {
	c.mu.Lock()
	c.ticks++
	c.mu.Unlock()
}
