// Package cycle derives wall-clock aligned distribution cycles.
//
// A cycle is a fixed-length window aligned to the Unix epoch in UTC, so every
// process (and every client that shares the period) agrees on its boundaries
// regardless of when it started. At most one distribution happens per cycle.
package cycle

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultPeriod is the distribution period.
const DefaultPeriod = 4 * time.Minute

// Info describes the cycle containing a given instant.
type Info struct {
	ID               int64     // floor(Start / period), unique per period
	Start            time.Time // inclusive
	End              time.Time // exclusive, start of the next cycle
	Now              time.Time // instant the info was derived for
	SecondsRemaining int64     // ceil((End - Now) / 1s), within [0, period/1s]
	Period           time.Duration
}

// Current returns the cycle containing now.
// Non-positive periods fall back to DefaultPeriod.
func Current(now time.Time, period time.Duration) Info {
	if period <= 0 {
		period = DefaultPeriod
	}
	periodMs := period.Milliseconds()
	if periodMs <= 0 {
		periodMs = 1
	}

	nowMs := now.UnixMilli()
	id := floorDiv(nowMs, periodMs)
	startMs := id * periodMs

	start := time.UnixMilli(startMs).UTC()
	end := start.Add(time.Duration(periodMs) * time.Millisecond)

	return Info{
		ID:               id,
		Start:            start,
		End:              end,
		Now:              now.UTC(),
		SecondsRemaining: secondsUntil(now, end, period),
		Period:           time.Duration(periodMs) * time.Millisecond,
	}
}

// ForID returns the boundaries of cycle id.
func ForID(id int64, period time.Duration) Info {
	if period <= 0 {
		period = DefaultPeriod
	}
	start := time.UnixMilli(id * period.Milliseconds()).UTC()
	return Current(start, period)
}

// Contains reports whether t falls inside the cycle.
func (i Info) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Minute returns the wall-clock minute of Now in UTC.
func (i Info) Minute() int {
	return i.Now.Minute()
}

func secondsUntil(now, end time.Time, period time.Duration) int64 {
	remainingMs := end.UnixMilli() - now.UnixMilli()
	secs := (remainingMs + 999) / 1000
	if secs < 0 {
		return 0
	}
	if limit := int64(period / time.Second); secs > limit {
		return limit
	}
	return secs
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Clock derives cycle info from an injected clock.
type Clock struct {
	clock  clockwork.Clock
	period time.Duration
}

// NewClock creates a Clock. A nil clock uses the real wall clock.
func NewClock(clock clockwork.Clock, period time.Duration) *Clock {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Clock{clock: clock, period: period}
}

// Current returns the cycle containing the clock's current time.
func (c *Clock) Current() Info {
	return Current(c.clock.Now(), c.period)
}

// Period returns the cycle length.
func (c *Clock) Period() time.Duration {
	return c.period
}

// Clock returns the underlying clock.
func (c *Clock) Clock() clockwork.Clock {
	return c.clock
}

// UntilNext returns the wait until the next cycle boundary.
func (c *Clock) UntilNext() time.Duration {
	now := c.clock.Now()
	return Current(now, c.period).End.Sub(now)
}
