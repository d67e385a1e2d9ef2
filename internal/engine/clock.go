package engine

import "time"

// Clock supplies wall time and timers to the engine.
//
// It satisfies backoff.Clock, so the same clock drives retry delays.
// Tests substitute testutil.FakeClock to advance time without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
