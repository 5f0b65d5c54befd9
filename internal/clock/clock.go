// Package clock provides the single time source for the decision core.
//
// Every timing computation — speak cooldowns, phase dwell, metric windows —
// flows through a [Clock] so that tests can drive time deterministically with
// a [Fake] instead of sleeping.
package clock

import (
	"sync"
	"time"
)

// Clock is a source of the current time. Implementations must return
// non-decreasing values from Now.
type Clock interface {
	Now() time.Time
}

// System is the production clock backed by [time.Now]. The monotonic reading
// embedded in [time.Time] keeps interval arithmetic safe across wall-clock
// adjustments.
type System struct{}

// Now returns the current time.
func (System) Now() time.Time { return time.Now() }

// Epoch converts t to seconds since the Unix epoch with sub-millisecond
// resolution, the representation used on the wire and in exported metrics.
func Epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Fake is a manually advanced clock for tests. It is safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake forward by d. Negative values are ignored so the
// clock stays monotonic.
func (f *Fake) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set jumps the fake to t if t is not before the current reading.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	if t.After(f.now) {
		f.now = t
	}
	f.mu.Unlock()
}
