package clock

import (
	"sync"
	"time"
)

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current UTC time from system clock.
// Params: none.
// Returns: current UTC timestamp.
type RealClock struct{}

// Now returns current UTC time.
// Params: none.
// Returns: current UTC timestamp.
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a settable clock for cooldown and dedup tests.
// Params: explicit start instant.
// Returns: clock advanced only by test code.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock at the given instant.
// Params: start time.
// Returns: initialized manual clock.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual instant.
// Params: none.
// Returns: last set timestamp.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the manual clock forward.
// Params: positive duration to add.
// Returns: clock mutated in place.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
