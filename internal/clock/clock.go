// Package clock provides an injectable source of wall-clock time and
// timers. Every component that stamps an incarnation number, schedules
// a suspicion deadline, or measures a round-trip sample goes through a
// Clock instead of calling time.Now/time.AfterFunc directly, so tests
// can swap in a fake without real sleeps.
package clock

import "time"

// Clock is the time source used throughout swimring.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NowMillis returns the current time as Unix milliseconds, the unit
	// used for incarnation numbers.
	NowMillis() int64
	// AfterFunc schedules fn to run after d and returns a Timer that can
	// cancel or reschedule it.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Timer is the subset of time.Timer that suspicion and gossip need.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// System is the production Clock, backed by the real wall clock.
type System struct{}

// New returns the production Clock.
func New() Clock { return System{} }

func (System) Now() time.Time { return time.Now() }

func (System) NowMillis() int64 { return time.Now().UnixMilli() }

func (System) AfterFunc(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool                 { return r.t.Stop() }
func (r realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }
