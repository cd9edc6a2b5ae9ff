// Package eventloop provides the single-threaded scheduler the sync engine
// and the session run on.
//
// All state changes happen in functions posted to a Scheduler. Blocking work
// (network fetches) runs via Spawn and reports back through Await, whose
// continuation is again executed on the scheduler.
package eventloop

import "time"

// Timer is a pending delayed task.
type Timer interface {
	// Stop cancels the task and reports whether it was still pending.
	Stop() bool
}

// Scheduler runs tasks one at a time.
type Scheduler interface {
	// Post queues fn to run on the scheduler.
	Post(fn func())
	// After queues fn to run on the scheduler once d has elapsed.
	After(d time.Duration, fn func()) Timer
	// Spawn runs fn off the scheduler. fn must not touch scheduler-owned
	// state; it reports back with Post.
	Spawn(fn func())
	// Now returns the scheduler's clock.
	Now() time.Time
}

// Await runs work off the scheduler and delivers its result to then on the
// scheduler.
func Await[T any](s Scheduler, work func() (T, error), then func(T, error)) {
	s.Spawn(func() {
		v, err := work()
		s.Post(func() { then(v, err) })
	})
}
