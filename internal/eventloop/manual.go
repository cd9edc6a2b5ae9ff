package eventloop

import (
	"slices"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler driven by its caller: nothing runs
// until RunPending, RunPosted, RunSpawned or Advance is called, and time only
// moves with Advance.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	posted  []func()
	spawned []func()
	timers  []*manualTimer
}

type manualTimer struct {
	m   *Manual
	due time.Time
	seq uint64
	fn  func()
}

// Stop removes the timer if it has not fired yet.
func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	i := slices.Index(t.m.timers, t)
	if i < 0 {
		return false
	}
	t.m.timers = slices.Delete(t.m.timers, i, i+1)
	return true
}

// NewManual creates a manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Post queues fn.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted = append(m.posted, fn)
}

// After queues fn to be posted once the clock reaches now+d.
func (m *Manual) After(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, due: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Spawn queues fn as in-flight background work.
func (m *Manual) Spawn(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawned = append(m.spawned, fn)
}

// Now returns the virtual clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of queued tasks, in-flight spawns and armed
// timers.
func (m *Manual) Pending() (posted, spawned, timers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.posted), len(m.spawned), len(m.timers)
}

func (m *Manual) popPosted() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.posted) == 0 {
		return nil
	}
	fn := m.posted[0]
	m.posted = m.posted[1:]
	return fn
}

func (m *Manual) popSpawned() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.spawned) == 0 {
		return nil
	}
	fn := m.spawned[0]
	m.spawned = m.spawned[1:]
	return fn
}

// RunPosted runs queued tasks, including ones they post, leaving spawned
// work in flight. It returns the number of tasks run.
func (m *Manual) RunPosted() int {
	n := 0
	for fn := m.popPosted(); fn != nil; fn = m.popPosted() {
		fn()
		n++
	}
	return n
}

// RunSpawned completes the work spawned so far. Their continuations are
// posted, not run.
func (m *Manual) RunSpawned() int {
	m.mu.Lock()
	batch := m.spawned
	m.spawned = nil
	m.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

// RunPending runs posted tasks and spawned work until both queues are empty.
func (m *Manual) RunPending() int {
	n := 0
	for {
		if fn := m.popPosted(); fn != nil {
			fn()
			n++
			continue
		}
		if fn := m.popSpawned(); fn != nil {
			fn()
			n++
			continue
		}
		return n
	}
}

func (m *Manual) popDue(limit time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *manualTimer
	for _, t := range m.timers {
		if t.due.After(limit) {
			continue
		}
		if next == nil || t.due.Before(next.due) || (t.due.Equal(next.due) && t.seq < next.seq) {
			next = t
		}
	}
	if next == nil {
		return nil
	}
	m.timers = slices.DeleteFunc(m.timers, func(t *manualTimer) bool { return t == next })
	if next.due.After(m.now) {
		m.now = next.due
	}
	return next
}

// Advance moves the clock forward by d, firing due timers in order and
// running everything they cause before the next timer fires.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	m.RunPending()
	for t := m.popDue(target); t != nil; t = m.popDue(target) {
		t.fn()
		m.RunPending()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// Tick is Advance without completing spawned work: fired timers and the
// tasks they post run, but background work stays in flight.
func (m *Manual) Tick(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	m.RunPosted()
	for t := m.popDue(target); t != nil; t = m.popDue(target) {
		t.fn()
		m.RunPosted()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}
