package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beacon-gps/trackview/internal/logging"
	"go.opentelemetry.io/otel/metric"
)

// ErrStopped is returned by Call once the loop has ended.
var ErrStopped = errors.New("event loop stopped")

// DefaultQueueSize is the task buffer of a Loop created with size <= 0.
const DefaultQueueSize = 256

// Loop is the production Scheduler: one goroutine drains a buffered task
// queue. Post blocks while the queue is full.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	logger logging.Logger

	once sync.Once
	wg   sync.WaitGroup

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	panics    metric.Int64Counter
}

// New creates a loop with the given queue size.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(size int, logger logging.Logger) (*Loop, error) {
	if size <= 0 {
		size = DefaultQueueSize
	}
	l := &Loop{
		tasks:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}

	m := meter()

	var err error

	l.queueSize, err = m.Int64ObservableGauge(
		"eventloop.queue.size",
		metric.WithDescription("Current number of tasks in queue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}

	_, err = m.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(l.queueSize, int64(len(l.tasks)))
			return nil
		},
		l.queueSize,
	)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}

	l.processed, err = m.Int64Counter(
		"eventloop.tasks.processed",
		metric.WithDescription("Total tasks processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}

	l.panics, err = m.Int64Counter(
		"eventloop.tasks.panicked",
		metric.WithDescription("Total tasks that panicked"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating panic counter: %w", err)
	}

	return l, nil
}

// Run drains the queue until ctx ends. Tasks still queued at that point are
// dropped.
func (l *Loop) Run(ctx context.Context) {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Wait blocks until every spawned goroutine has finished.
func (l *Loop) Wait() {
	l.wg.Wait()
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(context.Background(), 1)
			l.logger.Error("task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
	l.processed.Add(context.Background(), 1)
}

// Post queues fn. It is a no-op once the loop has ended.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// After posts fn once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Spawn runs fn on its own goroutine.
func (l *Loop) Spawn(fn func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Call runs fn on the loop and waits for it to finish. ctx only bounds the
// wait for a queue slot: once fn is queued Call returns nil after fn has run,
// or ErrStopped if the loop stops first and fn never runs.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}
