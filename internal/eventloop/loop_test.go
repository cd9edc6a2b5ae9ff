package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/beacon-gps/trackview/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements logging.Logger for testing
type testLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {}
func (l *testLogger) Info(msg string, keysAndValues ...any)  {}
func (l *testLogger) Warn(msg string, keysAndValues ...any)  {}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func startLoop(t *testing.T, logger logging.Logger) *Loop {
	t.Helper()
	l, err := New(8, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l
}

func TestLoop_RunsTasksSequentially(t *testing.T) {
	l := startLoop(t, logging.Nop())

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() { got = append(got, i) })
	}
	require.NoError(t, l.Call(context.Background(), func() {}))

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_After(t *testing.T) {
	l := startLoop(t, logging.Nop())
	fired := make(chan struct{})

	l.After(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestLoop_AfterStop(t *testing.T) {
	l := startLoop(t, logging.Nop())
	fired := make(chan struct{}, 1)

	timer := l.After(50*time.Millisecond, func() { fired <- struct{}{} })
	assert.True(t, timer.Stop())

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLoop_AwaitContinuesOnLoop(t *testing.T) {
	l := startLoop(t, logging.Nop())
	result := make(chan int, 1)

	Await(l, func() (int, error) { return 42, nil }, func(v int, err error) {
		result <- v
	})

	select {
	case v := <-result:
		assert.Equal(t, 42, v)
	case <-time.After(2 * time.Second):
		t.Fatal("continuation did not run")
	}
	l.Wait()
}

func TestLoop_RecoversPanics(t *testing.T) {
	logger := &testLogger{}
	l := startLoop(t, logger)

	err := l.Call(context.Background(), func() { panic("boom") })
	require.NoError(t, err)

	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran, "loop survives a panicking task")

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Contains(t, logger.errors, "task panicked")
}

func TestLoop_CallCompletesOnceQueued(t *testing.T) {
	l := startLoop(t, logging.Nop())
	release := make(chan struct{})
	l.Post(func() { <-release })
	require.Eventually(t, func() bool { return len(l.tasks) == 0 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	errCh := make(chan error, 1)
	go func() { errCh <- l.Call(ctx, func() { ran = true }) }()
	require.Eventually(t, func() bool { return len(l.tasks) == 1 }, time.Second, time.Millisecond)

	cancel()
	close(release)

	require.NoError(t, <-errCh)
	assert.True(t, ran, "a nil result means fn took effect")
}

func TestLoop_CallCancelledWhileQueueFull(t *testing.T) {
	l, err := New(1, logging.Nop())
	require.NoError(t, err)
	l.Post(func() {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false

	assert.ErrorIs(t, l.Call(ctx, func() { ran = true }), context.Canceled)
	assert.False(t, ran)
}

func TestLoop_CallAfterStop(t *testing.T) {
	l, err := New(1, logging.Nop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l.Run(ctx)

	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
	assert.NotPanics(t, func() { l.Post(func() {}) })
}

func TestLoop_DefaultQueueSize(t *testing.T) {
	l, err := New(0, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultQueueSize, cap(l.tasks))
}
