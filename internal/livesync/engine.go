// Package livesync keeps one track layer in step with the backend: a full
// load, then an incremental poll every interval, merged without duplicates.
package livesync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/beacon-gps/trackview/internal/eventloop"
	"github.com/beacon-gps/trackview/internal/layer"
	"github.com/beacon-gps/trackview/internal/logging"
	"github.com/beacon-gps/trackview/internal/track"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultInterval is the delay between the end of one poll and the
	// start of the next.
	DefaultInterval = 5 * time.Second
	// DefaultStaleAfter is the number of consecutive failed polls after
	// which the view is flagged stale.
	DefaultStaleAfter = 3
)

// ErrStarted is returned by Start when the engine has left Idle.
var ErrStarted = errors.New("engine already started")

// State is the engine lifecycle state.
type State int32

const (
	Idle State = iota
	Loading
	Active
	Polling
	Merging
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Active:
		return "active"
	case Polling:
		return "polling"
	case Merging:
		return "merging"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Source is where tracks are fetched from.
type Source interface {
	FetchFull(ctx context.Context, id string) ([]track.Coordinate, error)
	FetchSince(ctx context.Context, id string, since time.Time) ([]track.Coordinate, error)
}

// View is the display surface the engine updates.
type View interface {
	Recenter(at track.Coordinate)
	ShowLastPosition(t time.Time)
	ShowLastSync(t time.Time)
	ShowStale(stale bool)
}

// PollStats describes one finished load or poll.
type PollStats struct {
	TrackID  string
	Initial  bool
	At       time.Time
	Duration time.Duration
	Fetched  int
	Merged   int
	Failures int
	Err      error
}

// StatsSink receives a PollStats for every finished load or poll.
type StatsSink interface {
	RecordPoll(PollStats)
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithStaleAfter sets how many consecutive failures raise the staleness
// indicator.
func WithStaleAfter(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.staleAfter = n
		}
	}
}

// WithClock sets the wall clock used for the last-sync time.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithStatsSink forwards per-poll stats to sink.
func WithStatsSink(sink StatsSink) Option {
	return func(e *Engine) {
		e.stats = sink
	}
}

// WithContext sets the context fetches run under. Cancelling it aborts
// in-flight requests; Stop alone does not.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) {
		e.ctx = ctx
	}
}

// Engine drives one layer. Start, Stop and every continuation run on the
// scheduler; State and Failures may be read from anywhere.
type Engine struct {
	layer  *layer.Layer
	source Source
	sched  eventloop.Scheduler
	view   View
	logger logging.Logger

	ctx        context.Context
	interval   time.Duration
	staleAfter int
	now        func() time.Time
	stats      StatsSink
	metrics    *metrics
	attrs      metric.MeasurementOption

	state    atomic.Int32
	failures atomic.Int32
	stale    bool
	timer    eventloop.Timer
}

// New creates an idle engine for l.
func New(l *layer.Layer, src Source, sched eventloop.Scheduler, v View, logger logging.Logger, opts ...Option) (*Engine, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		layer:      l,
		source:     src,
		sched:      sched,
		view:       v,
		logger:     logger,
		ctx:        context.Background(),
		interval:   DefaultInterval,
		staleAfter: DefaultStaleAfter,
		now:        sched.Now,
		metrics:    m,
		attrs:      metric.WithAttributes(attribute.String("track", l.ID())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Layer returns the driven layer.
func (e *Engine) Layer() *layer.Layer {
	return e.layer
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Failures returns the number of consecutive failed polls.
func (e *Engine) Failures() int {
	return int(e.failures.Load())
}

// Start issues the full load.
func (e *Engine) Start() error {
	if e.State() != Idle {
		return ErrStarted
	}
	e.setState(Loading)
	e.logger.Debug("loading track", "track", e.layer.ID(), "layer", e.layer.Instance().String())

	id := e.layer.ID()
	started := e.now()
	eventloop.Await(e.sched,
		func() ([]track.Coordinate, error) { return e.source.FetchFull(e.ctx, id) },
		func(coords []track.Coordinate, err error) { e.onLoad(started, coords, err) },
	)
	return nil
}

// Stop detaches the layer and cancels the pending poll. A fetch already in
// flight completes but its result is discarded.
func (e *Engine) Stop() {
	e.layer.Detach()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if s := e.State(); s != Stopped {
		e.logger.Debug("engine stopped", "track", e.layer.ID(), "state", s.String())
	}
	e.setState(Stopped)
}

// live is the guard every continuation checks first.
func (e *Engine) live() bool {
	return e.layer.Attached() && e.State() != Stopped
}

func (e *Engine) onLoad(started time.Time, coords []track.Coordinate, err error) {
	if !e.live() {
		e.logger.Debug("discarding load for detached layer", "track", e.layer.ID())
		return
	}

	ps := PollStats{TrackID: e.layer.ID(), Initial: true, At: started, Duration: e.now().Sub(started), Fetched: len(coords), Err: err}

	if err != nil {
		e.metrics.failures.Add(context.Background(), 1, e.attrs)
		e.logger.Error("loading track failed", "track", e.layer.ID(), "error", err)
		e.setState(Failed)
		e.record(ps)
		return
	}
	if len(coords) == 0 {
		e.logger.Warn("track is empty", "track", e.layer.ID())
		ps.Err = track.ErrEmptyTrack
		e.setState(Failed)
		e.record(ps)
		return
	}

	if e.layer.Load(coords) {
		last, _ := e.layer.LastCoordinate()
		e.view.Recenter(last)
		e.view.ShowLastPosition(last.Instant())
	}
	ps.Merged = e.layer.Track().Len()
	e.metrics.merged.Add(context.Background(), int64(ps.Merged), e.attrs)
	e.logger.Info("track loaded", "track", e.layer.ID(), "points", ps.Merged)

	e.setState(Active)
	e.record(ps)
	e.schedule()
}

func (e *Engine) schedule() {
	e.timer = e.sched.After(e.interval, e.poll)
}

func (e *Engine) poll() {
	e.timer = nil
	if !e.live() {
		return
	}

	last, ok := e.layer.LastCoordinate()
	if !ok {
		// Load never leaves an active layer empty.
		e.schedule()
		return
	}

	e.setState(Polling)
	id := e.layer.ID()
	since := last.Instant()
	started := e.now()
	eventloop.Await(e.sched,
		func() ([]track.Coordinate, error) { return e.source.FetchSince(e.ctx, id, since) },
		func(batch []track.Coordinate, err error) { e.onPoll(started, batch, err) },
	)
}

func (e *Engine) onPoll(started time.Time, batch []track.Coordinate, err error) {
	if !e.live() {
		e.logger.Debug("discarding poll for detached layer", "track", e.layer.ID())
		return
	}

	finished := e.now()
	ps := PollStats{TrackID: e.layer.ID(), At: started, Duration: finished.Sub(started), Fetched: len(batch), Err: err}
	e.metrics.polls.Add(context.Background(), 1, e.attrs)
	e.metrics.duration.Record(context.Background(), ps.Duration.Seconds(), e.attrs)

	if err != nil {
		n := int(e.failures.Add(1))
		ps.Failures = n
		e.metrics.failures.Add(context.Background(), 1, e.attrs)
		e.logger.Warn("poll failed", "track", e.layer.ID(), "failures", n, "error", err)
		if n >= e.staleAfter && !e.stale {
			e.stale = true
			e.view.ShowStale(true)
		}
		e.setState(Active)
		e.record(ps)
		e.schedule()
		return
	}

	e.setState(Merging)
	before := e.layer.Track().Len()
	if e.layer.AppendIfNewer(batch) {
		last, _ := e.layer.LastCoordinate()
		e.view.Recenter(last)
		e.view.ShowLastPosition(last.Instant())
	}
	ps.Merged = e.layer.Track().Len() - before
	if ps.Merged > 0 {
		e.metrics.merged.Add(context.Background(), int64(ps.Merged), e.attrs)
		e.logger.Debug("merged points", "track", e.layer.ID(), "points", ps.Merged)
	}

	e.view.ShowLastSync(finished)
	e.failures.Store(0)
	if e.stale {
		e.stale = false
		e.view.ShowStale(false)
	}

	e.setState(Active)
	e.record(ps)
	e.schedule()
}

func (e *Engine) record(ps PollStats) {
	if e.stats != nil {
		e.stats.RecordPoll(ps)
	}
}
