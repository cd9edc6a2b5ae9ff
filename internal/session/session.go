// Package session owns the single active track slot and switches it between
// the identifiers the backend lists.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/beacon-gps/trackview/internal/eventloop"
	"github.com/beacon-gps/trackview/internal/layer"
	"github.com/beacon-gps/trackview/internal/livesync"
	"github.com/beacon-gps/trackview/internal/logging"
	"github.com/beacon-gps/trackview/internal/source"
)

// ErrNoActiveLayer is returned when an operation needs a selected track.
var ErrNoActiveLayer = errors.New("no active track")

// Source is what the session needs from the backend.
type Source interface {
	livesync.Source
	ListTracks(ctx context.Context) ([]source.Entry, error)
}

// View is the display surface shared by all engines of the session.
type View interface {
	livesync.View
	ShowTrack(id string)
	Reset()
}

// Session holds at most one active layer with its engine. SwitchTo and Close
// must run on the scheduler; the readers may be called from anywhere.
type Session struct {
	source Source
	sched  eventloop.Scheduler
	view   View
	logger logging.Logger
	style  layer.Style
	opts   []livesync.Option

	mu     sync.RWMutex
	tracks []source.Entry
	engine *livesync.Engine
}

// New creates a session with no active track.
func New(src Source, sched eventloop.Scheduler, v View, logger logging.Logger, style layer.Style, opts ...livesync.Option) *Session {
	return &Session{
		source: src,
		sched:  sched,
		view:   v,
		logger: logger,
		style:  style,
		opts:   opts,
	}
}

// Init fetches and stores the identifier list.
func (s *Session) Init(ctx context.Context) error {
	entries, err := s.ListTracks(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tracks = entries
	s.mu.Unlock()
	s.logger.Info("track list loaded", "tracks", len(entries))
	return nil
}

// ListTracks fetches the current identifier list without storing it.
func (s *Session) ListTracks(ctx context.Context) ([]source.Entry, error) {
	entries, err := s.source.ListTracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tracks: %w", err)
	}
	return entries, nil
}

// Tracks returns the list stored by Init.
func (s *Session) Tracks() []source.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tracks)
}

// Known reports whether id is in the stored list.
func (s *Session) Known(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.tracks, func(e source.Entry) bool { return e.ID == id })
}

// SwitchTo replaces the active track with id. An empty id leaves no track
// selected. The previous layer is detached before the new one starts, so
// results still in flight for it are discarded.
func (s *Session) SwitchTo(id string) error {
	s.mu.Lock()
	prev := s.engine
	s.engine = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Stop()
		s.logger.Info("track deselected", "track", prev.Layer().ID())
	}
	s.view.Reset()

	if id == "" {
		return nil
	}
	if !s.Known(id) {
		s.logger.Debug("selecting unlisted track", "track", id)
	}

	l := layer.New(id, s.style)
	e, err := livesync.New(l, s.source, s.sched, s.view, s.logger, s.opts...)
	if err != nil {
		return fmt.Errorf("creating engine for %s: %w", id, err)
	}

	s.mu.Lock()
	s.engine = e
	s.mu.Unlock()

	s.view.ShowTrack(id)
	s.logger.Info("track selected", "track", id, "layer", l.Instance().String())
	return e.Start()
}

// Active returns the active layer.
func (s *Session) Active() (*layer.Layer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.engine == nil {
		return nil, false
	}
	return s.engine.Layer(), true
}

// Engine returns the engine of the active layer.
func (s *Session) Engine() (*livesync.Engine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine, s.engine != nil
}

// RenderMarker runs the marker hook of the active layer.
func (s *Session) RenderMarker(c layer.Canvas) error {
	l, ok := s.Active()
	if !ok {
		return ErrNoActiveLayer
	}
	return l.RenderMarker(c)
}

// Close stops the active engine.
func (s *Session) Close() {
	s.mu.Lock()
	e := s.engine
	s.engine = nil
	s.mu.Unlock()
	if e != nil {
		e.Stop()
	}
}
