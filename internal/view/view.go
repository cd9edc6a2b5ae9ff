// Package view holds the display model a map renderer draws: center, zoom,
// the time labels and the staleness flag.
package view

import (
	"sync"
	"time"

	"github.com/beacon-gps/trackview/internal/geo"
	"github.com/beacon-gps/trackview/internal/track"
)

// Center is the map center in both geographic and projected coordinates.
type Center struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

// CenterAt projects lon/lat.
func CenterAt(lon, lat float64) Center {
	x, y := geo.Project(lon, lat)
	return Center{Lon: lon, Lat: lat, X: x, Y: y}
}

// State is a snapshot of the display model. Zero times mean "not known yet".
type State struct {
	Version      uint64
	TrackID      string
	Center       Center
	Zoom         float64
	LastPosition time.Time
	LastSync     time.Time
	Stale        bool
}

// Controller owns the display model. It is written from the event loop and
// read from anywhere.
type Controller struct {
	mu    sync.Mutex
	state State
	subs  map[chan State]struct{}
}

// New creates a controller centered on lon/lat at zoom.
func New(lon, lat, zoom float64) *Controller {
	return &Controller{
		state: State{Center: CenterAt(lon, lat), Zoom: zoom},
		subs:  make(map[chan State]struct{}),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel receiving every change. A slow reader only
// sees the latest state. The returned func unsubscribes and closes the
// channel.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) update(fn func(s *State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.state)
	c.state.Version++
	for ch := range c.subs {
		select {
		case ch <- c.state:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- c.state
		}
	}
}

// Recenter moves the center to the coordinate.
func (c *Controller) Recenter(at track.Coordinate) {
	c.update(func(s *State) { s.Center = CenterAt(at.Lon, at.Lat) })
}

// ShowLastPosition sets the time of the most recent fix.
func (c *Controller) ShowLastPosition(t time.Time) {
	c.update(func(s *State) { s.LastPosition = t.UTC() })
}

// ShowLastSync sets the time of the last successful poll.
func (c *Controller) ShowLastSync(t time.Time) {
	c.update(func(s *State) { s.LastSync = t.UTC() })
}

// ShowStale raises or clears the staleness indicator.
func (c *Controller) ShowStale(stale bool) {
	c.update(func(s *State) { s.Stale = stale })
}

// ShowTrack sets the displayed track identifier.
func (c *Controller) ShowTrack(id string) {
	c.update(func(s *State) { s.TrackID = id })
}

// Reset clears the per-track fields. Center and zoom stay where they are.
func (c *Controller) Reset() {
	c.update(func(s *State) {
		s.TrackID = ""
		s.LastPosition = time.Time{}
		s.LastSync = time.Time{}
		s.Stale = false
	})
}
