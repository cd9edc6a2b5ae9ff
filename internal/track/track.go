// Package track holds the in-memory representation of a recorded GPS track
// and the idempotent merge used by live synchronisation.
package track

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
)

// ErrEmptyTrack is returned when an operation needs a last coordinate but the
// track holds none yet.
var ErrEmptyTrack = errors.New("track has no coordinates")

// Coordinate is a single fix: longitude, latitude (EPSG:4326) and the time
// it was recorded, in epoch seconds.
type Coordinate struct {
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
	Time float64 `json:"time"`
}

// CoordinateAt builds a Coordinate from a wall clock time.
func CoordinateAt(lon, lat float64, t time.Time) Coordinate {
	return Coordinate{Lon: lon, Lat: lat, Time: float64(t.UnixMilli()) / 1000}
}

// Instant returns the coordinate's timestamp in UTC, millisecond precision.
func (c Coordinate) Instant() time.Time {
	return time.UnixMilli(int64(math.Round(c.Time * 1000))).UTC()
}

// Track is an ordered sequence of coordinates, non-decreasing in time.
// One writer (the sync engine) and any number of readers may use it
// concurrently.
type Track struct {
	mu     sync.RWMutex
	coords []Coordinate
	// cursor mirrors coords[len(coords)-1].Time and is only valid when
	// coords is non-empty.
	cursor float64
}

// New creates a track from coords, ordering them by time.
func New(coords []Coordinate) *Track {
	t := &Track{}
	t.Replace(coords)
	return t
}

// Replace discards the current coordinates and loads coords instead.
func (t *Track) Replace(coords []Coordinate) {
	sorted := slices.Clone(coords)
	slices.SortStableFunc(sorted, func(a, b Coordinate) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	t.coords = sorted
	t.updateCursor()
}

func (t *Track) updateCursor() {
	if len(t.coords) == 0 {
		t.cursor = 0
		return
	}
	t.cursor = t.coords[len(t.coords)-1].Time
}

// AppendIfNewer appends the coordinates of batch whose time is strictly
// greater than the cursor, keeping their order, and reports whether anything
// was appended. The cursor advances with every appended point, so an
// out-of-order point inside batch is dropped rather than breaking the
// ordering. An empty track accepts nothing.
func (t *Track) AppendIfNewer(batch []Coordinate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.coords) == 0 {
		return false
	}

	changed := false
	for _, c := range batch {
		if c.Time > t.cursor {
			t.coords = append(t.coords, c)
			t.cursor = c.Time
			changed = true
		}
	}
	return changed
}

// Len returns the number of coordinates.
func (t *Track) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.coords)
}

// Last returns the most recent coordinate.
func (t *Track) Last() (Coordinate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.coords) == 0 {
		return Coordinate{}, false
	}
	return t.coords[len(t.coords)-1], true
}

// Cursor returns the time of the most recent coordinate.
func (t *Track) Cursor() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.coords) == 0 {
		return 0, false
	}
	return t.cursor, true
}

// Coordinates returns a copy of the coordinates, never nil.
func (t *Track) Coordinates() []Coordinate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Coordinate, len(t.coords))
	copy(out, t.coords)
	return out
}

// LineString returns the track as an XYM line string where M carries the
// timestamp. Tracks with fewer than two coordinates yield an empty line. A
// stationary track (every fix at the same position) is returned as is rather
// than rejected as degenerate.
func (t *Track) LineString() (geom.LineString, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.coords) < 2 {
		return geom.LineString{}, nil
	}

	flat := make([]float64, 0, len(t.coords)*3)
	for _, c := range t.coords {
		flat = append(flat, c.Lon, c.Lat, c.Time)
	}
	ls, err := geom.NewLineString(geom.NewSequence(flat, geom.DimXYM), geom.DisableAllValidations)
	if err != nil {
		return geom.LineString{}, fmt.Errorf("building line string: %w", err)
	}
	return ls, nil
}
