// Package layer binds a track to one selected identifier and renders the
// current position marker.
package layer

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/beacon-gps/trackview/internal/track"
	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Stroke is a line style.
type Stroke struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// Style is how the track line is drawn.
type Style struct {
	Stroke Stroke      `json:"stroke"`
	Marker MarkerStyle `json:"marker"`
}

// MarkerStyle is how the current position is drawn: a circle with an
// optional fill.
type MarkerStyle struct {
	Radius float64 `json:"radius"`
	Fill   string  `json:"fill,omitempty"`
	Stroke Stroke  `json:"stroke"`
}

// DefaultStyle returns the blue track line with a red, unfilled marker.
func DefaultStyle() Style {
	return Style{
		Stroke: Stroke{Color: "rgba(20,50,255,0.5)", Width: 3},
		Marker: MarkerStyle{
			Radius: 5,
			Stroke: Stroke{Color: "rgba(255,50,50,0.8)", Width: 2},
		},
	}
}

// Canvas is the drawing surface handed to the marker hook by a renderer.
type Canvas interface {
	DrawPoint(p geom.Point, style MarkerStyle) error
}

// Layer is the displayable track of one identifier.
type Layer struct {
	id       string
	instance uuid.UUID
	style    Style
	track    *track.Track

	loaded   atomic.Bool
	detached atomic.Bool
}

// New creates an empty, attached layer for id.
func New(id string, style Style) *Layer {
	return &Layer{
		id:       id,
		instance: uuid.New(),
		style:    style,
		track:    track.New(nil),
	}
}

// ID returns the track identifier.
func (l *Layer) ID() string { return l.id }

// Instance distinguishes layers created for the same identifier.
func (l *Layer) Instance() uuid.UUID { return l.instance }

// Style returns the layer style.
func (l *Layer) Style() Style { return l.style }

// Track exposes the underlying track for readers.
func (l *Layer) Track() *track.Track { return l.track }

// Load replaces the track with coords. It returns true exactly once: on the
// first load that carries at least one coordinate.
func (l *Layer) Load(coords []track.Coordinate) bool {
	l.track.Replace(coords)
	if len(coords) == 0 {
		return false
	}
	return l.loaded.CompareAndSwap(false, true)
}

// Loaded reports whether the layer has received its first data.
func (l *Layer) Loaded() bool {
	return l.loaded.Load()
}

// LastCoordinate returns the most recent coordinate of the track.
func (l *Layer) LastCoordinate() (track.Coordinate, bool) {
	return l.track.Last()
}

// AppendIfNewer merges batch into the track.
func (l *Layer) AppendIfNewer(batch []track.Coordinate) bool {
	return l.track.AppendIfNewer(batch)
}

// Attached reports whether the layer is still displayed.
func (l *Layer) Attached() bool {
	return !l.detached.Load()
}

// Detach removes the layer from display. It cannot be undone.
func (l *Layer) Detach() {
	l.detached.Store(true)
}

// MarkerPoint returns the point the marker is drawn at, read fresh from the
// track.
func (l *Layer) MarkerPoint() (geom.Point, error) {
	c, ok := l.track.Last()
	if !ok {
		return geom.Point{}, track.ErrEmptyTrack
	}
	p, err := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: c.Lon, Y: c.Lat},
		M:    c.Time,
		Type: geom.DimXYM,
	})
	if err != nil {
		return geom.Point{}, fmt.Errorf("marker of %s: %w", l.id, err)
	}
	return p, nil
}

// RenderMarker draws the current position onto c. It returns
// track.ErrEmptyTrack when there is nothing to draw, which callers treat as a
// no-op.
func (l *Layer) RenderMarker(c Canvas) error {
	p, err := l.MarkerPoint()
	if err != nil {
		return err
	}
	if err := c.DrawPoint(p, l.style.Marker); err != nil {
		return fmt.Errorf("drawing marker of %s: %w", l.id, err)
	}
	return nil
}

// GeoJSON returns the track as a GeoJSON feature carrying the layer id and
// style.
func (l *Layer) GeoJSON() ([]byte, error) {
	ls, err := l.track.LineString()
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", l.id, err)
	}
	f := geom.GeoJSONFeature{
		Geometry: ls.AsGeometry(),
		ID:       l.id,
		Properties: map[string]interface{}{
			"id":     l.id,
			"points": l.track.Len(),
			"style":  l.style,
		},
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding layer %s: %w", l.id, err)
	}
	return data, nil
}
