// Package wire defines the JSON payloads of the trackview HTTP and
// WebSocket surface.
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message type constants of the WebSocket stream.
const (
	TypeView  = "view"
	TypeHello = "hello"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: data}, nil
}

// Hello is sent once when a stream is opened.
type Hello struct {
	Session string `json:"session"`
}

// Center is the map center.
type Center struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
	// X and Y are web mercator (EPSG:3857).
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// View is the display state. Times are omitted until known.
type View struct {
	Version      uint64     `json:"version"`
	TrackID      string     `json:"trackId,omitempty"`
	Center       Center     `json:"center"`
	Zoom         float64    `json:"zoom"`
	LastPosition *time.Time `json:"lastPosition,omitempty"`
	LastSync     *time.Time `json:"lastSync,omitempty"`
	Stale        bool       `json:"stale"`
	State        string     `json:"state,omitempty"`
}

// Track is one entry of the track list.
type Track struct {
	ID      string     `json:"id"`
	LastFix *time.Time `json:"time,omitempty"`
}

// SelectRequest selects a track. An empty ID selects none.
type SelectRequest struct {
	ID *string `json:"id"`
}

// Error is the body of a failed request.
type Error struct {
	Error string `json:"error"`
}

// TimeOrNil returns nil for the zero time.
func TimeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
