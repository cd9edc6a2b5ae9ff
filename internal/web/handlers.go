package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/beacon-gps/trackview/internal/layer"
	"github.com/beacon-gps/trackview/internal/logging"
	"github.com/beacon-gps/trackview/internal/session"
	"github.com/beacon-gps/trackview/internal/track"
	"github.com/beacon-gps/trackview/internal/view"
	"github.com/beacon-gps/trackview/pkg/wire"
	geom "github.com/peterstace/simplefeatures/geom"
)

const geoJSONType = "application/geo+json"

// Handlers contains the HTTP handlers.
type Handlers struct {
	session *session.Session
	view    *view.Controller
	loop    Caller
	logger  logging.Logger

	mu      sync.Mutex
	streams map[*stream]struct{}
}

// NewHandlers creates the handlers.
func NewHandlers(sess *session.Session, v *view.Controller, loop Caller, logger logging.Logger) *Handlers {
	return &Handlers{
		session: sess,
		view:    v,
		loop:    loop,
		logger:  logger,
		streams: make(map[*stream]struct{}),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, wire.Error{Error: msg})
}

func (h *Handlers) snapshot() wire.View {
	s := h.view.Snapshot()
	out := wire.View{
		Version: s.Version,
		TrackID: s.TrackID,
		Center: wire.Center{
			Lon: s.Center.Lon,
			Lat: s.Center.Lat,
			X:   s.Center.X,
			Y:   s.Center.Y,
		},
		Zoom:         s.Zoom,
		LastPosition: wire.TimeOrNil(s.LastPosition),
		LastSync:     wire.TimeOrNil(s.LastSync),
		Stale:        s.Stale,
	}
	if e, ok := h.session.Engine(); ok {
		out.State = e.State().String()
	}
	return out
}

// View handles GET /api/view.
func (h *Handlers) View(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

// Tracks handles GET /api/tracks.
func (h *Handlers) Tracks(w http.ResponseWriter, r *http.Request) {
	entries := h.session.Tracks()
	out := make([]wire.Track, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.Track{ID: e.ID, LastFix: wire.TimeOrNil(e.LastFix)})
	}
	writeJSON(w, http.StatusOK, out)
}

// ReloadTracks handles POST /api/tracks/reload.
func (h *Handlers) ReloadTracks(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Init(r.Context()); err != nil {
		h.logger.Error("reloading track list failed", "error", err)
		writeError(w, http.StatusBadGateway, "track list unavailable")
		return
	}
	h.Tracks(w, r)
}

// Select handles PUT /api/active.
func (h *Handlers) Select(w http.ResponseWriter, r *http.Request) {
	var req wire.SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == nil {
		writeError(w, http.StatusBadRequest, `body must be {"id": "<track id>"}`)
		return
	}

	var switchErr error
	if err := h.loop.Call(r.Context(), func() { switchErr = h.session.SwitchTo(*req.ID) }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if switchErr != nil {
		h.logger.Error("switching track failed", "track", *req.ID, "error", switchErr)
		writeError(w, http.StatusInternalServerError, "switching track failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActiveTrack handles GET /api/active/track.
func (h *Handlers) ActiveTrack(w http.ResponseWriter, r *http.Request) {
	l, ok := h.session.Active()
	if !ok {
		writeError(w, http.StatusNotFound, session.ErrNoActiveLayer.Error())
		return
	}
	data, err := l.GeoJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", geoJSONType)
	_, _ = w.Write(data)
}

// featureCanvas captures the marker as a GeoJSON feature.
type featureCanvas struct {
	feature *geom.GeoJSONFeature
}

func (c *featureCanvas) DrawPoint(p geom.Point, style layer.MarkerStyle) error {
	c.feature = &geom.GeoJSONFeature{
		Geometry:   p.AsGeometry(),
		Properties: map[string]interface{}{"style": style},
	}
	return nil
}

// ActiveMarker handles GET /api/active/marker.
func (h *Handlers) ActiveMarker(w http.ResponseWriter, r *http.Request) {
	c := &featureCanvas{}
	err := h.session.RenderMarker(c)
	switch {
	case errors.Is(err, session.ErrNoActiveLayer), errors.Is(err, track.ErrEmptyTrack):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", geoJSONType)
	_ = json.NewEncoder(w).Encode(c.feature)
}
