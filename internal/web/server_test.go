package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beacon-gps/trackview/internal/eventloop"
	"github.com/beacon-gps/trackview/internal/layer"
	"github.com/beacon-gps/trackview/internal/logging"
	"github.com/beacon-gps/trackview/internal/session"
	"github.com/beacon-gps/trackview/internal/source"
	"github.com/beacon-gps/trackview/internal/transport"
	"github.com/beacon-gps/trackview/internal/view"
	"github.com/beacon-gps/trackview/pkg/wire"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const track42 = `<?xml version="1.0" encoding="UTF-8" standalone="no"?>
<gpx xmlns="http://www.topografix.com/GPX/1/1" creator="beacon" version="1.1">
<trk><trkseg>
<trkpt lat="50.90" lon="7.10"><time>1970-01-01T00:16:40.000Z</time></trkpt>
<trkpt lat="50.91" lon="7.11"><time>1970-01-01T00:16:50.000Z</time></trkpt>
</trkseg></trk></gpx>
`

// manualCaller drives a Manual scheduler to completion on every call.
type manualCaller struct {
	m *eventloop.Manual
}

func (c manualCaller) Call(_ context.Context, fn func()) error {
	c.m.Post(fn)
	c.m.RunPending()
	return nil
}

func backend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"42","time":"1970-01-01T00:16:50.000Z"}]`))
	})
	mux.HandleFunc("/api/gpx/42.gpx", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/gpx+xml")
		_, _ = w.Write([]byte(track42))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	server  *Server
	session *session.Session
	view    *view.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sched := eventloop.NewManual(time.Date(2019, 5, 1, 12, 0, 0, 0, time.UTC))
	src := source.New(transport.New(backend(t).URL))
	v := view.New(7.13, 50.95, 14)
	sess := session.New(src, sched, v, logging.Nop(), layer.DefaultStyle())
	require.NoError(t, sess.Init(context.Background()))

	return &fixture{
		server:  NewServer(ServerConfig{}, sess, v, manualCaller{m: sched}, logging.Nop()),
		session: sess,
		view:    v,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestView_Initial(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/view", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var v wire.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 7.13, v.Center.Lon)
	assert.Equal(t, 50.95, v.Center.Lat)
	assert.Equal(t, float64(14), v.Zoom)
	assert.Empty(t, v.TrackID)
	assert.Nil(t, v.LastPosition)
	assert.Nil(t, v.LastSync)
}

func TestTracks(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/tracks", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var tracks []wire.Track
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tracks))
	require.Len(t, tracks, 1)
	assert.Equal(t, "42", tracks[0].ID)
	require.NotNil(t, tracks[0].LastFix)
	assert.Equal(t, time.Unix(1010, 0).UTC(), *tracks[0].LastFix)
}

func TestReloadTracks(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/tracks/reload", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"42"`)
}

func TestSelect(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/active", `{"id":"42"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/view", "")
	var v wire.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "42", v.TrackID)
	assert.Equal(t, 7.11, v.Center.Lon)
	require.NotNil(t, v.LastPosition)
	assert.Equal(t, time.Unix(1010, 0).UTC(), *v.LastPosition)
	assert.Equal(t, "active", v.State)

	rec = f.do(t, http.MethodGet, "/api/active/track", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, geoJSONType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"LineString"`)

	rec = f.do(t, http.MethodGet, "/api/active/marker", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var marker struct {
		Geometry struct {
			Type        string    `json:"type"`
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &marker))
	assert.Equal(t, "Point", marker.Geometry.Type)
	require.GreaterOrEqual(t, len(marker.Geometry.Coordinates), 2)
	assert.Equal(t, 7.11, marker.Geometry.Coordinates[0])
	assert.Equal(t, 50.91, marker.Geometry.Coordinates[1])
}

func TestSelect_None(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/active", `{"id":"42"}`).Code)

	rec := f.do(t, http.MethodPut, "/api/active", `{"id":""}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/active/track", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/active/marker", "").Code)
	assert.Empty(t, f.view.Snapshot().TrackID)
}

func TestSelect_BadRequest(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{"", "{}", "not json", `{"id":7}`} {
		rec := f.do(t, http.MethodPut, "/api/active", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %q", body)
	}
}

func TestActiveMarker_EmptyTrack(t *testing.T) {
	f := newFixture(t)

	// the backend has no track 9, the load fails and nothing is drawn
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/active", `{"id":"9"}`).Code)

	rec := f.do(t, http.MethodGet, "/api/active/marker", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no coordinates")

	rec = f.do(t, http.MethodGet, "/api/view", "")
	assert.Contains(t, rec.Body.String(), `"state":"failed"`)
}

func readEnvelope(t *testing.T, c *ws.Conn) wire.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env wire.Envelope
	require.NoError(t, c.ReadJSON(&env))
	return env
}

func TestStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	c, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer c.Close()

	hello := readEnvelope(t, c)
	assert.Equal(t, wire.TypeHello, hello.Type)

	initial := readEnvelope(t, c)
	assert.Equal(t, wire.TypeView, initial.Type)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/api/active", `{"id":"42"}`).Code)

	// intermediate states may be coalesced; wait for the loaded one
	for {
		env := readEnvelope(t, c)
		require.Equal(t, wire.TypeView, env.Type)
		var v wire.View
		require.NoError(t, json.Unmarshal(env.Payload, &v))
		if v.TrackID == "42" && v.LastPosition != nil {
			assert.Equal(t, 7.11, v.Center.Lon)
			break
		}
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	f := newFixture(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/view")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
