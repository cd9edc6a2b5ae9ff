// Package source fetches GPX tracks and the track list from the beacon
// backend and decodes them into coordinates.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beacon-gps/trackview/internal/track"
	"github.com/beacon-gps/trackview/internal/transport"
	"github.com/tkrajina/gpxgo/gpx"
)

// SinceLayout is the format of the since query parameter: UTC with
// millisecond precision, the format the backend emits for fix times.
const SinceLayout = "2006-01-02T15:04:05.000Z"

const listPath = "/api/list"

// FormatError is returned when a response body cannot be decoded.
type FormatError struct {
	What string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.What, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Entry is one element of the track list.
type Entry struct {
	ID      string    `json:"id"`
	LastFix time.Time `json:"time"`
}

// UnmarshalJSON accepts the id as a JSON string or number.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   json.RawMessage `json:"id"`
		Time string          `json:"time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	id, err := decodeID(raw.ID)
	if err != nil {
		return err
	}
	e.ID = id

	e.LastFix = time.Time{}
	if raw.Time != "" {
		t, err := time.Parse(time.RFC3339Nano, raw.Time)
		if err != nil {
			return fmt.Errorf("entry %s: time: %w", id, err)
		}
		e.LastFix = t.UTC()
	}
	return nil
}

func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("entry without id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id: %w", err)
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return "", fmt.Errorf("id: %w", err)
	}
	return n.String(), nil
}

// Source reads tracks through a transport.Fetcher.
type Source struct {
	fetcher transport.Fetcher
}

// New creates a source reading through f.
func New(f transport.Fetcher) *Source {
	return &Source{fetcher: f}
}

// TrackPath returns the backend path of the GPX document for id.
func TrackPath(id string) string {
	return "/api/gpx/" + url.PathEscape(id) + ".gpx"
}

// FetchFull retrieves the whole track id.
func (s *Source) FetchFull(ctx context.Context, id string) ([]track.Coordinate, error) {
	return s.fetchTrack(ctx, id, nil)
}

// FetchSince retrieves the points of track id recorded at or after since.
// The backend treats since inclusively; callers merge with AppendIfNewer.
func (s *Source) FetchSince(ctx context.Context, id string, since time.Time) ([]track.Coordinate, error) {
	q := url.Values{}
	q.Set("since", FormatSince(since))
	return s.fetchTrack(ctx, id, q)
}

// FormatSince renders t the way the since parameter expects it.
func FormatSince(t time.Time) string {
	return t.UTC().Format(SinceLayout)
}

func (s *Source) fetchTrack(ctx context.Context, id string, q url.Values) ([]track.Coordinate, error) {
	body, err := s.fetcher.Get(ctx, TrackPath(id), q)
	if err != nil {
		return nil, fmt.Errorf("fetching track %s: %w", id, err)
	}
	coords, err := Decode(body)
	if err != nil {
		return nil, fmt.Errorf("track %s: %w", id, err)
	}
	return coords, nil
}

// ListTracks retrieves the identifiers the backend currently knows about.
func (s *Source) ListTracks(ctx context.Context) ([]Entry, error) {
	body, err := s.fetcher.Get(ctx, listPath, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching track list: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &FormatError{What: "track list", Err: err}
	}
	if entries == nil {
		// "null" is valid JSON but not a list
		return nil, &FormatError{What: "track list", Err: fmt.Errorf("not an array")}
	}
	return entries, nil
}

// Decode flattens every track segment of a GPX document into coordinates,
// in document order. Points without a timestamp are skipped. Sub-second
// precision of the <time> elements is kept.
func Decode(data []byte) ([]track.Coordinate, error) {
	doc, err := gpx.ParseBytes(data)
	if err != nil {
		return nil, &FormatError{What: "gpx", Err: err}
	}

	// gpxgo truncates fix times to whole seconds
	raw, err := trackPointTimes(data)
	if err != nil {
		return nil, &FormatError{What: "gpx", Err: err}
	}

	coords := []track.Coordinate{}
	i := 0
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, p := range seg.Points {
				at := p.Timestamp
				if i < len(raw) {
					if precise, err := time.Parse(time.RFC3339Nano, raw[i]); err == nil {
						at = precise
					}
				}
				i++
				if at.IsZero() {
					continue
				}
				coords = append(coords, track.CoordinateAt(p.Longitude, p.Latitude, at))
			}
		}
	}
	if i != len(raw) {
		return nil, &FormatError{What: "gpx", Err: fmt.Errorf("found %d track points but %d point times", i, len(raw))}
	}
	return coords, nil
}

// trackPointTimes returns the trimmed <time> text of every trk/trkseg/trkpt
// element in document order, "" for points without one.
func trackPointTimes(data []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		stack []string
		times []string
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return times, nil
		}
		if err != nil {
			return nil, err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			name := el.Name.Local
			parent := ""
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			switch {
			case name == "trkpt" && parent == "trkseg":
				times = append(times, "")
			case name == "time" && parent == "trkpt" && len(stack) >= 2 && stack[len(stack)-2] == "trkseg":
				var text string
				if err := dec.DecodeElement(&text, &el); err != nil {
					return nil, err
				}
				times[len(times)-1] = strings.TrimSpace(text)
				continue
			}
			stack = append(stack, name)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
}
