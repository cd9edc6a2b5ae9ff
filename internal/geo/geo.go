// Package geo converts between the geographic coordinates the backend
// reports (EPSG:4326) and the web mercator plane maps are drawn on
// (EPSG:3857).
package geo

import (
	"errors"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

var toMercator = wgs84.EPSG().Transform(4326, 3857)

// ParseLonLat parses a "lon,lat" string.
func ParseLonLat(s string) (lon, lat float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidCoordinates
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, ErrInvalidCoordinates
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return 0, 0, ErrInvalidCoordinates
	}
	return lon, lat, nil
}

// Project converts a longitude and latitude to web mercator x/y.
func Project(lon, lat float64) (x, y float64) {
	x, y, _ = toMercator(lon, lat, 0)
	return x, y
}

// ProjectPoint converts a longitude and latitude to a web mercator point.
func ProjectPoint(lon, lat float64) (geom.Point, error) {
	x, y := Project(lon, lat)
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: x, Y: y},
		Type: geom.DimXY,
	})
}
