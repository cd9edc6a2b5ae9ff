package geo

import (
	"errors"
	"testing"
)

func TestParseLonLat_Valid(t *testing.T) {
	lon, lat, err := ParseLonLat("7.13, 50.95")

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lon != 7.13 {
		t.Errorf("expected lon=7.13, got %f", lon)
	}
	if lat != 50.95 {
		t.Errorf("expected lat=50.95, got %f", lat)
	}
}

func TestParseLonLat_Invalid(t *testing.T) {
	for _, in := range []string{"", "7.13", "7.13,50.95,3", "abc,50", "7,xyz", "190,0", "0,-91"} {
		_, _, err := ParseLonLat(in)
		if !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("%q: expected ErrInvalidCoordinates, got %v", in, err)
		}
	}
}

func TestProject_Origin(t *testing.T) {
	x, y := Project(0, 0)

	if x < -1e-6 || x > 1e-6 || y < -1e-6 || y > 1e-6 {
		t.Errorf("expected origin, got %f,%f", x, y)
	}
}

func TestProject_DefaultCenter(t *testing.T) {
	x, y := Project(7.13, 50.95)

	// ol.proj.fromLonLat([7.13, 50.95])
	if x < 793700 || x > 793716 {
		t.Errorf("unexpected x %f", x)
	}
	if y < 6610000 || y > 6615000 {
		t.Errorf("unexpected y %f", y)
	}
}

func TestProjectPoint(t *testing.T) {
	p, err := ProjectPoint(7.13, 50.95)
	if err != nil {
		t.Fatal(err)
	}

	xy, ok := p.XY()
	if !ok {
		t.Fatal("expected non-empty point")
	}
	x, y := Project(7.13, 50.95)
	if xy.X != x || xy.Y != y {
		t.Errorf("expected %f,%f got %f,%f", x, y, xy.X, xy.Y)
	}
}
