package geo

import (
	"math"
	"testing"
	"time"

	"visit_tracker/internal/models"
)

func TestDistanceSymmetric(t *testing.T) {
	pairs := []struct{ a, b Point }{
		{Point{-1.2921, 36.8219}, Point{-1.3031, 36.8073}},
		{Point{0, 0}, Point{0, 1}},
		{Point{51.5074, -0.1278}, Point{48.8566, 2.3522}},
	}
	for _, p := range pairs {
		ab := Distance(p.a, p.b)
		ba := Distance(p.b, p.a)
		if math.Abs(ab-ba) > 1e-6 {
			t.Errorf("distance(%v,%v) = %f, reversed = %f", p.a, p.b, ab, ba)
		}
	}
}

func TestDistanceCoincident(t *testing.T) {
	p := Point{-1.2921, 36.8219}
	if d := Distance(p, p); d != 0 {
		t.Errorf("distance to self = %f, want 0", d)
	}
}

func TestDistanceOneDegreeLongitudeAtEquator(t *testing.T) {
	d := Distance(Point{0, 0}, Point{0, 1})
	want := 111195.0
	if math.Abs(d-want) > want*0.01 {
		t.Errorf("distance = %f, want %f ±1%%", d, want)
	}
}

func TestEstimateETADriving(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	eta := EstimateETA(15000, models.ModeDriving, now)
	if eta == nil {
		t.Fatal("expected an eta")
	}
	want := now.Add(30 * time.Minute)
	if eta.Sub(want).Abs() > time.Second {
		t.Errorf("eta = %v, want %v", eta, want)
	}
}

func TestEstimateETAUnknownMode(t *testing.T) {
	if eta := EstimateETA(1000, models.TravelMode("hovercraft"), time.Now()); eta != nil {
		t.Errorf("expected nil eta for unknown mode, got %v", eta)
	}
}

func TestEstimateETAPerMode(t *testing.T) {
	now := time.Now()
	cases := []struct {
		mode models.TravelMode
		want time.Duration
	}{
		{models.ModeWalking, time.Hour},     // 5 km at 5 km/h
		{models.ModeCycling, 20 * time.Minute}, // 5 km at 15 km/h
		{models.ModeDriving, 10 * time.Minute}, // 5 km at 30 km/h
		{models.ModeTransit, 15 * time.Minute}, // 5 km at 20 km/h
	}
	for _, c := range cases {
		eta := EstimateETA(5000, c.mode, now)
		if eta == nil {
			t.Fatalf("%s: expected an eta", c.mode)
		}
		if got := eta.Sub(now); (got - c.want).Abs() > time.Second {
			t.Errorf("%s: eta offset = %v, want %v", c.mode, got, c.want)
		}
	}
}

func TestBearingRange(t *testing.T) {
	b := Bearing(Point{-1.2921, 36.8219}, Point{-1.3031, 36.8073})
	if b < 0 || b >= 360 {
		t.Errorf("bearing = %f, want [0,360)", b)
	}
	// Due east at the equator.
	if b := Bearing(Point{0, 0}, Point{0, 1}); math.Abs(b-90) > 0.01 {
		t.Errorf("eastward bearing = %f, want 90", b)
	}
}

func TestFormatDistance(t *testing.T) {
	cases := []struct {
		meters float64
		want   string
	}{
		{700, "700m"},
		{50, "50m"},
		{999, "999m"},
		{1000, "1.0km"},
		{1250, "1.2km"},
		{15000, "15.0km"},
	}
	for _, c := range cases {
		if got := FormatDistance(c.meters); got != c.want {
			t.Errorf("FormatDistance(%v) = %q, want %q", c.meters, got, c.want)
		}
	}
}
