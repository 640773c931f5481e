package geo

import (
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{name: "same point", want: 0, tolerance: 0.001},
		{name: "one degree longitude at equator", lon2: 1, want: 111195, tolerance: 5},
		{name: "one degree latitude", lat2: 1, want: 111195, tolerance: 5},
		{
			name: "short hop near classroom",
			lat1: 23.828889, lon1: 78.775000,
			lat2: 23.829339, lon2: 78.775000,
			want: 50, tolerance: 1,
		},
		{
			name: "antipodal points",
			lat2: 0, lon2: 180,
			want: earthRadiusMeters * math.Pi, tolerance: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("DistanceMeters() = %.3f, want %.3f ± %.3f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestDistanceMetersSymmetric(t *testing.T) {
	a := DistanceMeters(23.828889, 78.775000, 23.830000, 78.776000)
	b := DistanceMeters(23.830000, 78.776000, 23.828889, 78.775000)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", a, b)
	}
}

func TestDistanceMetersNaNPropagates(t *testing.T) {
	if d := DistanceMeters(math.NaN(), 0, 0, 0); !math.IsNaN(d) {
		t.Errorf("expected NaN, got %v", d)
	}
}

func TestWithinRadiusInclusiveBoundary(t *testing.T) {
	centerLat, centerLon := 23.828889, 78.775000
	lat, lon := 23.829339, 78.775000 // ~50m north of center
	d := DistanceMeters(lat, lon, centerLat, centerLon)

	if ok, _ := WithinRadius(lat, lon, centerLat, centerLon, d); !ok {
		t.Error("point exactly on the boundary must be accepted")
	}
	if ok, _ := WithinRadius(lat, lon, centerLat, centerLon, d-0.001); ok {
		t.Error("point just outside the boundary must be rejected")
	}
	if ok, got := WithinRadius(lat, lon, centerLat, centerLon, 80); !ok || math.Abs(got-50) > 1 {
		t.Errorf("WithinRadius() = %v, %.2f; want inside with distance ≈50", ok, got)
	}
}
