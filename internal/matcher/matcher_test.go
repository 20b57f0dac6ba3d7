package matcher

import (
	"testing"

	"github.com/example/taxi-dispatch/internal/models"
)

type fakeGeo struct {
	drivers []models.NearbyDriver
}

func (f *fakeGeo) Nearby(c models.Coord, radiusMeters float64, limit int) []models.NearbyDriver {
	out := make([]models.NearbyDriver, 0, len(f.drivers))
	for _, d := range f.drivers {
		if d.DistanceMeters <= radiusMeters {
			out = append(out, d)
		}
	}
	return out
}

func pickup() models.Coord { return models.Coord{Lat: 35.6812, Lng: 139.7671} }

func TestFindNearbyOrdersByDistance(t *testing.T) {
	s := &Service{
		Geo: &fakeGeo{drivers: []models.NearbyDriver{
			{DriverID: "far", DistanceMeters: 900},
			{DriverID: "near", DistanceMeters: 100},
			{DriverID: "mid", DistanceMeters: 400},
		}},
		DefaultSpeedMps: 8,
		TopN:            10,
	}
	got := s.FindNearby(pickup(), 5000, 10)
	if len(got) != 3 {
		t.Fatalf("expected 3 drivers, got %d", len(got))
	}
	want := []string{"near", "mid", "far"}
	for i, id := range want {
		if got[i].DriverID != id {
			t.Fatalf("position %d: got %s, want %s", i, got[i].DriverID, id)
		}
	}
}

func TestFindNearbyTieBreaksByDriverID(t *testing.T) {
	s := &Service{
		Geo: &fakeGeo{drivers: []models.NearbyDriver{
			{DriverID: "zeta", DistanceMeters: 250},
			{DriverID: "alpha", DistanceMeters: 250},
		}},
		DefaultSpeedMps: 8,
	}
	got := s.FindNearby(pickup(), 5000, 10)
	if got[0].DriverID != "alpha" || got[1].DriverID != "zeta" {
		t.Fatalf("equidistant drivers must order by id: %s, %s", got[0].DriverID, got[1].DriverID)
	}
}

func TestFindNearbyCapsAtLimit(t *testing.T) {
	var drivers []models.NearbyDriver
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		drivers = append(drivers, models.NearbyDriver{DriverID: id, DistanceMeters: 100})
	}
	s := &Service{Geo: &fakeGeo{drivers: drivers}, DefaultSpeedMps: 8}
	got := s.FindNearby(pickup(), 5000, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers, got %d", len(got))
	}
}

func TestFindNearbyFillsEta(t *testing.T) {
	s := &Service{
		Geo:             &fakeGeo{drivers: []models.NearbyDriver{{DriverID: "d1", DistanceMeters: 800}}},
		DefaultSpeedMps: 8,
	}
	got := s.FindNearby(pickup(), 5000, 10)
	if got[0].EtaSeconds != 100 {
		t.Fatalf("eta = %f, want 100 (800m at 8 m/s)", got[0].EtaSeconds)
	}
}

func TestFindNearbyEmptyResult(t *testing.T) {
	s := &Service{Geo: &fakeGeo{}, DefaultSpeedMps: 8}
	got := s.FindNearby(pickup(), 5000, 10)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestFindNearbyFallback(t *testing.T) {
	s := &Service{
		Geo:             &fakeGeo{},
		Fallback:        &fakeGeo{drivers: []models.NearbyDriver{{DriverID: "d1", DistanceMeters: 50}}},
		DefaultSpeedMps: 8,
	}
	got := s.FindNearby(pickup(), 5000, 10)
	if len(got) != 1 || got[0].DriverID != "d1" {
		t.Fatalf("fallback not consulted: %+v", got)
	}
}
