package eta

import (
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

func TestEstimateSeconds(t *testing.T) {
	if got := EstimateSeconds(800, 8); got != 100 {
		t.Fatalf("800m at 8m/s = %f, want 100", got)
	}
	// zero speed falls back to the city default
	if got := EstimateSeconds(800, 0); got != 100 {
		t.Fatalf("default speed estimate = %f, want 100", got)
	}
}

func TestCacheHitAndExpiry(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	a := models.Coord{Lat: 35.6812, Lng: 139.7671}
	b := models.Coord{Lat: 35.6896, Lng: 139.6995}

	if _, ok := c.Get(a, b); ok {
		t.Fatal("empty cache should miss")
	}
	c.Set(a, b, 42)
	if v, ok := c.Get(a, b); !ok || v != 42 {
		t.Fatalf("expected hit 42, got %f ok=%v", v, ok)
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(a, b); ok {
		t.Fatal("expired entry should miss")
	}
}

func TestCacheKeysAreDirectional(t *testing.T) {
	c := NewCache(time.Minute)
	a := models.Coord{Lat: 1, Lng: 2}
	b := models.Coord{Lat: 3, Lng: 4}
	c.Set(a, b, 10)
	if _, ok := c.Get(b, a); ok {
		t.Fatal("reverse direction should be a separate key")
	}
}
