package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/models"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	failRem  int // number of times to fail Remove before succeeding
	geoCalls int
	hCalls   int
	remCalls int
	removed  []string
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	return nil
}

func (f *fakeUpdater) Remove(ctx context.Context, key, member string) error {
	f.remCalls++
	if f.remCalls <= f.failRem {
		return errors.New("zrem fail")
	}
	f.removed = append(f.removed, member)
	return nil
}

func sampleFor(id string) models.LocationSample {
	return models.LocationSample{
		DriverID:  id,
		Coord:     models.Coord{Lat: 35.6812, Lng: 139.7671},
		Timestamp: time.Now(),
		Status:    models.StatusOnline,
	}
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	ctx := context.Background()
	start := time.Now()
	if err := updateRedisWithRetry(ctx, f, "drivers_geo", sampleFor("d1"), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	ctx := context.Background()
	if err := updateRedisWithRetry(ctx, f, "drivers_geo", sampleFor("d1"), 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestRemoveRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failRem: 1}
	if err := removeRedisWithRetry(context.Background(), f, "drivers_geo", "d1", 3, time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if len(f.removed) != 1 || f.removed[0] != "d1" {
		t.Fatalf("expected d1 removed, got %v", f.removed)
	}
}

func TestRemoveRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failRem: 5}
	if err := removeRedisWithRetry(context.Background(), f, "drivers_geo", "d1", 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
