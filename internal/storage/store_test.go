package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/models"
)

func TestMemoryBookingLifecycle(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	b := &models.Booking{
		ConfirmationCode: "ZKAAAA1111",
		CustomerName:     "Tanaka",
		Pickup:           models.Coord{Lat: 35.6812, Lng: 139.7671},
		Status:           "pending",
		CreatedAt:        time.Now(),
	}
	if err := m.CreateBooking(ctx, b); err != nil {
		t.Fatal(err)
	}

	got, err := m.GetBooking(ctx, "ZKAAAA1111")
	if err != nil {
		t.Fatal(err)
	}
	if got.CustomerName != "Tanaka" {
		t.Fatalf("got %+v", got)
	}

	upd, err := m.UpdateBookingStatus(ctx, "ZKAAAA1111", "confirmed")
	if err != nil {
		t.Fatal(err)
	}
	if upd.Status != "confirmed" {
		t.Fatalf("status = %s", upd.Status)
	}
}

func TestMemoryGetMissingBooking(t *testing.T) {
	m := NewMemoryStore()
	if _, err := m.GetBooking(context.Background(), "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.UpdateBookingStatus(context.Background(), "nope", "confirmed"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryBookingCopiesAreIsolated(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	b := &models.Booking{ConfirmationCode: "ZKBBBB2222", CustomerName: "Sato", Status: "pending"}
	_ = m.CreateBooking(ctx, b)

	got, _ := m.GetBooking(ctx, "ZKBBBB2222")
	got.Status = "mangled"

	again, _ := m.GetBooking(ctx, "ZKBBBB2222")
	if again.Status != "pending" {
		t.Fatalf("caller mutation leaked into the store: %s", again.Status)
	}
}

func TestMemoryRecordRide(t *testing.T) {
	m := NewMemoryStore()
	r := models.Ride{ID: "r1", CustomerID: "c1", Status: models.RideCompleted}
	if err := m.RecordRide(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	rides := m.RecordedRides()
	if len(rides) != 1 || rides[0].ID != "r1" {
		t.Fatalf("audit log: %+v", rides)
	}
}

func TestMemorySaveDriverLocation(t *testing.T) {
	m := NewMemoryStore()
	s := models.LocationSample{DriverID: "d1", Coord: models.Coord{Lat: 1, Lng: 2}, Timestamp: time.Now()}
	if err := m.SaveDriverLocation(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	s.Coord.Lat = 3
	if err := m.SaveDriverLocation(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.drivers["d1"].Coord.Lat != 3 {
		t.Fatalf("latest sample should win: %+v", m.drivers["d1"])
	}
}
