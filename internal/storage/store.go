package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/example/taxi-dispatch/internal/models"
)

// BookingStore defines the durable operations of the request/response
// surface. Absence of a durable backend degrades to MemoryStore rather
// than failing requests.
type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, confirmationCode string) (*models.Booking, error)
	UpdateBookingStatus(ctx context.Context, confirmationCode, status string) (*models.Booking, error)
}

// MemoryStore is the in-process fallback. It also records terminal rides
// and driver locations so the process behaves the same with or without
// Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]*models.Booking
	rides    []models.Ride
	drivers  map[string]models.LocationSample
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]*models.Booking),
		drivers:  make(map[string]models.LocationSample),
	}
}

func (m *MemoryStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	m.bookings[b.ConfirmationCode] = &cp
	return nil
}

func (m *MemoryStore) GetBooking(ctx context.Context, code string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[code]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", code, models.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) UpdateBookingStatus(ctx context.Context, code, status string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[code]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", code, models.ErrNotFound)
	}
	b.Status = status
	cp := *b
	return &cp, nil
}

// RecordRide appends a terminal ride to the audit slice.
func (m *MemoryStore) RecordRide(ctx context.Context, r models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides = append(m.rides, r)
	return nil
}

// SaveDriverLocation keeps the last persisted sample per driver.
func (m *MemoryStore) SaveDriverLocation(ctx context.Context, s models.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[s.DriverID] = s
	return nil
}

// RemoveDriverLocation drops the driver's persisted sample on
// disconnect or staleness eviction.
func (m *MemoryStore) RemoveDriverLocation(ctx context.Context, driverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drivers, driverID)
	return nil
}

// RecordedRides returns a copy of the audit log, mainly for tests.
func (m *MemoryStore) RecordedRides() []models.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, len(m.rides))
	copy(out, m.rides)
	return out
}
