package location

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

// Persister receives accepted location samples off the hot path. Failures
// are logged and counted, never surfaced to the caller that produced the
// sample.
type Persister interface {
	SaveDriverLocation(ctx context.Context, s models.LocationSample) error
}

// Remover is an optional Persister capability. Backends that index
// drivers by position drop the entry when the driver disconnects or is
// evicted as stale, so a dead driver cannot stay matchable downstream.
type Remover interface {
	RemoveDriverLocation(ctx context.Context, driverID string) error
}

// Store holds the latest sample per online driver. All access is
// serialized by a single mutex; durable writes go through a bounded queue
// so updates never block on storage I/O.
type Store struct {
	mu      sync.RWMutex
	samples map[string]models.LocationSample

	window     time.Duration
	logger     *slog.Logger
	persisters []Persister
	queue      chan models.LocationSample
}

const persistQueueDepth = 1024

func NewStore(window time.Duration, logger *slog.Logger, persisters ...Persister) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		samples:    make(map[string]models.LocationSample),
		window:     window,
		logger:     logger,
		persisters: persisters,
		queue:      make(chan models.LocationSample, persistQueueDepth),
	}
}

// Update validates and overwrites the driver's sample, marking it online.
// The previous sample, if any, is discarded; only the latest is kept.
func (s *Store) Update(driverID string, lat, lng float64) error {
	if driverID == "" {
		return fmt.Errorf("%w: driver id required", models.ErrValidation)
	}
	c := models.Coord{Lat: lat, Lng: lng}
	if err := c.Validate(); err != nil {
		return err
	}

	sample := models.LocationSample{
		DriverID:  driverID,
		Coord:     c,
		Timestamp: time.Now(),
		Status:    models.StatusOnline,
	}

	s.mu.Lock()
	_, existed := s.samples[driverID]
	s.samples[driverID] = sample
	s.mu.Unlock()

	if !existed {
		observability.DriversOnline.Inc()
	}
	observability.LocationUpdatesTotal.Inc()

	// Fire-and-forget; a full queue drops the write rather than stalling
	// the connection's read loop.
	select {
	case s.queue <- sample:
	default:
		observability.StoreWriteFailures.Inc()
		s.logger.Warn("persist queue full, dropping location write", "driver_id", driverID)
	}
	return nil
}

// Get returns the latest sample for the driver, or false if unknown.
func (s *Store) Get(driverID string) (models.LocationSample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[driverID]
	return sample, ok
}

// Remove evicts the driver's sample, typically on disconnect.
func (s *Store) Remove(driverID string) {
	s.mu.Lock()
	_, existed := s.samples[driverID]
	delete(s.samples, driverID)
	s.mu.Unlock()
	if existed {
		observability.DriversOnline.Dec()
		s.removeDownstream(driverID)
	}
}

// OnlineCount returns the number of drivers with a live sample.
func (s *Store) OnlineCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Nearby scans online drivers and returns those within radiusMeters,
// unsorted; the matcher owns ordering and the result cap.
func (s *Store) Nearby(c models.Coord, radiusMeters float64, limit int) []models.NearbyDriver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.NearbyDriver, 0, limit)
	for id, sample := range s.samples {
		if sample.Status != models.StatusOnline {
			continue
		}
		d := geo.Haversine(c.Lat, c.Lng, sample.Coord.Lat, sample.Coord.Lng)
		if d > radiusMeters {
			continue
		}
		out = append(out, models.NearbyDriver{
			DriverID:       id,
			Coord:          sample.Coord,
			DistanceMeters: d,
		})
	}
	return out
}

// StartSweeper evicts samples older than the staleness window until ctx is
// done. A driver with no updates inside the window is implicitly offline.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.sweep(time.Now())
			}
		}
	}()
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	var evicted []string
	for id, sample := range s.samples {
		if now.Sub(sample.Timestamp) > s.window {
			delete(s.samples, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()
	for _, id := range evicted {
		observability.DriversOnline.Dec()
		observability.StaleEvictionsTotal.Inc()
		s.removeDownstream(id)
		s.logger.Info("evicted stale driver location", "driver_id", id)
	}
}

// removeDownstream propagates an eviction to every persister that can
// unindex a driver. Best-effort and off the caller's path.
func (s *Store) removeDownstream(driverID string) {
	for _, p := range s.persisters {
		r, ok := p.(Remover)
		if !ok {
			continue
		}
		go func(r Remover) {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := r.RemoveDriverLocation(ctx, driverID); err != nil {
				observability.StoreWriteFailures.Inc()
				s.logger.Warn("driver index removal failed", "driver_id", driverID, "error", err)
			}
		}(r)
	}
}

// StartPersister drains the write-behind queue. Each sample is offered to
// every configured persister with retry and exponential backoff; exhausted
// retries are logged and counted, and the in-memory state stays
// authoritative.
func (s *Store) StartPersister(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sample := <-s.queue:
				for _, p := range s.persisters {
					if err := persistWithRetry(ctx, p, sample, 3, 200*time.Millisecond); err != nil {
						observability.StoreWriteFailures.Inc()
						s.logger.Error("location persist failed", "driver_id", sample.DriverID, "error", err)
					}
				}
			}
		}
	}()
}

func persistWithRetry(ctx context.Context, p Persister, sample models.LocationSample, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = p.SaveDriverLocation(ctx, sample); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
