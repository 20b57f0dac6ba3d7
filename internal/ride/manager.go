package ride

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/fare"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

var (
	ErrNotFound          = fmt.Errorf("ride %w", models.ErrNotFound)
	ErrRideTaken         = fmt.Errorf("ride already taken: %w", models.ErrConflict)
	ErrDriverBusy        = fmt.Errorf("driver already assigned: %w", models.ErrConflict)
	ErrInvalidTransition = fmt.Errorf("invalid ride transition: %w", models.ErrConflict)
	ErrNotRideDriver     = fmt.Errorf("ride belongs to another driver: %w", models.ErrConflict)
)

// Matcher finds candidate drivers for a pickup point.
type Matcher interface {
	FindNearby(c models.Coord, radiusMeters float64, limit int) []models.NearbyDriver
}

// Notifier pushes lifecycle events to the affected parties.
type Notifier interface {
	Driver(driverID, eventType string, payload any)
	Customer(customerID, eventType string, payload any)
}

// AuditLog receives terminal rides for durable retention. Failures are
// logged; the active set in memory stays authoritative.
type AuditLog interface {
	RecordRide(ctx context.Context, r models.Ride) error
}

// Manager owns the active-ride set and its state machine. A single mutex
// serializes every transition, which is what makes first-accept-wins and
// the one-active-ride-per-driver invariant hold under concurrent accepts.
type Manager struct {
	mu       sync.Mutex
	rides    map[string]*models.Ride
	byDriver map[string]string // driver id -> active ride id

	matcher      Matcher
	notifier     Notifier
	audit        AuditLog
	tariff       fare.Tariff
	searchRadius float64
	candidateCap int
	logger       *slog.Logger
	now          func() time.Time
}

type Config struct {
	SearchRadiusMeters float64
	CandidateCap       int
	Tariff             fare.Tariff
}

func NewManager(m Matcher, n Notifier, audit AuditLog, cfg Config, logger *slog.Logger) *Manager {
	if cfg.SearchRadiusMeters <= 0 {
		cfg.SearchRadiusMeters = 5000
	}
	if cfg.CandidateCap <= 0 {
		cfg.CandidateCap = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		rides:        make(map[string]*models.Ride),
		byDriver:     make(map[string]string),
		matcher:      m,
		notifier:     n,
		audit:        audit,
		tariff:       cfg.Tariff,
		searchRadius: cfg.SearchRadiusMeters,
		candidateCap: cfg.CandidateCap,
		logger:       logger,
		now:          time.Now,
	}
}

// Request creates a ride, runs the proximity search and pushes the offer
// to every candidate driver. The ride lands in Searching regardless of
// whether any candidates were found; an unmatched ride stays searchable
// until the customer cancels.
func (m *Manager) Request(customerID string, pickup models.Coord, dest *models.Coord) (*models.Ride, []models.NearbyDriver, error) {
	if customerID == "" {
		return nil, nil, fmt.Errorf("%w: customer id required", models.ErrValidation)
	}
	if err := pickup.Validate(); err != nil {
		return nil, nil, err
	}
	if dest != nil {
		if err := dest.Validate(); err != nil {
			return nil, nil, err
		}
	}

	now := m.now()
	r := &models.Ride{
		ID:         newID(),
		CustomerID: customerID,
		Pickup:     pickup,
		Status:     models.RideRequested,
		CreatedAt:  now,
	}
	if dest != nil {
		d := *dest
		r.Destination = &d
		est := m.estimate(pickup, d, now)
		r.Estimate = &est
	}

	candidates := m.matcher.FindNearby(pickup, m.searchRadius, m.candidateCap)

	m.mu.Lock()
	r.Status = models.RideSearching
	m.rides[r.ID] = r
	snapshot := *r
	m.mu.Unlock()
	observability.RidesActive.Inc()

	offer := map[string]any{
		"ride_id":     snapshot.ID,
		"customer_id": snapshot.CustomerID,
		"pickup":      snapshot.Pickup,
		"destination": snapshot.Destination,
		"estimate":    snapshot.Estimate,
	}
	for _, c := range candidates {
		m.notifier.Driver(c.DriverID, "ride_request", offer)
	}
	m.logger.Info("ride requested", "ride_id", snapshot.ID, "customer_id", customerID, "candidates", len(candidates))
	return &snapshot, candidates, nil
}

// Accept binds the driver to the ride. First acceptance wins; later
// attempts get ErrRideTaken, and a driver with another active assignment
// gets ErrDriverBusy. All of it happens under one lock.
func (m *Manager) Accept(rideID, driverID string) (*models.Ride, error) {
	if rideID == "" || driverID == "" {
		return nil, fmt.Errorf("%w: ride id and driver id required", models.ErrValidation)
	}

	m.mu.Lock()
	r, ok := m.rides[rideID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if r.Status != models.RideSearching {
		m.mu.Unlock()
		if r.Status == models.RideAssigned || r.Status == models.RideInProgress {
			return nil, ErrRideTaken
		}
		return nil, ErrInvalidTransition
	}
	if _, busy := m.byDriver[driverID]; busy {
		m.mu.Unlock()
		return nil, ErrDriverBusy
	}
	now := m.now()
	r.Status = models.RideAssigned
	r.DriverID = driverID
	r.AssignedAt = &now
	m.byDriver[driverID] = rideID
	snapshot := *r
	m.mu.Unlock()

	m.notifier.Customer(snapshot.CustomerID, "ride_accepted", snapshot)
	m.logger.Info("ride assigned", "ride_id", rideID, "driver_id", driverID)
	return &snapshot, nil
}

// Start confirms pickup and moves the ride to InProgress. Only the
// assigned driver may start the ride.
func (m *Manager) Start(rideID, driverID string) (*models.Ride, error) {
	m.mu.Lock()
	r, ok := m.rides[rideID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if r.Status != models.RideAssigned {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if r.DriverID != driverID {
		m.mu.Unlock()
		return nil, ErrNotRideDriver
	}
	now := m.now()
	r.Status = models.RideInProgress
	r.StartedAt = &now
	snapshot := *r
	m.mu.Unlock()

	m.notifier.Customer(snapshot.CustomerID, "ride_started", snapshot)
	m.notifier.Driver(snapshot.DriverID, "ride_started", snapshot)
	return &snapshot, nil
}

// Complete confirms drop-off, computes the final fare from the route
// trace and releases the driver. Only the assigned driver may complete
// the ride. The ride leaves the active set and is retained only in the
// audit log.
func (m *Manager) Complete(rideID, driverID string, surge float64) (*models.Ride, error) {
	m.mu.Lock()
	r, ok := m.rides[rideID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if r.Status != models.RideInProgress {
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if r.DriverID != driverID {
		m.mu.Unlock()
		return nil, ErrNotRideDriver
	}
	now := m.now()
	r.Status = models.RideCompleted
	r.CompletedAt = &now
	final := fare.Calculate(m.tariff, traceDistanceKm(r), tripMinutes(r, now), now, surge)
	r.Estimate = &final
	delete(m.byDriver, r.DriverID)
	delete(m.rides, rideID)
	snapshot := *r
	m.mu.Unlock()
	observability.RidesActive.Dec()

	m.notifier.Customer(snapshot.CustomerID, "ride_completed", snapshot)
	m.notifier.Driver(snapshot.DriverID, "ride_completed", snapshot)
	m.record(snapshot)
	return &snapshot, nil
}

// Cancel is valid from Requested, Searching and Assigned. Once a ride is
// underway it can only complete.
func (m *Manager) Cancel(rideID, reason string) (*models.Ride, error) {
	m.mu.Lock()
	r, ok := m.rides[rideID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	switch r.Status {
	case models.RideRequested, models.RideSearching, models.RideAssigned:
	default:
		m.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	now := m.now()
	r.Status = models.RideCancelled
	r.CompletedAt = &now
	if r.DriverID != "" {
		delete(m.byDriver, r.DriverID)
	}
	delete(m.rides, rideID)
	snapshot := *r
	m.mu.Unlock()
	observability.RidesActive.Dec()

	payload := map[string]any{"ride": snapshot, "reason": reason}
	m.notifier.Customer(snapshot.CustomerID, "ride_cancelled", payload)
	if snapshot.DriverID != "" {
		m.notifier.Driver(snapshot.DriverID, "ride_cancelled", payload)
	}
	m.record(snapshot)
	return &snapshot, nil
}

// Get returns a snapshot of an active ride.
func (m *Manager) Get(rideID string) (models.Ride, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return models.Ride{}, false
	}
	return *r, true
}

// AppendTrace records a driver position on its in-progress ride and
// relays it to the tracking customer. Returns false when the driver has
// no ride underway.
func (m *Manager) AppendTrace(driverID string, s models.LocationSample) bool {
	m.mu.Lock()
	rideID, ok := m.byDriver[driverID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	r, ok := m.rides[rideID]
	if !ok || r.Status != models.RideInProgress {
		m.mu.Unlock()
		return false
	}
	r.Trace = append(r.Trace, s)
	customerID := r.CustomerID
	m.mu.Unlock()

	m.notifier.Customer(customerID, "driver_location", map[string]any{
		"ride_id":   rideID,
		"driver_id": driverID,
		"coord":     s.Coord,
		"timestamp": s.Timestamp,
	})
	return true
}

// DriverDisconnected flags the driver's active ride and tells the
// customer. The ride is not auto-cancelled; recovery policy is left to
// the caller.
func (m *Manager) DriverDisconnected(driverID string) {
	m.mu.Lock()
	rideID, ok := m.byDriver[driverID]
	if !ok {
		m.mu.Unlock()
		return
	}
	r := m.rides[rideID]
	r.DriverGone = true
	customerID := r.CustomerID
	status := r.Status
	m.mu.Unlock()

	m.notifier.Customer(customerID, "driver_disconnected", map[string]any{
		"ride_id":   rideID,
		"driver_id": driverID,
		"status":    status,
	})
	m.logger.Warn("assigned driver disconnected", "ride_id", rideID, "driver_id", driverID)
}

// RideForDriver returns the driver's active ride id, if any.
func (m *Manager) RideForDriver(driverID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byDriver[driverID]
	return id, ok
}

// ActiveCount returns the size of the active-ride set.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rides)
}

func (m *Manager) estimate(pickup, dest models.Coord, at time.Time) models.FareBreakdown {
	distKm := geo.Haversine(pickup.Lat, pickup.Lng, dest.Lat, dest.Lng) / 1000
	// free-flow duration assumption for estimates; traffic time only
	// enters the final fare
	durationMin := distKm * m.tariff.FreeFlowMinPerKm
	return fare.Calculate(m.tariff, distKm, durationMin, at, 1.0)
}

func (m *Manager) record(r models.Ride) {
	if m.audit == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := m.audit.RecordRide(ctx, r); err != nil {
			observability.StoreWriteFailures.Inc()
			m.logger.Error("ride audit write failed", "ride_id", r.ID, "error", err)
		}
	}()
}

func traceDistanceKm(r *models.Ride) float64 {
	if len(r.Trace) < 2 {
		if r.Destination != nil {
			return geo.Haversine(r.Pickup.Lat, r.Pickup.Lng, r.Destination.Lat, r.Destination.Lng) / 1000
		}
		return 0
	}
	var meters float64
	for i := 1; i < len(r.Trace); i++ {
		a, b := r.Trace[i-1].Coord, r.Trace[i].Coord
		meters += geo.Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
	}
	return meters / 1000
}

func tripMinutes(r *models.Ride, now time.Time) float64 {
	if r.StartedAt == nil {
		return 0
	}
	return now.Sub(*r.StartedAt).Minutes()
}

// IsConflict reports whether err is part of the conflict taxonomy.
func IsConflict(err error) bool { return errors.Is(err, models.ErrConflict) }

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
