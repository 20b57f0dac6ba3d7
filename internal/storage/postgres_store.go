package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/taxi-dispatch/internal/models"
)

// PostgresStore backs bookings, the ride audit log and last-known driver
// locations. The server treats it as a write-through target: hot-path
// decisions never wait on it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO bookings(confirmation_code, customer_name, customer_phone, pickup_lat, pickup_lng, destination, fare, status, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		b.ConfirmationCode, b.CustomerName, b.CustomerPhone, b.Pickup.Lat, b.Pickup.Lng, b.Destination, b.Fare, b.Status, b.CreatedAt, b.UpdatedAt)
	return err
}

func (p *PostgresStore) GetBooking(ctx context.Context, code string) (*models.Booking, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT confirmation_code, customer_name, customer_phone, pickup_lat, pickup_lng, destination, fare, status, created_at, updated_at
		 FROM bookings WHERE confirmation_code = $1`, code)
	var b models.Booking
	err := row.Scan(&b.ConfirmationCode, &b.CustomerName, &b.CustomerPhone, &b.Pickup.Lat, &b.Pickup.Lng, &b.Destination, &b.Fare, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", code, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *PostgresStore) UpdateBookingStatus(ctx context.Context, code, status string) (*models.Booking, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET status=$1, updated_at=$2 WHERE confirmation_code=$3`, status, time.Now(), code)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("booking %s: %w", code, models.ErrNotFound)
	}
	return p.GetBooking(ctx, code)
}

// RecordRide persists a terminal ride for audit.
func (p *PostgresStore) RecordRide(ctx context.Context, r models.Ride) error {
	var destLat, destLng sql.NullFloat64
	if r.Destination != nil {
		destLat = sql.NullFloat64{Float64: r.Destination.Lat, Valid: true}
		destLng = sql.NullFloat64{Float64: r.Destination.Lng, Valid: true}
	}
	var total sql.NullInt64
	if r.Estimate != nil {
		total = sql.NullInt64{Int64: r.Estimate.Total, Valid: true}
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rides(id, customer_id, driver_id, pickup_lat, pickup_lng, dest_lat, dest_lng, fare, status, created_at, completed_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, fare=EXCLUDED.fare, completed_at=EXCLUDED.completed_at`,
		r.ID, r.CustomerID, nullString(r.DriverID), r.Pickup.Lat, r.Pickup.Lng, destLat, destLng, total, string(r.Status), r.CreatedAt, r.CompletedAt)
	return err
}

// SaveDriverLocation upserts the driver's last-known position.
func (p *PostgresStore) SaveDriverLocation(ctx context.Context, s models.LocationSample) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO drivers(id, current_lat, current_lng, is_online, last_updated)
		 VALUES($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET current_lat=EXCLUDED.current_lat, current_lng=EXCLUDED.current_lng, is_online=EXCLUDED.is_online, last_updated=EXCLUDED.last_updated`,
		s.DriverID, s.Coord.Lat, s.Coord.Lng, s.Status == models.StatusOnline, s.Timestamp)
	return err
}

// RemoveDriverLocation marks the driver offline; the row stays for history.
func (p *PostgresStore) RemoveDriverLocation(ctx context.Context, driverID string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET is_online=false, last_updated=$1 WHERE id=$2`, time.Now(), driverID)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
