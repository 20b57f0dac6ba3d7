package models

import (
	"errors"
	"fmt"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate rejects coordinates outside the valid lat/lng ranges.
func (c Coord) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrValidation, c.Lat)
	}
	if c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrValidation, c.Lng)
	}
	return nil
}

type Role string

const (
	RoleDriver   Role = "driver"
	RoleCustomer Role = "customer"
)

type DriverStatus string

const (
	StatusOnline  DriverStatus = "online"
	StatusOffline DriverStatus = "offline"
)

// LocationSample is the latest known position of a driver. The location
// store keeps exactly one sample per driver; updates overwrite.
type LocationSample struct {
	DriverID  string       `json:"driver_id"`
	Coord     Coord        `json:"coord"`
	Timestamp time.Time    `json:"timestamp"`
	Status    DriverStatus `json:"status"`
}

type RideStatus string

const (
	RideRequested  RideStatus = "requested"
	RideSearching  RideStatus = "searching"
	RideAssigned   RideStatus = "assigned"
	RideInProgress RideStatus = "in_progress"
	RideCompleted  RideStatus = "completed"
	RideCancelled  RideStatus = "cancelled"
)

// Terminal reports whether no further transitions are permitted.
func (s RideStatus) Terminal() bool {
	return s == RideCompleted || s == RideCancelled
}

type Ride struct {
	ID          string           `json:"id"`
	CustomerID  string           `json:"customer_id"`
	DriverID    string           `json:"driver_id,omitempty"`
	Pickup      Coord            `json:"pickup"`
	Destination *Coord           `json:"destination,omitempty"`
	Estimate    *FareBreakdown   `json:"estimate,omitempty"`
	Status      RideStatus       `json:"status"`
	DriverGone  bool             `json:"driver_gone,omitempty"`
	Trace       []LocationSample `json:"trace,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	AssignedAt  *time.Time       `json:"assigned_at,omitempty"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// FareBreakdown itemizes a computed fare in yen.
type FareBreakdown struct {
	Base           int64   `json:"base"`
	Distance       int64   `json:"distance"`
	Time           int64   `json:"time"`
	NightSurcharge int64   `json:"night_surcharge"`
	Surge          float64 `json:"surge_multiplier"`
	Total          int64   `json:"total"`
}

// NearbyDriver is one proximity-query result.
type NearbyDriver struct {
	DriverID       string  `json:"driver_id"`
	Coord          Coord   `json:"coord"`
	DistanceMeters float64 `json:"distance_m"`
	EtaSeconds     float64 `json:"eta_seconds"`
}

// BookingStatuses is the closed set accepted by the booking status endpoint.
var BookingStatuses = map[string]bool{
	"pending":   true,
	"confirmed": true,
	"assigned":  true,
	"picked_up": true,
	"completed": true,
	"cancelled": true,
}

// Booking is the durable request/response record keyed by confirmation code.
type Booking struct {
	ConfirmationCode string    `json:"confirmation_code"`
	CustomerName     string    `json:"customer_name"`
	CustomerPhone    string    `json:"customer_phone,omitempty"`
	Pickup           Coord     `json:"pickup"`
	Destination      string    `json:"destination"`
	Fare             int64     `json:"fare"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Error taxonomy shared across components. Packages wrap these with context
// so callers can classify failures with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Envelope is the outbound WebSocket message shape. Data carries the
// payload on success; Message carries the reason on failure.
type Envelope struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func OK(eventType string, data any) Envelope {
	return Envelope{Type: eventType, Success: true, Data: data}
}

func Fail(eventType, message string) Envelope {
	return Envelope{Type: eventType, Success: false, Message: message}
}
