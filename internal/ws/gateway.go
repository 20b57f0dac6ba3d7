package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/taxi-dispatch/internal/location"
	"github.com/example/taxi-dispatch/internal/matcher"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/notify"
	"github.com/example/taxi-dispatch/internal/registry"
	"github.com/example/taxi-dispatch/internal/ride"
)

// MessageType is the closed set of inbound message kinds. Dispatch goes
// through a handler table rather than a string switch so an unhandled
// kind is a lookup miss, answered with an error envelope.
type MessageType string

const (
	TypeDriverConnect   MessageType = "driver_connect"
	TypeCustomerConnect MessageType = "customer_connect"
	TypeLocationUpdate  MessageType = "location_update"
	TypeRideRequest     MessageType = "ride_request"
	TypeRideAccept      MessageType = "ride_accept"
	TypeRideStart       MessageType = "ride_start"
	TypeRideEnd         MessageType = "ride_end"
	TypeRideCancel      MessageType = "ride_cancel"
	TypeNearbyDrivers   MessageType = "request_nearby_drivers"
)

// Conn is what the gateway needs from a websocket connection.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

type inbound struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// client is one live connection. It implements registry.Conn so that
// every write, whether a direct reply or a fan-out event, funnels through
// the same mutex.
type client struct {
	conn Conn
	mu   sync.Mutex

	role models.Role
	id   string
}

func (c *client) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *client) Close() error { return c.conn.Close() }

// Payments optionally receives a fare hold when a ride completes.
type Payments interface {
	HoldFare(ctx context.Context, amountYen int64, customerID string) (string, error)
}

type handlerFunc func(g *Gateway, c *client, data json.RawMessage)

// Gateway runs the connection protocol: one read loop per connection,
// dispatching into the shared components.
type Gateway struct {
	Registry  *registry.Registry
	Locations *location.Store
	Rides     *ride.Manager
	Matcher   *matcher.Service
	Notifier  *notify.Notifier
	Payments  Payments // optional
	Logger    *slog.Logger

	DefaultRadiusMeters float64
}

var handlers = map[MessageType]handlerFunc{
	TypeDriverConnect:   (*Gateway).handleDriverConnect,
	TypeCustomerConnect: (*Gateway).handleCustomerConnect,
	TypeLocationUpdate:  (*Gateway).handleLocationUpdate,
	TypeRideRequest:     (*Gateway).handleRideRequest,
	TypeRideAccept:      (*Gateway).handleRideAccept,
	TypeRideStart:       (*Gateway).handleRideStart,
	TypeRideEnd:         (*Gateway).handleRideEnd,
	TypeRideCancel:      (*Gateway).handleRideCancel,
	TypeNearbyDrivers:   (*Gateway).handleNearbyDrivers,
}

// HandleConn reads messages until the connection dies, then releases
// every hold the participant had: registry entry, location sample, and
// the disconnect flag on any active ride.
func (g *Gateway) HandleConn(conn Conn) {
	c := &client{conn: conn}
	defer g.teardown(c)

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		h, ok := handlers[msg.Type]
		if !ok {
			_ = c.WriteJSON(models.Fail("error", "unknown message type: "+string(msg.Type)))
			continue
		}
		h(g, c, msg.Data)
	}
}

func (g *Gateway) teardown(c *client) {
	_ = c.Close()
	if c.id == "" {
		return
	}
	if !g.Registry.Unregister(c.id, c.role, c) {
		return // a newer connection replaced this one; leave its state alone
	}
	if c.role == models.RoleDriver {
		g.Locations.Remove(c.id)
		g.Rides.DriverDisconnected(c.id)
		g.Notifier.DriverCountChanged(g.Registry.DriverCount())
	}
}

func (g *Gateway) handleDriverConnect(c *client, data json.RawMessage) {
	// one identity per connection; a second connect would leave the
	// first registry entry dangling at teardown
	if c.id != "" {
		_ = c.WriteJSON(models.Fail("driver_connected", "connection already identified"))
		return
	}
	var req struct {
		DriverID string `json:"driver_id"`
		Name     string `json:"name"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.DriverID == "" {
		_ = c.WriteJSON(models.Fail("driver_connected", "driver id required"))
		return
	}
	c.id, c.role = req.DriverID, models.RoleDriver
	g.Registry.Register(c.id, c.role, c)
	_ = c.WriteJSON(models.OK("driver_connected", map[string]string{
		"driver_id": req.DriverID,
		"message":   "driver " + req.Name + " connected",
	}))
	g.Notifier.DriverCountChanged(g.Registry.DriverCount())
}

func (g *Gateway) handleCustomerConnect(c *client, data json.RawMessage) {
	if c.id != "" {
		_ = c.WriteJSON(models.Fail("customer_connected", "connection already identified"))
		return
	}
	var req struct {
		CustomerID string `json:"customer_id"`
		RideID     string `json:"ride_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.CustomerID == "" {
		_ = c.WriteJSON(models.Fail("customer_connected", "customer id required"))
		return
	}
	c.id, c.role = req.CustomerID, models.RoleCustomer
	g.Registry.Register(c.id, c.role, c)
	_ = c.WriteJSON(models.OK("customer_connected", map[string]string{"customer_id": req.CustomerID}))

	// a customer reconnecting mid-ride gets the driver's position right away
	if req.RideID != "" {
		if r, ok := g.Rides.Get(req.RideID); ok && r.DriverID != "" {
			if sample, ok := g.Locations.Get(r.DriverID); ok {
				_ = c.WriteJSON(models.OK("driver_location", map[string]any{
					"ride_id":   r.ID,
					"driver_id": r.DriverID,
					"coord":     sample.Coord,
					"timestamp": sample.Timestamp,
				}))
			}
		}
	}
}

func (g *Gateway) handleLocationUpdate(c *client, data json.RawMessage) {
	if c.role != models.RoleDriver {
		_ = c.WriteJSON(models.Fail("location_updated", "driver not authenticated"))
		return
	}
	var req struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		_ = c.WriteJSON(models.Fail("location_updated", "invalid location data"))
		return
	}
	if err := g.Locations.Update(c.id, req.Lat, req.Lng); err != nil {
		_ = c.WriteJSON(models.Fail("location_updated", err.Error()))
		return
	}
	if sample, ok := g.Locations.Get(c.id); ok {
		g.Rides.AppendTrace(c.id, sample)
	}
	_ = c.WriteJSON(models.OK("location_updated", map[string]any{"timestamp": time.Now()}))
}

func (g *Gateway) handleRideRequest(c *client, data json.RawMessage) {
	if c.role != models.RoleCustomer {
		_ = c.WriteJSON(models.Fail("ride_requested", "customer not authenticated"))
		return
	}
	var req struct {
		Pickup      models.Coord  `json:"pickup"`
		Destination *models.Coord `json:"destination"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		_ = c.WriteJSON(models.Fail("ride_requested", "invalid ride request"))
		return
	}
	r, candidates, err := g.Rides.Request(c.id, req.Pickup, req.Destination)
	if err != nil {
		_ = c.WriteJSON(models.Fail("ride_requested", err.Error()))
		return
	}
	_ = c.WriteJSON(models.OK("ride_requested", map[string]any{
		"ride_id":    r.ID,
		"status":     r.Status,
		"candidates": len(candidates),
		"estimate":   r.Estimate,
	}))
}

func (g *Gateway) handleRideAccept(c *client, data json.RawMessage) {
	if c.role != models.RoleDriver {
		_ = c.WriteJSON(models.Fail("ride_accept", "driver not authenticated"))
		return
	}
	var req struct {
		RideID string `json:"ride_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RideID == "" {
		_ = c.WriteJSON(models.Fail("ride_accept", "ride id required"))
		return
	}
	r, err := g.Rides.Accept(req.RideID, c.id)
	switch {
	case errors.Is(err, ride.ErrRideTaken):
		_ = c.WriteJSON(models.Fail("ride_accept", "taken"))
	case err != nil:
		_ = c.WriteJSON(models.Fail("ride_accept", err.Error()))
	default:
		_ = c.WriteJSON(models.OK("ride_accept", r))
	}
}

func (g *Gateway) handleRideStart(c *client, data json.RawMessage) {
	if c.role != models.RoleDriver {
		_ = c.WriteJSON(models.Fail("ride_start", "driver not authenticated"))
		return
	}
	var req struct {
		RideID string `json:"ride_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RideID == "" {
		_ = c.WriteJSON(models.Fail("ride_start", "ride id required"))
		return
	}
	r, err := g.Rides.Start(req.RideID, c.id)
	if err != nil {
		_ = c.WriteJSON(models.Fail("ride_start", err.Error()))
		return
	}
	_ = c.WriteJSON(models.OK("ride_start", r))
}

func (g *Gateway) handleRideEnd(c *client, data json.RawMessage) {
	if c.role != models.RoleDriver {
		_ = c.WriteJSON(models.Fail("ride_end", "driver not authenticated"))
		return
	}
	var req struct {
		RideID string  `json:"ride_id"`
		Surge  float64 `json:"surge_multiplier"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RideID == "" {
		_ = c.WriteJSON(models.Fail("ride_end", "ride id required"))
		return
	}
	r, err := g.Rides.Complete(req.RideID, c.id, req.Surge)
	if err != nil {
		_ = c.WriteJSON(models.Fail("ride_end", err.Error()))
		return
	}
	_ = c.WriteJSON(models.OK("ride_end", r))
	g.holdFare(r)
}

func (g *Gateway) handleRideCancel(c *client, data json.RawMessage) {
	if c.role != models.RoleCustomer {
		_ = c.WriteJSON(models.Fail("ride_cancel", "customer not authenticated"))
		return
	}
	var req struct {
		RideID string `json:"ride_id"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.RideID == "" {
		_ = c.WriteJSON(models.Fail("ride_cancel", "ride id required"))
		return
	}
	r, err := g.Rides.Cancel(req.RideID, req.Reason)
	if err != nil {
		_ = c.WriteJSON(models.Fail("ride_cancel", err.Error()))
		return
	}
	_ = c.WriteJSON(models.OK("ride_cancel", r))
}

func (g *Gateway) holdFare(r *models.Ride) {
	if g.Payments == nil || r.Estimate == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := g.Payments.HoldFare(ctx, r.Estimate.Total, r.CustomerID); err != nil {
			g.Logger.Error("fare hold failed", "ride_id", r.ID, "error", err)
		}
	}()
}

func (g *Gateway) handleNearbyDrivers(c *client, data json.RawMessage) {
	var req struct {
		Lat    float64 `json:"lat"`
		Lng    float64 `json:"lng"`
		Radius float64 `json:"radius"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		_ = c.WriteJSON(models.Fail("nearby_drivers", "location required"))
		return
	}
	point := models.Coord{Lat: req.Lat, Lng: req.Lng}
	if err := point.Validate(); err != nil {
		_ = c.WriteJSON(models.Fail("nearby_drivers", err.Error()))
		return
	}
	radius := req.Radius
	if radius <= 0 {
		radius = g.DefaultRadiusMeters
	}
	drivers := g.Matcher.FindNearby(point, radius, 0)
	_ = c.WriteJSON(models.OK("nearby_drivers", map[string]any{
		"drivers": drivers,
		"count":   len(drivers),
	}))
}
