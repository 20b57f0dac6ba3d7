package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/taxi-dispatch/internal/config"
	"github.com/example/taxi-dispatch/internal/logging"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		DefaultSpeedMps:    8,
		MatcherTopN:        10,
		SearchRadiusMeters: 5000,
		StalenessWindow:    5 * time.Minute,
		SweepInterval:      30 * time.Second,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(testConfig(), logging.NewLogger("error"))
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
	return rec, out
}

func TestCreateBooking(t *testing.T) {
	s := newTestServer(t)
	rec, out := doJSON(t, s, "POST", "/api/bookings/create",
		`{"customer_name":"Tanaka","customer_phone":"090-0000-0000","pickup":{"lat":35.6812,"lng":139.7671},"destination":"Shinjuku","fare":2200}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	booking, ok := out["booking"].(map[string]any)
	if !ok {
		t.Fatalf("missing booking in %v", out)
	}
	code, _ := booking["confirmation_code"].(string)
	if !strings.HasPrefix(code, "ZK") || len(code) != 10 {
		t.Fatalf("confirmation code = %q", code)
	}
	if booking["status"] != "pending" {
		t.Fatalf("new booking should be pending, got %v", booking["status"])
	}
}

func TestCreateBookingValidation(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, "POST", "/api/bookings/create", `{"pickup":{"lat":35.6,"lng":139.7}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name should 400, got %d", rec.Code)
	}
	rec, _ = doJSON(t, s, "POST", "/api/bookings/create", `{"customer_name":"Tanaka","pickup":{"lat":120,"lng":139.7}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad pickup should 400, got %d", rec.Code)
	}
}

func TestGetBookingRoundTrip(t *testing.T) {
	s := newTestServer(t)
	_, out := doJSON(t, s, "POST", "/api/bookings/create",
		`{"customer_name":"Tanaka","pickup":{"lat":35.6812,"lng":139.7671}}`)
	code := out["booking"].(map[string]any)["confirmation_code"].(string)

	rec, out := doJSON(t, s, "GET", "/api/bookings/"+code, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	booking := out["booking"].(map[string]any)
	if booking["customer_name"] != "Tanaka" {
		t.Fatalf("stored booking not returned: %v", booking)
	}
}

func TestGetUnknownBookingSynthesizesPending(t *testing.T) {
	s := newTestServer(t)
	rec, out := doJSON(t, s, "GET", "/api/bookings/ZKNOSUCHCD", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	booking := out["booking"].(map[string]any)
	if booking["status"] != "pending" || booking["confirmation_code"] != "ZKNOSUCHCD" {
		t.Fatalf("expected synthesized pending record, got %v", booking)
	}
}

func TestUpdateBookingStatus(t *testing.T) {
	s := newTestServer(t)
	_, out := doJSON(t, s, "POST", "/api/bookings/create",
		`{"customer_name":"Tanaka","pickup":{"lat":35.6812,"lng":139.7671}}`)
	code := out["booking"].(map[string]any)["confirmation_code"].(string)

	rec, out := doJSON(t, s, "PUT", "/api/bookings/"+code+"/status", `{"status":"confirmed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if out["booking"].(map[string]any)["status"] != "confirmed" {
		t.Fatalf("status not updated: %v", out)
	}
}

func TestUpdateBookingStatusRejectsUnknownValue(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, "PUT", "/api/bookings/ZKAAAABBBB/status", `{"status":"levitating"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status should 400, got %d", rec.Code)
	}
}

func TestUpdateMissingBookingIs404(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, "PUT", "/api/bookings/ZKNOSUCHCD/status", `{"status":"confirmed"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing booking should 404, got %d", rec.Code)
	}
}

func TestNearbyDriversEndpoint(t *testing.T) {
	s := newTestServer(t)
	if err := s.locations.Update("d1", 35.6812, 139.7671); err != nil {
		t.Fatal(err)
	}

	rec, out := doJSON(t, s, "GET", "/api/drivers/nearby?lat=35.6815&lng=139.7675", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if out["total"] != float64(1) {
		t.Fatalf("expected 1 driver, got %v", out["total"])
	}
	drivers := out["drivers"].([]any)
	d := drivers[0].(map[string]any)
	if d["driver_id"] != "d1" {
		t.Fatalf("wrong driver: %v", d)
	}
	if d["distance_m"].(float64) >= 100 {
		t.Fatalf("distance %v should be under 100m", d["distance_m"])
	}
	if d["eta_seconds"].(float64) <= 0 {
		t.Fatalf("eta should be positive: %v", d)
	}
}

func TestNearbyDriversRequiresCoordinates(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, "GET", "/api/drivers/nearby", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing lat/lng should 400, got %d", rec.Code)
	}
	rec, _ = doJSON(t, s, "GET", "/api/drivers/nearby?lat=35.6&lng=139.7&radius=-5", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative radius should 400, got %d", rec.Code)
	}
}

func TestNearbyDriversOutsideRadius(t *testing.T) {
	s := newTestServer(t)
	_ = s.locations.Update("d1", 35.6812, 139.7671)

	// ~6km away with a 1km radius
	rec, out := doJSON(t, s, "GET", "/api/drivers/nearby?lat=35.6896&lng=139.6995&radius=1000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["total"] != float64(0) {
		t.Fatalf("expected no drivers, got %v", out["total"])
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}
