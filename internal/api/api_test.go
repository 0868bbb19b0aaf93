package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stationbook/internal/availability"
	"stationbook/internal/booking"
	"stationbook/internal/clock"
	"stationbook/internal/database"
	"stationbook/internal/events"
	"stationbook/internal/ledger"
	"stationbook/internal/models"
	"stationbook/internal/reconcile"
	"stationbook/shared/access"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secret = "test-secret"
	apiKey = "callback-key"
)

type testAPI struct {
	server *Server
	clock  *clock.Manual
}

func newTestAPI(t *testing.T, rl RateLimitConfig) *testAPI {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SyncVenues(context.Background(), []models.Venue{{
		ID: "arena", Name: "Arena", OwnerID: "owner-1", Timezone: "UTC", IsActive: true,
		OpeningTime: "10:00 AM", ClosingTime: "11:00 PM",
		Rooms: []models.Room{{Name: "A", Groups: []models.StationGroup{{
			Type: "PC", PricePerHour: decimal.NewFromInt(100),
			StationIDs: []string{"PC01", "PC02", "PC03", "PC04", "PC05"},
		}}}},
	}}))

	clk := clock.NewManual(time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC))
	bus := events.NewEventBus(&logger)
	l := ledger.New(db, &logger)
	acc := access.NewService(logger)
	avail := availability.NewService(db, nil, &logger)
	m := booking.NewManager(db, l, avail, acc, bus, clk, booking.Options{Location: time.UTC}, &logger)
	rec := reconcile.New(db, l, m, avail, bus, clk, &logger)

	s := NewServer(Deps{
		Manager:      m,
		Availability: avail,
		Reconciler:   rec,
		Scheduler:    reconcile.NewScheduler(rec, time.Minute),
		Access:       acc,
		Venues:       db,
	}, Config{JWTSecret: secret, CallbackAPIKey: apiKey, RateLimit: rl}, &logger)
	return &testAPI{server: s, clock: clk}
}

func token(t *testing.T, sub string, role access.Role) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (a *testAPI) do(t *testing.T, method, path, tok, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestReservationFlow(t *testing.T) {
	a := newTestAPI(t, RateLimitConfig{})
	customer := token(t, "cust-1", access.RoleCustomer)
	owner := token(t, "owner-1", access.RoleVenueOwner)

	rec, body := a.do(t, http.MethodPost, "/api/v1/reservations", customer, `{
		"venueId": "arena", "bookingDate": "2026-10-20", "startTime": "10:00 AM", "duration": 2,
		"roomType": "A", "systemType": "PC", "numberOfSystems": 2, "paymentMethod": "wallet"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "pending_payment", body["status"])
	assert.Equal(t, "400", body["total_price"])
	id := body["id"].(string)
	code := body["verification_code"].(string)

	rec, _ = a.do(t, http.MethodPost, "/api/v1/internal/payments/confirm", "", `{"reservationId": "`+id+`", "paymentMethod": "wallet"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/payments/confirm",
		strings.NewReader(`{"reservationId": "`+id+`", "paymentMethod": "wallet", "paymentReference": "w-9"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)
	resp := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	rec, body = a.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/assign", owner, `{
		"code": "`+code+`", "assignments": [{"roomType": "A", "stationIds": ["PC01", "PC02"]}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", body["status"])
	assert.Nil(t, body["verification_code"])

	rec, body = a.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/extend", owner, `{"hours": 1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3.0, body["duration"])

	rec, body = a.do(t, http.MethodGet, "/api/v1/venues/arena/stations", owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["stations"], 5)

	rec, body = a.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/complete", owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])

	rec, body = a.do(t, http.MethodGet, "/api/v1/reservations/mine", customer, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["reservations"], 1)
}

func TestSystemsBookedShape(t *testing.T) {
	a := newTestAPI(t, RateLimitConfig{})
	owner := token(t, "owner-1", access.RoleVenueOwner)

	rec, body := a.do(t, http.MethodPost, "/api/v1/reservations", owner, `{
		"venueId": "arena", "bookingDate": "2026-10-21", "startTime": "02:00 PM", "duration": 1,
		"walkInName": "Sam", "systemsBooked": [{"roomType": "A", "systemType": "PC", "numberOfSystems": 5}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "booked", body["status"])

	rec, body = a.do(t, http.MethodPost, "/api/v1/reservations", owner, `{
		"venueId": "arena", "bookingDate": "2026-10-21", "startTime": "02:00 PM", "duration": 1,
		"walkInName": "Kim", "roomType": "A", "systemType": "PC", "numberOfSystems": 1
	}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capacity_exceeded", body["error"])
	assert.Equal(t, 14.0, body["hour"])
	assert.Equal(t, 0.0, body["free"])

	rec, body = a.do(t, http.MethodPost, "/api/v1/reservations", owner, `{
		"venueId": "arena", "bookingDate": "2026-10-21", "startTime": "02:00 PM", "duration": 1,
		"walkInName": "Kim", "roomType": "A", "systemType": "PC", "numberOfSystems": 1,
		"systemsBooked": [{"roomType": "A", "systemType": "PC", "numberOfSystems": 1}]
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", body["error"])
}

func TestAvailabilityEndpoints(t *testing.T) {
	a := newTestAPI(t, RateLimitConfig{})

	rec, body := a.do(t, http.MethodGet, "/api/v1/venues/arena/availability?room=A&type=PC&date=2026-10-21&start=02:00%20PM&duration=2&quantity=3", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["available"])
	assert.Equal(t, 5.0, body["free_count"])

	rec, body = a.do(t, http.MethodGet, "/api/v1/venues/arena/availability?room=A&type=PC&date=2026-10-21&start=02:00%20PM&duration=1.3", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_duration", body["error"])

	rec, body = a.do(t, http.MethodGet, "/api/v1/venues/nowhere/availability?room=A&type=PC&date=2026-10-21&start=02:00%20PM", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body["error"])

	rec, body = a.do(t, http.MethodGet, "/api/v1/venues/arena/slots?date=2026-10-21", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, body["slots"])
}

func TestAuthorization(t *testing.T) {
	a := newTestAPI(t, RateLimitConfig{})
	customer := token(t, "cust-1", access.RoleCustomer)
	otherOwner := token(t, "owner-2", access.RoleVenueOwner)
	admin := token(t, "root", access.RoleAdmin)

	rec, _ := a.do(t, http.MethodPost, "/api/v1/reservations", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/api/v1/reservations", "not-a-token", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = a.do(t, http.MethodGet, "/api/v1/venues/arena/stations", customer, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body := a.do(t, http.MethodGet, "/api/v1/venues/arena/stations", otherOwner, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", body["error"])

	rec, _ = a.do(t, http.MethodPost, "/api/v1/admin/reconcile", otherOwner, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = a.do(t, http.MethodPost, "/api/v1/admin/reconcile", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["completed"])

	rec, _ = a.do(t, http.MethodPost, "/api/v1/admin/fix/stale-activations?venue=arena", otherOwner, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	owner := token(t, "owner-1", access.RoleVenueOwner)
	rec, body = a.do(t, http.MethodPost, "/api/v1/admin/fix/premature-completions?venue=arena", owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["reverted"])

	rec, _ = a.do(t, http.MethodPost, "/api/v1/admin/fix/stale-activations", owner, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaintenanceAndCancel(t *testing.T) {
	a := newTestAPI(t, RateLimitConfig{})
	owner := token(t, "owner-1", access.RoleVenueOwner)

	rec, body := a.do(t, http.MethodPost, "/api/v1/venues/arena/stations/PC05/maintenance", owner, `{"underMaintenance": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "under_maintenance", body["status"])

	rec, _ = a.do(t, http.MethodPost, "/api/v1/venues/arena/stations/PC05/maintenance", owner, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = a.do(t, http.MethodPost, "/api/v1/reservations", owner, `{
		"venueId": "arena", "bookingDate": "2026-10-20", "startTime": "10:00 AM", "duration": 1,
		"walkInName": "Sam", "roomType": "A", "systemType": "PC", "numberOfSystems": 1
	}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := body["id"].(string)

	a.clock.Advance(20 * time.Minute)
	rec, body = a.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/cancel", owner, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cancellation_window_closed", body["error"])

	rec, body = a.do(t, http.MethodPost, "/api/v1/reservations/"+id+"/assign", owner, `{"assignments": [{"roomType": "A", "stationIds": ["PC05"]}]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "station_unavailable", body["error"])
	assert.Equal(t, "PC05", body["station_id"])

	rec, _ = a.do(t, http.MethodGet, "/api/v1/reservations/missing", owner, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	a := newTestAPI(t, RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2})
	path := "/api/v1/venues/arena/slots?date=2026-10-21"

	for i := 0; i < 2; i++ {
		rec, _ := a.do(t, http.MethodGet, path, "", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := a.do(t, http.MethodGet, path, "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "too_many_requests", body["error"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	customer := token(t, "cust-1", access.RoleCustomer)
	rec, _ = a.do(t, http.MethodGet, path, customer, "")
	assert.Equal(t, http.StatusOK, rec.Code, "a different principal has its own bucket")
}

func TestParseToken(t *testing.T) {
	p, err := parseToken(secret, token(t, "u1", access.RoleAdmin))
	require.NoError(t, err)
	assert.Equal(t, access.Principal{ID: "u1", Role: access.RoleAdmin}, p)

	_, err = parseToken(secret, token(t, "u1", access.Role("janitor")))
	assert.Error(t, err)

	_, err = parseToken("other-secret", token(t, "u1", access.RoleAdmin))
	assert.Error(t, err)
}
