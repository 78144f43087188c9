package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studyroom/internal/clock"
	"studyroom/internal/config"
	"studyroom/internal/database"
	"studyroom/internal/domain"
	"studyroom/internal/events"
	"studyroom/internal/lock"
	"studyroom/internal/models"
	"studyroom/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDate = models.NewDate(2025, time.January, 15)

type testEnv struct {
	handler http.Handler
	clock   *clock.Fixed
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithLocker(t, lock.NewLocal(time.Second))
}

func newTestEnvWithLocker(t *testing.T, locker domain.Locker) *testEnv {
	cfg := config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true}}
	return newTestEnvWithConfig(t, locker, cfg)
}

func newTestEnvWithConfig(t *testing.T, locker domain.Locker, cfg config.APIConfig) *testEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog := &models.Catalog{
		Buildings:  []models.Building{{ID: 1, Name: "Main Library", Code: "LIB"}},
		Classrooms: []models.Classroom{{ID: 10, BuildingID: 1, RoomNumber: "101", Capacity: 2}},
		Seats: []models.Seat{
			{ID: 100, ClassroomID: 10, SeatNumber: "A1"},
			{ID: 101, ClassroomID: 10, SeatNumber: "A2"},
		},
		Users:     []models.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}, {ID: 3, Username: "carol"}},
		Blacklist: []models.BlacklistEntry{{UserID: 3, Reason: "no-shows"}},
	}
	require.NoError(t, db.SeedCatalog(context.Background(), catalog))

	clk := clock.NewFixed(testDate.At(models.NewTimeOfDay(8, 0, 0), time.UTC))
	policy := service.DefaultPolicy()
	policy.Location = time.UTC
	bus := events.NewEventBus()

	availability := service.NewAvailabilityService(db, db, db, &logger)
	bookings := service.NewBookingService(db, db, availability, locker, bus, clk, policy, &logger)
	occupancy := service.NewOccupancyService(db, db, locker, bus, clk, &logger)

	srv := NewHTTPServer(cfg, NewHandler(availability, bookings, occupancy, &logger), &logger)
	return &testEnv{handler: srv.Handler(), clock: clk}
}

func (e *testEnv) do(t *testing.T, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID > 0 {
		req.Header.Set("X-User-ID", fmt.Sprint(userID))
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func bookingBody(seatID int64, start, end string) map[string]any {
	return map[string]any{"seat_id": seatID, "date": testDate.String(), "start_time": start, "end_time": end}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", 0, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/bookings", 1, bookingBody(100, "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[models.Booking](t, rec)
	assert.Equal(t, models.StatusPending, created.Status)
	assert.Equal(t, models.NewTimeOfDay(9, 0, 0), created.StartTime)

	rec = env.do(t, http.MethodGet, "/api/v1/seats/100/availability?date=2025-01-15&start=09:30&end=10:30", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	avail := decode[map[string]any](t, rec)
	assert.Equal(t, false, avail["available"])

	path := fmt.Sprintf("/api/v1/bookings/%d", created.ID)
	env.clock.Set(testDate.At(models.NewTimeOfDay(9, 5, 0), time.UTC))
	rec = env.do(t, http.MethodPost, path+"/check-in", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.StatusActive, decode[models.Booking](t, rec).Status)

	env.clock.Set(testDate.At(models.NewTimeOfDay(9, 55, 0), time.UTC))
	rec = env.do(t, http.MethodPost, path+"/check-out", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[models.Booking](t, rec)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.CheckOutTime)

	rec = env.do(t, http.MethodGet, path, 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[models.BookingSummary](t, rec)
	assert.Equal(t, "A1", summary.SeatNumber)
	assert.Equal(t, "Main Library", summary.BuildingName)
	assert.Equal(t, "2025-01-15 09:00:00", summary.StartTime)

	rec = env.do(t, http.MethodGet, "/api/v1/bookings", 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]models.BookingSummary](t, rec)
	assert.Len(t, list["bookings"], 1)
}

func TestBookingErrorsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bookings", 1, bookingBody(100, "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[models.Booking](t, rec).ID

	tests := []struct {
		name   string
		method string
		path   string
		userID int64
		body   any
		want   int
		code   string
	}{
		{"missing user header", http.MethodPost, "/api/v1/bookings", 0, bookingBody(101, "09:00", "10:00"), http.StatusUnauthorized, ""},
		{"seat taken", http.MethodPost, "/api/v1/bookings", 2, bookingBody(100, "09:30", "10:30"), http.StatusConflict, "conflict"},
		{"second booking same day", http.MethodPost, "/api/v1/bookings", 1, bookingBody(101, "13:00", "14:00"), http.StatusConflict, "conflict"},
		{"blacklisted", http.MethodPost, "/api/v1/bookings", 3, bookingBody(101, "09:00", "10:00"), http.StatusForbidden, "forbidden"},
		{"unknown seat", http.MethodPost, "/api/v1/bookings", 2, bookingBody(999, "09:00", "10:00"), http.StatusNotFound, "not_found"},
		{"inverted window", http.MethodPost, "/api/v1/bookings", 2, bookingBody(101, "10:00", "09:00"), http.StatusBadRequest, "invalid_argument"},
		{"bad time", http.MethodPost, "/api/v1/bookings", 2, bookingBody(101, "25:00", "26:00"), http.StatusBadRequest, ""},
		{"unknown field", http.MethodPost, "/api/v1/bookings", 2, map[string]any{"seat": 1}, http.StatusBadRequest, ""},
		{"not owner", http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/cancel", id), 2, nil, http.StatusForbidden, "forbidden"},
		{"too early", http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/check-in", id), 1, nil, http.StatusUnprocessableEntity, "too_early"},
		{"not active", http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/check-out", id), 1, nil, http.StatusConflict, "invalid_state"},
		{"unknown booking", http.MethodGet, "/api/v1/bookings/999", 1, nil, http.StatusNotFound, "not_found"},
		{"bad id", http.MethodGet, "/api/v1/bookings/abc", 1, nil, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.userID, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[map[string]string](t, rec)["code"])
			}
		})
	}
}

func TestLateCheckInOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bookings", 1, bookingBody(100, "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[models.Booking](t, rec).ID

	env.clock.Set(testDate.At(models.NewTimeOfDay(9, 20, 0), time.UTC))
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/bookings/%d/check-in", id), 1, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "too_late", decode[map[string]string](t, rec)["code"])

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/bookings/%d", id), 1, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusViolated, decode[models.BookingSummary](t, rec).Status)
}

func TestSeatListingsOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/bookings", 1, bookingBody(100, "09:00", "10:00"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/classrooms/10/seats", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	browse := decode[map[string][]models.SeatStatus](t, rec)["seats"]
	require.Len(t, browse, 2)
	for _, s := range browse {
		assert.Equal(t, models.SeatAvailable, s.Status)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/classrooms/10/seats?date=2025-01-15&start=09:00&end=10:00", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	labelled := decode[map[string][]models.SeatStatus](t, rec)["seats"]
	require.Len(t, labelled, 2)
	assert.Equal(t, models.SeatOccupied, labelled[0].Status)
	assert.Equal(t, models.SeatAvailable, labelled[1].Status)

	rec = env.do(t, http.MethodGet, "/api/v1/classrooms/10/seats?date=2025-01-15", 0, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/buildings/1/available-seats?date=2025-01-15&start=09:00&end=10:00", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	free := decode[map[string][]models.Seat](t, rec)["seats"]
	require.Len(t, free, 1)
	assert.Equal(t, int64(101), free[0].ID)

	rec = env.do(t, http.MethodGet, "/api/v1/classrooms/99/available-seats?date=2025-01-15&start=09:00&end=10:00", 0, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOccupancyOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]any{
		"classroom_id": 10,
		"date":         "2025-01-15",
		"start_time":   "09:30",
		"end_time":     "11:00",
		"type":         "COURSE",
		"reason":       "Linear algebra",
	}
	rec := env.do(t, http.MethodPost, "/api/v1/occupancies", 0, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decode[models.ClassroomOccupancy](t, rec)
	assert.Equal(t, models.OccupancyScheduled, o.Status)

	rec = env.do(t, http.MethodPost, "/api/v1/occupancies", 0, body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/seats/101/availability?date=2025-01-15&start=09:45&end=10:15", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["available"])

	path := fmt.Sprintf("/api/v1/occupancies/%d", o.ID)
	rec = env.do(t, http.MethodPut, path, 0, map[string]any{"reason": "Moved", "start_time": "13:00", "end_time": "14:00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Moved", decode[models.ClassroomOccupancy](t, rec).Reason)

	rec = env.do(t, http.MethodGet, "/api/v1/classrooms/10/occupancies?date=2025-01-15", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]models.ClassroomOccupancy](t, rec)["occupancies"], 1)

	rec = env.do(t, http.MethodGet, "/api/v1/occupancies?from=2025-01-01&to=2025-01-31", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]models.ClassroomOccupancy](t, rec)["occupancies"], 1)

	rec = env.do(t, http.MethodPost, path+"/cancel", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.OccupancyCancelled, decode[models.ClassroomOccupancy](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/api/v1/buildings/1/occupancies?date=2025-01-15", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string][]models.ClassroomOccupancy](t, rec)["occupancies"])

	rec = env.do(t, http.MethodDelete, path, 0, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, path, 0, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodDelete, path, 0, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPatch, "/api/v1/bookings", 1, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, ...string) (func(), error) {
	return nil, lock.ErrLockTimeout
}

func TestLockTimeoutOverHTTP(t *testing.T) {
	env := newTestEnvWithLocker(t, busyLocker{})
	rec := env.do(t, http.MethodPost, "/api/v1/bookings", 1, bookingBody(100, "09:00", "10:00"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode[map[string]string](t, rec)["code"])

	rec = env.do(t, http.MethodGet, "/api/v1/seats/100/availability?date=2025-01-15&start=09:00&end=10:00", 0, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["available"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestBearerIdentityOverHTTP(t *testing.T) {
	cfg := config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth:    config.APIAuthConfig{JWTSecret: string(testSecret)},
	}
	env := newTestEnvWithConfig(t, lock.NewLocal(time.Second), cfg)

	// The gateway header alone is no longer trusted.
	rec := env.do(t, http.MethodPost, "/api/v1/bookings", 1, bookingBody(100, "09:00", "10:00"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.RegisteredClaims{
		Subject:   "2",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	raw, err := json.Marshal(bookingBody(100, "09:00", "10:00"))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bookings", bytes.NewReader(raw))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2), decode[models.Booking](t, rec).UserID)
}
