package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"studyroom/internal/clock"
	"studyroom/internal/config"
	"studyroom/internal/database"
	"studyroom/internal/domain"
	"studyroom/internal/events"
	"studyroom/internal/models"

	"github.com/rs/zerolog"
)

var testDate = models.NewDate(2025, time.January, 15)

func hm(h, m int) models.TimeOfDay {
	return models.NewTimeOfDay(h, m, 0)
}

func at(h, m int) time.Time {
	return testDate.At(hm(h, m), time.UTC)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	catalog := &models.Catalog{
		Buildings:  []models.Building{{ID: 1, Name: "Main Library"}},
		Classrooms: []models.Classroom{{ID: 10, BuildingID: 1, RoomNumber: "101"}},
		Seats: []models.Seat{
			{ID: 100, ClassroomID: 10, SeatNumber: "A1"},
			{ID: 101, ClassroomID: 10, SeatNumber: "A2"},
		},
		Users: []models.User{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}},
	}
	if err := db.SeedCatalog(context.Background(), catalog); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return db
}

func insertBooking(t *testing.T, db *database.DB, userID, seatID int64, date models.Date, start, end models.TimeOfDay) *models.Booking {
	t.Helper()
	b := &models.Booking{UserID: userID, SeatID: seatID, Date: date, StartTime: start, EndTime: end}
	if err := db.CreateBookingChecked(context.Background(), b); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func activate(t *testing.T, db *database.DB, b *models.Booking, checkIn time.Time) {
	t.Helper()
	err := db.TransitionBooking(context.Background(), domain.Transition{
		ID: b.ID, From: models.StatusPending, To: models.StatusActive, Version: b.Version,
		CheckInTime: &checkIn, At: checkIn,
	})
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	b.Status = models.StatusActive
	b.Version++
}

func mustGet(t *testing.T, db *database.DB, id int64) *models.Booking {
	t.Helper()
	b, err := db.GetBooking(context.Background(), id)
	if err != nil {
		t.Fatalf("get booking %d: %v", id, err)
	}
	return b
}

func newReconciler(store domain.BookingStore, bus *events.EventBus, clk clock.Clock) *Reconciler {
	logger := zerolog.New(io.Discard)
	return NewReconciler(store, bus, clk, ReconcilerConfig{Location: time.UTC}, &logger)
}

func TestReleaseTimeouts(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFixed(at(9, 15))
	r := newReconciler(db, nil, clk)
	ctx := context.Background()

	b := insertBooking(t, db, 1, 100, testDate, hm(9, 0), hm(10, 0))
	later := insertBooking(t, db, 2, 101, testDate, hm(9, 30), hm(10, 30))

	moved, err := r.ReleaseTimeouts(ctx)
	if err != nil || moved != 0 {
		t.Fatalf("at 09:15 expected nothing moved, got %d, %v", moved, err)
	}

	clk.Set(at(9, 16))
	moved, err = r.ReleaseTimeouts(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 timeout, got %d", moved)
	}
	if got := mustGet(t, db, b.ID).Status; got != models.StatusTimeout {
		t.Errorf("expected TIMEOUT, got %s", got)
	}
	if got := mustGet(t, db, later.ID).Status; got != models.StatusPending {
		t.Errorf("later booking should stay PENDING, got %s", got)
	}
}

func TestReleaseTimeoutsOnSpringForwardDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load zone: %v", err)
	}
	// 02:00 EST jumps to 03:00 EDT on this day.
	day := models.NewDate(2025, time.March, 9)
	wall := func(h, m int) time.Time { return time.Date(2025, time.March, 9, h, m, 0, 0, ny) }

	db := newTestDB(t)
	clk := clock.NewFixed(wall(9, 15))
	logger := zerolog.New(io.Discard)
	r := NewReconciler(db, nil, clk, ReconcilerConfig{Location: ny}, &logger)
	ctx := context.Background()

	b := insertBooking(t, db, 1, 100, day, hm(9, 0), hm(10, 0))

	moved, err := r.ReleaseTimeouts(ctx)
	if err != nil || moved != 0 {
		t.Fatalf("at 09:15 local expected nothing moved, got %d, %v", moved, err)
	}
	if got := mustGet(t, db, b.ID).Status; got != models.StatusPending {
		t.Fatalf("expected PENDING inside the grace period, got %s", got)
	}

	clk.Set(wall(9, 16))
	moved, err = r.ReleaseTimeouts(ctx)
	if err != nil || moved != 1 {
		t.Fatalf("at 09:16 local expected 1 timeout, got %d, %v", moved, err)
	}
	if got := mustGet(t, db, b.ID).Status; got != models.StatusTimeout {
		t.Errorf("expected TIMEOUT, got %s", got)
	}
}

func TestReleaseTimeoutsIdempotent(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFixed(at(11, 0))
	r := newReconciler(db, nil, clk)
	ctx := context.Background()

	insertBooking(t, db, 1, 100, testDate, hm(9, 0), hm(10, 0))
	insertBooking(t, db, 2, 101, testDate.AddDays(-1), hm(14, 0), hm(15, 0))

	first, err := r.ReleaseTimeouts(ctx)
	if err != nil || first != 2 {
		t.Fatalf("first run: moved %d, err %v", first, err)
	}
	second, err := r.ReleaseTimeouts(ctx)
	if err != nil || second != 0 {
		t.Fatalf("second run should be a no-op: moved %d, err %v", second, err)
	}
}

func TestReleaseTimeoutsIgnoresFutureDays(t *testing.T) {
	db := newTestDB(t)
	r := newReconciler(db, nil, clock.NewFixed(at(23, 0)))

	b := insertBooking(t, db, 1, 100, testDate.AddDays(1), hm(8, 0), hm(9, 0))

	moved, err := r.ReleaseTimeouts(context.Background())
	if err != nil || moved != 0 {
		t.Fatalf("expected nothing moved, got %d, %v", moved, err)
	}
	if got := mustGet(t, db, b.ID).Status; got != models.StatusPending {
		t.Errorf("expected PENDING, got %s", got)
	}
}

func TestCompleteExpiredStampsScheduledEnd(t *testing.T) {
	db := newTestDB(t)
	clk := clock.NewFixed(at(10, 0))
	bus := events.NewEventBus()
	var received []BookingEvent
	bus.Subscribe(events.EventBookingCompleted, func(e *events.Event) error {
		var p events.BookingEventPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return err
		}
		received = append(received, BookingEvent{Type: e.Type, Payload: p})
		return nil
	})
	r := newReconciler(db, bus, clk)
	ctx := context.Background()

	b := insertBooking(t, db, 1, 100, testDate, hm(9, 0), hm(10, 0))
	activate(t, db, b, at(8, 55))

	moved, err := r.CompleteExpired(ctx)
	if err != nil || moved != 0 {
		t.Fatalf("at 10:00 expected nothing moved, got %d, %v", moved, err)
	}

	clk.Set(at(10, 5))
	moved, err = r.CompleteExpired(ctx)
	if err != nil || moved != 1 {
		t.Fatalf("expected 1 completed, got %d, %v", moved, err)
	}

	stored := mustGet(t, db, b.ID)
	if stored.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", stored.Status)
	}
	if stored.CheckOutTime == nil || !stored.CheckOutTime.Equal(at(10, 0)) {
		t.Errorf("expected check-out at 10:00, got %v", stored.CheckOutTime)
	}
	if stored.CheckInTime == nil || !stored.CheckInTime.Equal(at(8, 55)) {
		t.Errorf("check-in should be kept, got %v", stored.CheckInTime)
	}

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Payload.Source != sourceReconciler || received[0].Payload.FromStatus != models.StatusActive {
		t.Errorf("unexpected payload %+v", received[0].Payload)
	}

	again, err := r.CompleteExpired(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second run should be a no-op: moved %d, err %v", again, err)
	}
}

// BookingEvent pairs an event type with its decoded payload.
type BookingEvent struct {
	Type    string
	Payload events.BookingEventPayload
}

// racingStore lets another actor move a booking between the sweep's listing
// and its conditional write.
type racingStore struct {
	*database.DB
	once  sync.Once
	race  func()
	fails error
}

func (s *racingStore) ListBookingsByStatus(ctx context.Context, status string, until models.Date) ([]*models.Booking, error) {
	if s.fails != nil {
		return nil, s.fails
	}
	list, err := s.DB.ListBookingsByStatus(ctx, status, until)
	if err == nil && s.race != nil {
		s.once.Do(s.race)
	}
	return list, err
}

func TestReleaseTimeoutsSkipsConcurrentCheckIn(t *testing.T) {
	db := newTestDB(t)
	b := insertBooking(t, db, 1, 100, testDate, hm(9, 0), hm(10, 0))
	other := insertBooking(t, db, 2, 101, testDate, hm(9, 0), hm(10, 0))

	store := &racingStore{DB: db, race: func() { activate(t, db, b, at(9, 14)) }}
	r := newReconciler(store, nil, clock.NewFixed(at(9, 20)))

	moved, err := r.ReleaseTimeouts(context.Background())
	if err != nil {
		t.Fatalf("a concurrent change must not fail the sweep: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected only the untouched booking to time out, got %d", moved)
	}
	if got := mustGet(t, db, b.ID).Status; got != models.StatusActive {
		t.Errorf("check-in must not be clobbered, got %s", got)
	}
	if got := mustGet(t, db, other.ID).Status; got != models.StatusTimeout {
		t.Errorf("expected TIMEOUT, got %s", got)
	}
}

func TestSweepListingError(t *testing.T) {
	db := newTestDB(t)
	boom := errors.New("database is locked")
	r := newReconciler(&racingStore{DB: db, fails: boom}, nil, clock.NewFixed(at(12, 0)))

	if _, err := r.ReleaseTimeouts(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected listing error, got %v", err)
	}
	if _, err := r.CompleteExpired(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected listing error, got %v", err)
	}
}

func TestRunSweepsAndStops(t *testing.T) {
	db := newTestDB(t)
	logger := zerolog.New(io.Discard)
	r := NewReconciler(db, nil, clock.NewFixed(at(12, 0)), ReconcilerConfig{
		TimeoutInterval:  10 * time.Millisecond,
		CompleteInterval: 10 * time.Millisecond,
		Location:         time.UTC,
	}, &logger)

	pending := insertBooking(t, db, 1, 100, testDate, hm(9, 0), hm(10, 0))
	active := insertBooking(t, db, 2, 101, testDate, hm(9, 0), hm(10, 0))
	activate(t, db, active, at(9, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mustGet(t, db, pending.ID).Status == models.StatusTimeout &&
			mustGet(t, db, active.ID).Status == models.StatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	if got := mustGet(t, db, pending.ID).Status; got != models.StatusTimeout {
		t.Errorf("expected TIMEOUT, got %s", got)
	}
	if got := mustGet(t, db, active.ID).Status; got != models.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got)
	}
}

func TestReconcilerConfigFromConfig(t *testing.T) {
	rc, err := ReconcilerConfigFromConfig(configWithTimezone("UTC"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.TimeoutMinutes != models.DefaultTimeoutMinutes {
		t.Errorf("expected default timeout, got %d", rc.TimeoutMinutes)
	}
	if rc.TimeoutInterval != time.Minute || rc.CompleteInterval != time.Hour {
		t.Errorf("unexpected intervals %v / %v", rc.TimeoutInterval, rc.CompleteInterval)
	}
	if rc.Location != time.UTC {
		t.Errorf("expected UTC, got %v", rc.Location)
	}

	if _, err := ReconcilerConfigFromConfig(configWithTimezone("Nowhere/Land")); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func configWithTimezone(tz string) config.BookingConfig {
	return config.BookingConfig{Timezone: tz}
}
