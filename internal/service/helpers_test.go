package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"studyroom/internal/clock"
	"studyroom/internal/database"
	"studyroom/internal/events"
	"studyroom/internal/lock"
	"studyroom/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testDate = models.NewDate(2025, time.January, 15)

const blacklistedUser = 13

func hm(h, m int) models.TimeOfDay {
	return models.NewTimeOfDay(h, m, 0)
}

func at(h, m int) time.Time {
	return testDate.At(hm(h, m), time.UTC)
}

func testCatalog() *models.Catalog {
	c := &models.Catalog{
		Buildings: []models.Building{{ID: 1, Name: "Main Library", Code: "LIB", Floors: 3}},
		Classrooms: []models.Classroom{
			{ID: 10, BuildingID: 1, RoomNumber: "101", Floor: 1, Capacity: 2},
			{ID: 11, BuildingID: 1, RoomNumber: "102", Floor: 1, Capacity: 1},
		},
		Seats: []models.Seat{
			{ID: 100, ClassroomID: 10, SeatNumber: "A1", Row: 1, Col: 1},
			{ID: 101, ClassroomID: 10, SeatNumber: "A2", Row: 1, Col: 2},
			{ID: 110, ClassroomID: 11, SeatNumber: "B1", Row: 1, Col: 1},
		},
		Blacklist: []models.BlacklistEntry{{UserID: blacklistedUser, Reason: "no-shows"}},
	}
	for id := int64(1); id <= blacklistedUser; id++ {
		c.Users = append(c.Users, models.User{ID: id, Username: fmt.Sprintf("user%d", id)})
	}
	return c
}

// eventRecorder collects the types published on a bus.
type eventRecorder struct {
	mu    sync.Mutex
	types []string
}

func (r *eventRecorder) handle(e *events.Event) error {
	r.mu.Lock()
	r.types = append(r.types, e.Type)
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.types...)
}

type fixture struct {
	db           *database.DB
	clock        *clock.Fixed
	events       *eventRecorder
	availability *AvailabilityService
	bookings     *BookingService
	occupancy    *OccupancyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureIn(t, time.UTC)
}

// newFixtureIn builds a fixture whose booking policy reads wall-clock
// times in loc.
func newFixtureIn(t *testing.T, loc *time.Location) *fixture {
	t.Helper()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.SeedCatalog(context.Background(), testCatalog()))

	bus := events.NewEventBus()
	rec := &eventRecorder{}
	bus.SubscribeAll(rec.handle)

	clk := clock.NewFixed(at(8, 0))
	locker := lock.NewLocal(2 * time.Second)
	policy := DefaultPolicy()
	policy.Location = loc

	availability := NewAvailabilityService(db, db, db, &logger)
	return &fixture{
		db:           db,
		clock:        clk,
		events:       rec,
		availability: availability,
		bookings:     NewBookingService(db, db, availability, locker, bus, clk, policy, &logger),
		occupancy:    NewOccupancyService(db, db, locker, bus, clk, &logger),
	}
}

func (f *fixture) book(t *testing.T, userID, seatID int64, start, end models.TimeOfDay) *models.Booking {
	t.Helper()
	b, err := f.bookings.Create(context.Background(), userID, seatID, testDate, start, end)
	require.NoError(t, err)
	return b
}

func (f *fixture) occupy(t *testing.T, classroomID int64, start, end models.TimeOfDay) *models.ClassroomOccupancy {
	t.Helper()
	o, err := f.occupancy.Create(context.Background(), models.OccupancyRequest{
		ClassroomID: classroomID,
		Date:        testDate,
		StartTime:   start,
		EndTime:     end,
		Type:        models.OccupancyCourse,
		Reason:      "Lecture",
	})
	require.NoError(t, err)
	return o
}
