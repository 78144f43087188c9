package database

import (
	"context"
	"io"
	"testing"
	"time"

	"studyroom/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testDate = models.NewDate(2025, time.January, 15)

func hm(h, m int) models.TimeOfDay {
	return models.NewTimeOfDay(h, m, 0)
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// testCatalog is one building with two classrooms; classroom 10 has seats
// 100 and 101, classroom 11 has seat 110.
func testCatalog() *models.Catalog {
	return &models.Catalog{
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
		Users: []models.User{
			{ID: 1, Username: "alice", RealName: "Alice"},
			{ID: 2, Username: "bob", RealName: "Bob"},
			{ID: 3, Username: "carol", RealName: "Carol"},
		},
		Blacklist: []models.BlacklistEntry{{UserID: 3, Reason: "no-shows"}},
	}
}

func setupSeededDB(t *testing.T) *DB {
	t.Helper()
	db := setupTestDB(t)
	require.NoError(t, db.SeedCatalog(context.Background(), testCatalog()))
	return db
}

func newBooking(userID, seatID int64, start, end models.TimeOfDay) *models.Booking {
	return &models.Booking{
		UserID:    userID,
		SeatID:    seatID,
		Date:      testDate,
		StartTime: start,
		EndTime:   end,
	}
}
