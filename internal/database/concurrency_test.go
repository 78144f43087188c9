package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"studyroom/internal/domain"
	"studyroom/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentBooking(t *testing.T) {
	logger := zerolog.Nop()
	dbPath := filepath.Join(t.TempDir(), "concurrency.db")
	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()

	const numGoroutines = 10
	catalog := testCatalog()
	catalog.Blacklist = nil
	for i := 0; i < numGoroutines; i++ {
		catalog.Users = append(catalog.Users, models.User{ID: int64(1000 + i), Username: "user" + string(rune('a'+i))})
	}
	require.NoError(t, db.SeedCatalog(ctx, catalog))

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make(chan error, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			results <- db.CreateBookingChecked(ctx, newBooking(int64(1000+id), 100, hm(9, 0), hm(11, 0)))
		}(i)
	}

	wg.Wait()
	close(results)

	successCount := 0
	conflictCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case assert.ErrorIs(t, err, domain.ErrConflict):
			conflictCount++
		}
	}

	assert.Equal(t, 1, successCount, "only one booking may claim the seat")
	assert.Equal(t, numGoroutines-1, conflictCount)

	booked, err := db.BookedSeatIDs(ctx, []int64{100}, testDate, hm(9, 0), hm(11, 0))
	require.NoError(t, err)
	assert.True(t, booked[100])

	pending, err := db.ListBookingsByStatus(ctx, models.StatusPending, testDate)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestConcurrentSameUserDifferentSeats(t *testing.T) {
	db := setupSeededDB(t)
	ctx := context.Background()

	seats := []int64{100, 101, 110}
	var wg sync.WaitGroup
	results := make(chan error, len(seats))
	for _, seatID := range seats {
		wg.Add(1)
		go func(seatID int64) {
			defer wg.Done()
			results <- db.CreateBookingChecked(ctx, newBooking(1, seatID, hm(9, 0), hm(10, 0)))
		}(seatID)
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrUserHasBooking)
		}
	}
	assert.Equal(t, 1, ok, "a user holds at most one booking per day")
}
