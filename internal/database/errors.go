package database

import (
	"database/sql"
	"errors"
	"fmt"

	"studyroom/internal/domain"
)

var (
	ErrUserHasBooking    = fmt.Errorf("%w: user already holds a booking on this date", domain.ErrConflict)
	ErrSeatTaken         = fmt.Errorf("%w: seat is already booked for an overlapping window", domain.ErrConflict)
	ErrClassroomOccupied = fmt.Errorf("%w: classroom is occupied during the requested window", domain.ErrConflict)

	ErrConcurrentModification = domain.ErrConcurrentModification
)

// notFound maps sql.ErrNoRows to domain.ErrNotFound for the named entity.
func notFound(err error, entity string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", entity, id, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to get %s %d: %w", entity, id, err)
}
