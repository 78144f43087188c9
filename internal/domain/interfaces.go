package domain

import (
	"context"
	"time"

	"studyroom/internal/models"
)

// Catalog is the read side of the reference data.
type Catalog interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetSeatByID(ctx context.Context, id int64) (*models.Seat, error)
	GetClassroomByID(ctx context.Context, id int64) (*models.Classroom, error)
	GetBuildingByID(ctx context.Context, id int64) (*models.Building, error)
	IsUserBlacklisted(ctx context.Context, userID int64) (bool, error)
	ListSeatsByClassroom(ctx context.Context, classroomID int64) ([]*models.Seat, error)
	ListSeatsByBuilding(ctx context.Context, buildingID int64) ([]*models.Seat, error)
}

// Transition describes a conditional status change.
type Transition struct {
	ID           int64
	From         string
	To           string
	Version      int64
	CheckInTime  *time.Time
	CheckOutTime *time.Time
	At           time.Time // updated_at stamp
}

type BookingStore interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	// CreateBookingChecked re-runs the one-per-day and seat conflict checks and
	// inserts the booking inside a single write transaction.
	CreateBookingChecked(ctx context.Context, booking *models.Booking) error
	TransitionBooking(ctx context.Context, t Transition) error
	HasOverlappingBooking(ctx context.Context, seatID int64, date models.Date, start, end models.TimeOfDay) (bool, error)
	BookedSeatIDs(ctx context.Context, seatIDs []int64, date models.Date, start, end models.TimeOfDay) (map[int64]bool, error)
	HasHoldingBookingForUser(ctx context.Context, userID int64, date models.Date) (bool, error)
	ListBookingsByStatus(ctx context.Context, status string, until models.Date) ([]*models.Booking, error)
	ListUserBookingSummaries(ctx context.Context, userID int64) ([]*models.BookingSummary, error)
	GetBookingSummary(ctx context.Context, id int64) (*models.BookingSummary, error)
}

type OccupancyStore interface {
	GetOccupancy(ctx context.Context, id int64) (*models.ClassroomOccupancy, error)
	CreateOccupancyChecked(ctx context.Context, o *models.ClassroomOccupancy) error
	UpdateOccupancyChecked(ctx context.Context, o *models.ClassroomOccupancy, recheck bool) error
	CancelOccupancy(ctx context.Context, id int64) error
	DeleteOccupancy(ctx context.Context, id int64) error
	IsClassroomOccupied(ctx context.Context, classroomID int64, date models.Date, start, end models.TimeOfDay) (bool, error)
	ListOccupanciesByClassroom(ctx context.Context, classroomID int64, date models.Date) ([]*models.ClassroomOccupancy, error)
	ListOccupanciesByBuilding(ctx context.Context, buildingID int64, date models.Date) ([]*models.ClassroomOccupancy, error)
	ListOccupanciesByDateRange(ctx context.Context, from, to models.Date) ([]*models.ClassroomOccupancy, error)
}

// Locker serializes work on string keys.
type Locker interface {
	// Lock acquires every key in sorted order and returns a function that
	// releases them.
	Lock(ctx context.Context, keys ...string) (func(), error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
