package models

// Booking lifecycle.
const (
	StatusPending   = "PENDING"
	StatusActive    = "ACTIVE"
	StatusCompleted = "COMPLETED"
	StatusCancelled = "CANCELLED"
	StatusTimeout   = "TIMEOUT"
	StatusViolated  = "VIOLATED"
)

// Classroom occupancy lifecycle.
const (
	OccupancyScheduled = "SCHEDULED"
	OccupancyOngoing   = "ONGOING"
	OccupancyCompleted = "COMPLETED"
	OccupancyCancelled = "CANCELLED"
)

// Occupancy categories.
const (
	OccupancyCourse      = "COURSE"
	OccupancyMeeting     = "MEETING"
	OccupancyEvent       = "EVENT"
	OccupancyMaintenance = "MAINTENANCE"
)

// Seat labels reported by the availability index.
const (
	SeatAvailable = "AVAILABLE"
	SeatOccupied  = "OCCUPIED"
)

const (
	ClassroomOpen   = "OPEN"
	ClassroomClosed = "CLOSED"
)

const (
	// DefaultCheckInEarlyMinutes how long before start a check-in is accepted
	DefaultCheckInEarlyMinutes = 30

	// DefaultCheckInGraceMinutes how long after start a check-in is still accepted
	DefaultCheckInGraceMinutes = 15

	// DefaultTimeoutMinutes after start an unclaimed booking is released
	DefaultTimeoutMinutes = 15

	// DefaultTimeoutSweepInterval cadence of the timeout sweep
	DefaultTimeoutSweepInterval = 60 // seconds

	// DefaultCompleteSweepInterval cadence of the auto-complete sweep
	DefaultCompleteSweepInterval = 60 * 60 // seconds

	// DefaultLockWait upper bound for acquiring a per-key lock
	DefaultLockWait = 5 // seconds

	// DefaultLockTTL lifetime of a distributed lock that was never released
	DefaultLockTTL = 30 // seconds
)

func IsValidOccupancyType(t string) bool {
	switch t {
	case OccupancyCourse, OccupancyMeeting, OccupancyEvent, OccupancyMaintenance:
		return true
	default:
		return false
	}
}

func IsActiveOccupancyStatus(status string) bool {
	return status == OccupancyScheduled || status == OccupancyOngoing
}
