package models

import "time"

type Booking struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	SeatID       int64      `json:"seat_id"`
	Date         Date       `json:"date"`
	StartTime    TimeOfDay  `json:"start_time"`
	EndTime      TimeOfDay  `json:"end_time"`
	Status       string     `json:"status"` // PENDING, ACTIVE, COMPLETED, CANCELLED, TIMEOUT, VIOLATED
	CheckInTime  *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Version      int64      `json:"version"`
}

func (b *Booking) StartAt(loc *time.Location) time.Time {
	return b.Date.At(b.StartTime, loc)
}

func (b *Booking) EndAt(loc *time.Location) time.Time {
	return b.Date.At(b.EndTime, loc)
}

// IsHolding reports whether the booking still claims its seat.
func (b *Booking) IsHolding() bool {
	return IsHoldingStatus(b.Status)
}

func IsHoldingStatus(status string) bool {
	return status == StatusPending || status == StatusActive
}

// BookingSummary is the read-time join of a booking with its seat,
// classroom and building.
type BookingSummary struct {
	ID            int64  `json:"id"`
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	SeatID        int64  `json:"seat_id"`
	SeatNumber    string `json:"seat_number"`
	ClassroomName string `json:"classroom_name"`
	BuildingName  string `json:"building_name"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CreatedTime   string `json:"created_time"`
}

// Window is a time range on a single date.
type Window struct {
	Date  Date      `json:"date"`
	Start TimeOfDay `json:"start_time"`
	End   TimeOfDay `json:"end_time"`
}

func (w Window) Valid() bool {
	return !w.Date.IsZero() && w.Start.Valid() && w.End.Valid() && w.Start < w.End
}
