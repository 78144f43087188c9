package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"studyroom/internal/domain"
	"studyroom/internal/models"
)

const bookingColumns = `id, user_id, seat_id, booking_date, start_time, end_time, status,
                 check_in_time, check_out_time, created_at, updated_at, version`

// holdingStatuses are the statuses that claim a seat.
var holdingStatuses = []interface{}{models.StatusPending, models.StatusActive}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b        models.Booking
		checkIn  sql.NullTime
		checkOut sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.UserID, &b.SeatID, &b.Date, &b.StartTime, &b.EndTime, &b.Status,
		&checkIn, &checkOut, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if checkIn.Valid {
		t := checkIn.Time
		b.CheckInTime = &t
	}
	if checkOut.Valid {
		t := checkOut.Time
		b.CheckOutTime = &t
	}
	return &b, nil
}

// HasOverlappingBooking reports whether a PENDING or ACTIVE booking of the
// seat intersects [start, end) on date.
func (db *DB) HasOverlappingBooking(
	ctx context.Context, seatID int64, date models.Date, start, end models.TimeOfDay,
) (bool, error) {
	return hasOverlappingBooking(ctx, db.DB, seatID, date, start, end)
}

func hasOverlappingBooking(
	ctx context.Context, q querier, seatID int64, date models.Date, start, end models.TimeOfDay,
) (bool, error) {
	query := `SELECT EXISTS(
                SELECT 1 FROM bookings
                WHERE seat_id = ? AND booking_date = ? AND status IN (?, ?)
                  AND NOT (end_time <= ? OR start_time >= ?))`
	var exists bool
	err := q.QueryRowContext(ctx, query, seatID, date, models.StatusPending, models.StatusActive, start, end).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check seat overlap: %w", err)
	}
	return exists, nil
}

// BookedSeatIDs returns which of seatIDs hold an overlapping PENDING or
// ACTIVE booking.
func (db *DB) BookedSeatIDs(
	ctx context.Context, seatIDs []int64, date models.Date, start, end models.TimeOfDay,
) (map[int64]bool, error) {
	booked := make(map[int64]bool)
	if len(seatIDs) == 0 {
		return booked, nil
	}

	query := fmt.Sprintf(`SELECT DISTINCT seat_id FROM bookings
              WHERE seat_id IN (%s) AND booking_date = ? AND status IN (?, ?)
                AND NOT (end_time <= ? OR start_time >= ?)`, placeholders(len(seatIDs)))
	args := make([]interface{}, 0, len(seatIDs)+5)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	args = append(args, date)
	args = append(args, holdingStatuses...)
	args = append(args, start, end)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list booked seats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		booked[id] = true
	}
	return booked, rows.Err()
}

// HasHoldingBookingForUser reports whether the user has a PENDING or ACTIVE
// booking on date.
func (db *DB) HasHoldingBookingForUser(ctx context.Context, userID int64, date models.Date) (bool, error) {
	return hasHoldingBookingForUser(ctx, db.DB, userID, date)
}

func hasHoldingBookingForUser(ctx context.Context, q querier, userID int64, date models.Date) (bool, error) {
	query := `SELECT EXISTS(
                SELECT 1 FROM bookings WHERE user_id = ? AND booking_date = ? AND status IN (?, ?))`
	var exists bool
	if err := q.QueryRowContext(ctx, query, userID, date, models.StatusPending, models.StatusActive).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check user bookings: %w", err)
	}
	return exists, nil
}

// CreateBookingChecked inserts a PENDING booking after re-running the
// one-per-day and seat conflict checks in the same transaction.
func (db *DB) CreateBookingChecked(ctx context.Context, booking *models.Booking) error {
	now := nowOr(booking.CreatedAt)

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		held, err := hasHoldingBookingForUser(ctx, tx, booking.UserID, booking.Date)
		if err != nil {
			return err
		}
		if held {
			return ErrUserHasBooking
		}

		taken, err := hasOverlappingBooking(ctx, tx, booking.SeatID, booking.Date, booking.StartTime, booking.EndTime)
		if err != nil {
			return err
		}
		if taken {
			return ErrSeatTaken
		}

		var classroomID int64
		if err := tx.QueryRowContext(ctx, `SELECT classroom_id FROM seats WHERE id = ?`, booking.SeatID).Scan(&classroomID); err != nil {
			return notFound(err, "seat", booking.SeatID)
		}
		occupied, err := isClassroomOccupied(ctx, tx, classroomID, booking.Date, booking.StartTime, booking.EndTime, 0)
		if err != nil {
			return err
		}
		if occupied {
			return ErrClassroomOccupied
		}

		query := `INSERT INTO bookings (
                    user_id, seat_id, booking_date, start_time, end_time, status,
                    created_at, updated_at, version
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`
		result, err := tx.ExecContext(ctx, query,
			booking.UserID,
			booking.SeatID,
			booking.Date,
			booking.StartTime,
			booking.EndTime,
			models.StatusPending,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert booking: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		booking.ID = id
		return nil
	})
	if err != nil {
		return err
	}

	booking.Status = models.StatusPending
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

// TransitionBooking moves a booking from t.From to t.To if it still has
// t.Version. Check-in and check-out stamps are only written when set.
func (db *DB) TransitionBooking(ctx context.Context, t domain.Transition) error {
	query := `UPDATE bookings SET
                status = ?,
                version = version + 1,
                updated_at = ?,
                check_in_time = COALESCE(?, check_in_time),
                check_out_time = COALESCE(?, check_out_time)
              WHERE id = ? AND status = ? AND version = ?`
	result, err := db.ExecContext(ctx, query,
		t.To, nowOr(t.At), t.CheckInTime, t.CheckOutTime, t.ID, t.From, t.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking %d: %w", t.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ListBookingsByStatus returns bookings in status dated on or before until,
// oldest first.
func (db *DB) ListBookingsByStatus(ctx context.Context, status string, until models.Date) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE status = ? AND booking_date <= ?
              ORDER BY booking_date, start_time, id`
	rows, err := db.QueryContext(ctx, query, status, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s bookings: %w", status, err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

const summaryQuery = `SELECT b.id, b.user_id, u.username, b.seat_id, s.seat_number, c.room_number, bl.name,
                 b.booking_date, b.start_time, b.end_time, b.status, b.created_at
          FROM bookings b
          JOIN users u ON u.id = b.user_id
          JOIN seats s ON s.id = b.seat_id
          JOIN classrooms c ON c.id = s.classroom_id
          JOIN buildings bl ON bl.id = c.building_id`

func scanSummary(row rowScanner) (*models.BookingSummary, error) {
	var (
		s          models.BookingSummary
		date       models.Date
		start, end models.TimeOfDay
		createdAt  time.Time
	)
	err := row.Scan(&s.ID, &s.UserID, &s.Username, &s.SeatID, &s.SeatNumber, &s.ClassroomName, &s.BuildingName,
		&date, &start, &end, &s.Status, &createdAt)
	if err != nil {
		return nil, err
	}
	s.StartTime = date.String() + " " + start.String()
	s.EndTime = date.String() + " " + end.String()
	s.CreatedTime = createdAt.Format(models.DateTimeLayout)
	return &s, nil
}

// ListUserBookingSummaries returns the user's bookings newest first.
func (db *DB) ListUserBookingSummaries(ctx context.Context, userID int64) ([]*models.BookingSummary, error) {
	rows, err := db.QueryContext(ctx, summaryQuery+` WHERE b.user_id = ? ORDER BY b.created_at DESC, b.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user bookings: %w", err)
	}
	defer rows.Close()

	summaries := make([]*models.BookingSummary, 0)
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (db *DB) GetBookingSummary(ctx context.Context, id int64) (*models.BookingSummary, error) {
	s, err := scanSummary(db.QueryRowContext(ctx, summaryQuery+` WHERE b.id = ?`, id))
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return s, nil
}
