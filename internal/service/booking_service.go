package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyroom/internal/clock"
	"studyroom/internal/domain"
	"studyroom/internal/events"
	"studyroom/internal/lock"
	"studyroom/internal/logging"
	"studyroom/internal/metrics"
	"studyroom/internal/models"

	"github.com/rs/zerolog"
)

const sourceUser = "user"

// BookingService is the booking ledger: creation under per-key locks and
// compare-and-swap state transitions.
type BookingService struct {
	catalog      domain.Catalog
	store        domain.BookingStore
	availability *AvailabilityService
	locker       domain.Locker
	eventBus     domain.EventPublisher
	clock        clock.Clock
	policy       Policy
	logger       *zerolog.Logger
}

func NewBookingService(
	catalog domain.Catalog,
	store domain.BookingStore,
	availability *AvailabilityService,
	locker domain.Locker,
	eventBus domain.EventPublisher,
	clk clock.Clock,
	policy Policy,
	logger *zerolog.Logger,
) *BookingService {
	if clk == nil {
		clk = clock.Real{Location: policy.location()}
	}
	return &BookingService{
		catalog:      catalog,
		store:        store,
		availability: availability,
		locker:       locker,
		eventBus:     eventBus,
		clock:        clk,
		policy:       policy,
		logger:       logging.Component(logger, "booking"),
	}
}

// Create books seatID for userID on [start,end) of date.
func (s *BookingService) Create(
	ctx context.Context, userID, seatID int64, date models.Date, start, end models.TimeOfDay,
) (*models.Booking, error) {
	began := time.Now()
	defer func() { metrics.ObserveCreate(time.Since(began)) }()

	if err := validateWindow(date, start, end); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	seat, err := s.catalog.GetSeatByID(ctx, seatID)
	if err != nil {
		return nil, err
	}
	blacklisted, err := s.catalog.IsUserBlacklisted(ctx, userID)
	if err != nil {
		return nil, err
	}
	if blacklisted {
		return nil, fmt.Errorf("%w: user %d is blacklisted", domain.ErrForbidden, userID)
	}

	unlock, err := s.locker.Lock(ctx, lock.SeatKey(seatID, date), lock.UserKey(userID, date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	held, err := s.store.HasHoldingBookingForUser(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if held {
		return nil, fmt.Errorf("%w: user %d already has a booking on %s", domain.ErrConflict, userID, date)
	}
	free, err := s.availability.seatFree(ctx, seat, date, start, end)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, fmt.Errorf("%w: seat %d is not free on %s %s-%s", domain.ErrConflict, seatID, date, start, end)
	}

	booking := &models.Booking{
		UserID:    userID,
		SeatID:    seatID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateBookingChecked(ctx, booking); err != nil {
		return nil, err
	}

	metrics.IncTransition(models.StatusPending)
	s.publishEvent(booking, "", booking.CreatedAt)
	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("user_id", userID).
		Int64("seat_id", seatID).
		Str("date", date.String()).
		Str("start", start.String()).
		Str("end", end.String()).
		Msg("booking created")

	return booking, nil
}

// CheckIn activates a PENDING booking inside its check-in window. A late
// attempt marks the booking VIOLATED and fails with ErrTooLate.
func (s *BookingService) CheckIn(ctx context.Context, bookingID, userID int64) (*models.Booking, error) {
	b, err := s.owned(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusPending {
		return nil, domain.NewStateError("check in", b.Status)
	}

	now := s.clock.Now()
	start := b.StartAt(s.policy.location())
	opens := start.Add(-s.policy.CheckInEarly)
	closes := start.Add(s.policy.CheckInGrace)

	if now.Before(opens) {
		return nil, fmt.Errorf("%w: check-in opens at %s", domain.ErrTooEarly, opens.Format("15:04"))
	}
	if now.After(closes) {
		if err := s.transition(ctx, b, "check in", models.StatusViolated, nil, nil, now); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: check-in closed at %s", domain.ErrTooLate, closes.Format("15:04"))
	}

	if err := s.transition(ctx, b, "check in", models.StatusActive, &now, nil, now); err != nil {
		return nil, err
	}
	return b, nil
}

// CheckOut completes an ACTIVE booking.
func (s *BookingService) CheckOut(ctx context.Context, bookingID, userID int64) (*models.Booking, error) {
	b, err := s.owned(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusActive {
		return nil, domain.NewStateError("check out", b.Status)
	}

	now := s.clock.Now()
	if err := s.transition(ctx, b, "check out", models.StatusCompleted, nil, &now, now); err != nil {
		return nil, err
	}
	return b, nil
}

// Cancel releases a PENDING booking.
func (s *BookingService) Cancel(ctx context.Context, bookingID, userID int64) (*models.Booking, error) {
	b, err := s.owned(ctx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusPending {
		return nil, domain.NewStateError("cancel", b.Status)
	}

	if err := s.transition(ctx, b, "cancel", models.StatusCancelled, nil, nil, s.clock.Now()); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// ListUserBookings returns the user's bookings newest first.
func (s *BookingService) ListUserBookings(ctx context.Context, userID int64) ([]*models.BookingSummary, error) {
	if _, err := s.catalog.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListUserBookingSummaries(ctx, userID)
}

// GetBookingSummary returns the joined view of a booking owned by userID.
func (s *BookingService) GetBookingSummary(ctx context.Context, bookingID, userID int64) (*models.BookingSummary, error) {
	summary, err := s.store.GetBookingSummary(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if summary.UserID != userID {
		return nil, fmt.Errorf("%w: booking %d belongs to another user", domain.ErrForbidden, bookingID)
	}
	return summary, nil
}

func (s *BookingService) owned(ctx context.Context, bookingID, userID int64) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, fmt.Errorf("%w: booking %d belongs to another user", domain.ErrForbidden, bookingID)
	}
	return b, nil
}

// transition applies a conditional status change to b. When another actor
// moved the booking first the refusal names the status it found.
func (s *BookingService) transition(
	ctx context.Context, b *models.Booking, op, to string, checkIn, checkOut *time.Time, now time.Time,
) error {
	err := s.store.TransitionBooking(ctx, domain.Transition{
		ID:           b.ID,
		From:         b.Status,
		To:           to,
		Version:      b.Version,
		CheckInTime:  checkIn,
		CheckOutTime: checkOut,
		At:           now,
	})
	if errors.Is(err, domain.ErrConcurrentModification) {
		current, getErr := s.store.GetBooking(ctx, b.ID)
		if getErr != nil {
			return getErr
		}
		s.logger.Debug().
			Int64("booking_id", b.ID).
			Str("expected", b.Status).
			Str("found", current.Status).
			Msg("booking changed concurrently")
		return domain.NewStateError(op, current.Status)
	}
	if err != nil {
		return err
	}

	from := b.Status
	b.Status = to
	b.Version++
	b.UpdatedAt = now
	if checkIn != nil {
		b.CheckInTime = checkIn
	}
	if checkOut != nil {
		b.CheckOutTime = checkOut
	}

	metrics.IncTransition(to)
	s.publishEvent(b, from, now)
	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("from", from).
		Str("to", to).
		Msg("booking transitioned")
	return nil
}

func (s *BookingService) publishEvent(b *models.Booking, from string, at time.Time) {
	if s.eventBus == nil {
		return
	}
	eventType := events.BookingEventFor(b.Status)
	if from == models.StatusActive && b.Status == models.StatusCompleted {
		eventType = events.EventBookingCheckedOut
	}
	if err := s.eventBus.PublishJSON(eventType, events.NewBookingPayload(b, from, sourceUser, at)); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}
