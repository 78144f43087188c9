package service

import (
	"context"
	"fmt"

	"studyroom/internal/domain"
	"studyroom/internal/logging"
	"studyroom/internal/models"

	"github.com/rs/zerolog"
)

// Scope selects the seats of one classroom or of a whole building.
type Scope struct {
	ClassroomID int64
	BuildingID  int64
}

// AvailabilityService answers seat availability questions. Every call reads
// the store; nothing is cached between requests.
type AvailabilityService struct {
	catalog   domain.Catalog
	bookings  domain.BookingStore
	occupancy domain.OccupancyStore
	logger    *zerolog.Logger
}

func NewAvailabilityService(
	catalog domain.Catalog,
	bookings domain.BookingStore,
	occupancy domain.OccupancyStore,
	logger *zerolog.Logger,
) *AvailabilityService {
	return &AvailabilityService{
		catalog:   catalog,
		bookings:  bookings,
		occupancy: occupancy,
		logger:    logging.Component(logger, "availability"),
	}
}

func validateWindow(date models.Date, start, end models.TimeOfDay) error {
	w := models.Window{Date: date, Start: start, End: end}
	if !w.Valid() {
		return fmt.Errorf("%w: window %s %s-%s must have start before end", domain.ErrInvalidArgument, date, start, end)
	}
	return nil
}

// IsSeatFree reports whether the seat has no holding booking and its
// classroom no active occupancy overlapping [start,end) on date.
func (s *AvailabilityService) IsSeatFree(
	ctx context.Context, seatID int64, date models.Date, start, end models.TimeOfDay,
) (bool, error) {
	if err := validateWindow(date, start, end); err != nil {
		return false, err
	}
	seat, err := s.catalog.GetSeatByID(ctx, seatID)
	if err != nil {
		return false, err
	}
	return s.seatFree(ctx, seat, date, start, end)
}

func (s *AvailabilityService) seatFree(
	ctx context.Context, seat *models.Seat, date models.Date, start, end models.TimeOfDay,
) (bool, error) {
	occupied, err := s.occupancy.IsClassroomOccupied(ctx, seat.ClassroomID, date, start, end)
	if err != nil {
		return false, err
	}
	if occupied {
		return false, nil
	}
	taken, err := s.bookings.HasOverlappingBooking(ctx, seat.ID, date, start, end)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// ListAvailableSeats returns the free seats in scope. Seats of an occupied
// classroom are never returned.
func (s *AvailabilityService) ListAvailableSeats(
	ctx context.Context, scope Scope, date models.Date, start, end models.TimeOfDay,
) ([]*models.Seat, error) {
	if err := validateWindow(date, start, end); err != nil {
		return nil, err
	}
	seats, err := s.seatsInScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	blocked := make(map[int64]bool)
	candidates := make([]*models.Seat, 0, len(seats))
	for _, seat := range seats {
		occupied, seen := blocked[seat.ClassroomID]
		if !seen {
			occupied, err = s.occupancy.IsClassroomOccupied(ctx, seat.ClassroomID, date, start, end)
			if err != nil {
				return nil, err
			}
			blocked[seat.ClassroomID] = occupied
		}
		if !occupied {
			candidates = append(candidates, seat)
		}
	}
	if len(candidates) == 0 {
		return []*models.Seat{}, nil
	}

	ids := make([]int64, len(candidates))
	for i, seat := range candidates {
		ids[i] = seat.ID
	}
	booked, err := s.bookings.BookedSeatIDs(ctx, ids, date, start, end)
	if err != nil {
		return nil, err
	}

	free := make([]*models.Seat, 0, len(candidates))
	for _, seat := range candidates {
		if !booked[seat.ID] {
			free = append(free, seat)
		}
	}
	s.logger.Debug().
		Int64("classroom_id", scope.ClassroomID).
		Int64("building_id", scope.BuildingID).
		Str("date", date.String()).
		Int("in_scope", len(seats)).
		Int("free", len(free)).
		Msg("available seats listed")
	return free, nil
}

func (s *AvailabilityService) seatsInScope(ctx context.Context, scope Scope) ([]*models.Seat, error) {
	switch {
	case scope.ClassroomID > 0:
		if _, err := s.catalog.GetClassroomByID(ctx, scope.ClassroomID); err != nil {
			return nil, err
		}
		return s.catalog.ListSeatsByClassroom(ctx, scope.ClassroomID)
	case scope.BuildingID > 0:
		if _, err := s.catalog.GetBuildingByID(ctx, scope.BuildingID); err != nil {
			return nil, err
		}
		return s.catalog.ListSeatsByBuilding(ctx, scope.BuildingID)
	default:
		return nil, fmt.Errorf("%w: classroom or building id required", domain.ErrInvalidArgument)
	}
}

// ClassroomSeatsWithStatus labels every seat of the classroom. A nil window
// is browsing mode and reports every seat AVAILABLE.
func (s *AvailabilityService) ClassroomSeatsWithStatus(
	ctx context.Context, classroomID int64, window *models.Window,
) ([]models.SeatStatus, error) {
	if _, err := s.catalog.GetClassroomByID(ctx, classroomID); err != nil {
		return nil, err
	}
	seats, err := s.catalog.ListSeatsByClassroom(ctx, classroomID)
	if err != nil {
		return nil, err
	}

	out := make([]models.SeatStatus, 0, len(seats))
	if window == nil {
		for _, seat := range seats {
			out = append(out, models.SeatStatus{Seat: *seat, Status: models.SeatAvailable})
		}
		return out, nil
	}
	if err := validateWindow(window.Date, window.Start, window.End); err != nil {
		return nil, err
	}

	occupied, err := s.occupancy.IsClassroomOccupied(ctx, classroomID, window.Date, window.Start, window.End)
	if err != nil {
		return nil, err
	}
	booked := map[int64]bool{}
	if !occupied && len(seats) > 0 {
		ids := make([]int64, len(seats))
		for i, seat := range seats {
			ids[i] = seat.ID
		}
		booked, err = s.bookings.BookedSeatIDs(ctx, ids, window.Date, window.Start, window.End)
		if err != nil {
			return nil, err
		}
	}

	for _, seat := range seats {
		status := models.SeatAvailable
		if occupied || booked[seat.ID] {
			status = models.SeatOccupied
		}
		out = append(out, models.SeatStatus{Seat: *seat, Status: status})
	}
	return out, nil
}
