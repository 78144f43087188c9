package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"studyroom/internal/clock"
	"studyroom/internal/domain"
	"studyroom/internal/events"
	"studyroom/internal/lock"
	"studyroom/internal/logging"
	"studyroom/internal/models"

	"github.com/rs/zerolog"
)

// OccupancyService is the classroom occupancy ledger.
type OccupancyService struct {
	catalog  domain.Catalog
	store    domain.OccupancyStore
	locker   domain.Locker
	eventBus domain.EventPublisher
	clock    clock.Clock
	logger   *zerolog.Logger
}

func NewOccupancyService(
	catalog domain.Catalog,
	store domain.OccupancyStore,
	locker domain.Locker,
	eventBus domain.EventPublisher,
	clk clock.Clock,
	logger *zerolog.Logger,
) *OccupancyService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &OccupancyService{
		catalog:  catalog,
		store:    store,
		locker:   locker,
		eventBus: eventBus,
		clock:    clk,
		logger:   logging.Component(logger, "occupancy"),
	}
}

func validateOccupancyType(t string) error {
	if !models.IsValidOccupancyType(t) {
		return fmt.Errorf("%w: unknown occupancy type %q", domain.ErrInvalidArgument, t)
	}
	return nil
}

// Create blocks a classroom for a window. It fails with ErrConflict when an
// active occupancy of the classroom already overlaps the window.
func (s *OccupancyService) Create(ctx context.Context, req models.OccupancyRequest) (*models.ClassroomOccupancy, error) {
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if err := validateWindow(req.Date, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if err := validateOccupancyType(req.Type); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetClassroomByID(ctx, req.ClassroomID); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.ClassroomKey(req.ClassroomID, req.Date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	o := &models.ClassroomOccupancy{
		ClassroomID: req.ClassroomID,
		Date:        req.Date,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		Type:        req.Type,
		Reason:      req.Reason,
		OccupiedBy:  req.OccupiedBy,
		Remarks:     req.Remarks,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.store.CreateOccupancyChecked(ctx, o); err != nil {
		return nil, err
	}

	s.publishEvent(events.EventOccupancyCreated, o)
	s.logger.Info().
		Int64("occupancy_id", o.ID).
		Int64("classroom_id", o.ClassroomID).
		Str("date", o.Date.String()).
		Str("start", o.StartTime.String()).
		Str("end", o.EndTime.String()).
		Str("type", o.Type).
		Msg("occupancy created")
	return o, nil
}

// Update rewrites an occupancy. Zero ClassroomID or Date and an empty Type
// keep the stored value. Start and end are given together or not at all;
// omitting both keeps the stored window. Reason, OccupiedBy and Remarks are
// always replaced. Moving the occupancy re-runs the conflict check against
// every other active record.
func (s *OccupancyService) Update(
	ctx context.Context, id int64, req models.OccupancyRequest,
) (*models.ClassroomOccupancy, error) {
	existing, err := s.store.GetOccupancy(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ClassroomID == 0 {
		req.ClassroomID = existing.ClassroomID
	}
	if req.Date.IsZero() {
		req.Date = existing.Date
	}
	if req.EndTime == 0 {
		if req.StartTime != 0 {
			return nil, fmt.Errorf("%w: occupancy %d: start %s given without an end time",
				domain.ErrInvalidArgument, id, req.StartTime)
		}
		req.StartTime = existing.StartTime
		req.EndTime = existing.EndTime
	}
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if req.Type == "" {
		req.Type = existing.Type
	}
	if err := validateOccupancyType(req.Type); err != nil {
		return nil, err
	}

	moved := req.PlacementChanged(existing)
	keys := []string{lock.ClassroomKey(existing.ClassroomID, existing.Date)}
	if moved {
		if err := validateWindow(req.Date, req.StartTime, req.EndTime); err != nil {
			return nil, err
		}
		if _, err := s.catalog.GetClassroomByID(ctx, req.ClassroomID); err != nil {
			return nil, err
		}
		keys = append(keys, lock.ClassroomKey(req.ClassroomID, req.Date))
	}

	unlock, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated := *existing
	updated.ClassroomID = req.ClassroomID
	updated.Date = req.Date
	updated.StartTime = req.StartTime
	updated.EndTime = req.EndTime
	updated.Type = req.Type
	updated.Reason = req.Reason
	updated.OccupiedBy = req.OccupiedBy
	updated.Remarks = req.Remarks
	updated.UpdatedAt = s.clock.Now()

	if err := s.store.UpdateOccupancyChecked(ctx, &updated, moved); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			return nil, fmt.Errorf("%w: occupancy %d was modified concurrently", domain.ErrConflict, id)
		}
		return nil, err
	}

	s.publishEvent(events.EventOccupancyUpdated, &updated)
	s.logger.Info().Int64("occupancy_id", id).Bool("moved", moved).Msg("occupancy updated")
	return &updated, nil
}

// Cancel soft-cancels an occupancy; the record is kept.
func (s *OccupancyService) Cancel(ctx context.Context, id int64) (*models.ClassroomOccupancy, error) {
	if err := s.store.CancelOccupancy(ctx, id); err != nil {
		return nil, err
	}
	o, err := s.store.GetOccupancy(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishEvent(events.EventOccupancyCancelled, o)
	s.logger.Info().Int64("occupancy_id", id).Msg("occupancy cancelled")
	return o, nil
}

// Delete removes an occupancy permanently.
func (s *OccupancyService) Delete(ctx context.Context, id int64) error {
	o, err := s.store.GetOccupancy(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteOccupancy(ctx, id); err != nil {
		return err
	}
	s.publishEvent(events.EventOccupancyDeleted, o)
	s.logger.Info().Int64("occupancy_id", id).Msg("occupancy deleted")
	return nil
}

func (s *OccupancyService) Get(ctx context.Context, id int64) (*models.ClassroomOccupancy, error) {
	return s.store.GetOccupancy(ctx, id)
}

// ListByClassroom returns every occupancy of the classroom on date,
// cancelled ones included.
func (s *OccupancyService) ListByClassroom(
	ctx context.Context, classroomID int64, date models.Date,
) ([]*models.ClassroomOccupancy, error) {
	if _, err := s.catalog.GetClassroomByID(ctx, classroomID); err != nil {
		return nil, err
	}
	return s.store.ListOccupanciesByClassroom(ctx, classroomID, date)
}

func (s *OccupancyService) ListByBuilding(
	ctx context.Context, buildingID int64, date models.Date,
) ([]*models.ClassroomOccupancy, error) {
	if _, err := s.catalog.GetBuildingByID(ctx, buildingID); err != nil {
		return nil, err
	}
	return s.store.ListOccupanciesByBuilding(ctx, buildingID, date)
}

func (s *OccupancyService) ListByDateRange(ctx context.Context, from, to models.Date) ([]*models.ClassroomOccupancy, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, fmt.Errorf("%w: invalid date range %s..%s", domain.ErrInvalidArgument, from, to)
	}
	return s.store.ListOccupanciesByDateRange(ctx, from, to)
}

func (s *OccupancyService) publishEvent(eventType string, o *models.ClassroomOccupancy) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, events.NewOccupancyPayload(o, s.clock.Now())); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("occupancy_id", o.ID).Msg("publish event error")
	}
}
