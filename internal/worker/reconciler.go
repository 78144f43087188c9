package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyroom/internal/clock"
	"studyroom/internal/config"
	"studyroom/internal/domain"
	"studyroom/internal/events"
	"studyroom/internal/logging"
	"studyroom/internal/metrics"
	"studyroom/internal/models"

	"github.com/rs/zerolog"
)

const (
	SweepTimeout  = "timeout"
	SweepComplete = "complete"

	sourceReconciler = "reconciler"
)

// ReconcilerConfig holds the thresholds and cadence of both sweeps.
type ReconcilerConfig struct {
	TimeoutMinutes   int
	TimeoutInterval  time.Duration
	CompleteInterval time.Duration
	Location         *time.Location
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.TimeoutMinutes <= 0 {
		c.TimeoutMinutes = models.DefaultTimeoutMinutes
	}
	if c.TimeoutInterval <= 0 {
		c.TimeoutInterval = models.DefaultTimeoutSweepInterval * time.Second
	}
	if c.CompleteInterval <= 0 {
		c.CompleteInterval = models.DefaultCompleteSweepInterval * time.Second
	}
	if c.Location == nil {
		c.Location = time.Local
	}
}

// ReconcilerConfigFromConfig maps the booking section onto a ReconcilerConfig.
func ReconcilerConfigFromConfig(cfg config.BookingConfig) (ReconcilerConfig, error) {
	loc, err := cfg.Location()
	if err != nil {
		return ReconcilerConfig{}, fmt.Errorf("invalid booking timezone %q: %w", cfg.Timezone, err)
	}
	rc := ReconcilerConfig{
		TimeoutMinutes:   cfg.TimeoutMinutes,
		TimeoutInterval:  cfg.TimeoutSweepInterval,
		CompleteInterval: cfg.CompleteSweepInterval,
		Location:         loc,
	}
	rc.applyDefaults()
	return rc, nil
}

// Reconciler applies the time-driven booking transitions. Both sweeps are
// pure functions of the clock and the stored bookings, so re-running them
// is a no-op.
type Reconciler struct {
	store    domain.BookingStore
	eventBus domain.EventPublisher
	clock    clock.Clock
	cfg      ReconcilerConfig
	logger   *zerolog.Logger
}

func NewReconciler(
	store domain.BookingStore,
	eventBus domain.EventPublisher,
	clk clock.Clock,
	cfg ReconcilerConfig,
	logger *zerolog.Logger,
) *Reconciler {
	cfg.applyDefaults()
	if clk == nil {
		clk = clock.Real{Location: cfg.Location}
	}
	return &Reconciler{
		store:    store,
		eventBus: eventBus,
		clock:    clk,
		cfg:      cfg,
		logger:   logging.Component(logger, "reconciler"),
	}
}

// Run sweeps once immediately and then on each ticker until ctx is done.
// A failed sweep is retried on its next tick.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info().
		Dur("timeout_interval", r.cfg.TimeoutInterval).
		Dur("complete_interval", r.cfg.CompleteInterval).
		Msg("reconciler started")
	defer r.logger.Info().Msg("reconciler stopped")

	_, _ = r.ReleaseTimeouts(ctx)
	_, _ = r.CompleteExpired(ctx)

	timeoutTicker := time.NewTicker(r.cfg.TimeoutInterval)
	defer timeoutTicker.Stop()
	completeTicker := time.NewTicker(r.cfg.CompleteInterval)
	defer completeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeoutTicker.C:
			_, _ = r.ReleaseTimeouts(ctx)
		case <-completeTicker.C:
			_, _ = r.CompleteExpired(ctx)
		}
	}
}

// ReleaseTimeouts moves every PENDING booking not claimed within
// TimeoutMinutes of its start to TIMEOUT.
func (r *Reconciler) ReleaseTimeouts(ctx context.Context) (int, error) {
	now := r.clock.Now()
	grace := time.Duration(r.cfg.TimeoutMinutes) * time.Minute

	return r.sweep(ctx, SweepTimeout, models.StatusPending, now, func(b *models.Booking) *domain.Transition {
		if !now.After(b.StartAt(r.cfg.Location).Add(grace)) {
			return nil
		}
		return &domain.Transition{To: models.StatusTimeout}
	})
}

// CompleteExpired moves every ACTIVE booking whose end has passed to
// COMPLETED. The check-out is stamped at the scheduled end.
func (r *Reconciler) CompleteExpired(ctx context.Context) (int, error) {
	now := r.clock.Now()

	return r.sweep(ctx, SweepComplete, models.StatusActive, now, func(b *models.Booking) *domain.Transition {
		end := b.EndAt(r.cfg.Location)
		if !end.Before(now) {
			return nil
		}
		return &domain.Transition{To: models.StatusCompleted, CheckOutTime: &end}
	})
}

// sweep applies the transition chosen by pick to each booking in status.
// Rows moved by someone else since the listing are skipped.
func (r *Reconciler) sweep(
	ctx context.Context,
	name, status string,
	now time.Time,
	pick func(*models.Booking) *domain.Transition,
) (int, error) {
	today := models.DateOf(now.In(r.cfg.Location))
	bookings, err := r.store.ListBookingsByStatus(ctx, status, today)
	if err != nil {
		r.logger.Error().Err(err).Str("sweep", name).Msg("sweep listing failed")
		metrics.ObserveSweep(name, 0, err)
		return 0, err
	}

	// A record that was started is always finished.
	writeCtx := context.WithoutCancel(ctx)

	var (
		moved, skipped int
		firstErr       error
	)
	for _, b := range bookings {
		if ctx.Err() != nil {
			break
		}
		t := pick(b)
		if t == nil {
			continue
		}
		t.ID = b.ID
		t.From = b.Status
		t.Version = b.Version
		t.At = now

		err := r.store.TransitionBooking(writeCtx, *t)
		switch {
		case err == nil:
			moved++
			r.published(b, *t)
		case errors.Is(err, domain.ErrConcurrentModification):
			skipped++
			r.logger.Debug().Str("sweep", name).Int64("booking_id", b.ID).Msg("booking changed concurrently, skipped")
		default:
			r.logger.Error().Err(err).Str("sweep", name).Int64("booking_id", b.ID).Msg("sweep transition failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	metrics.ObserveSweep(name, moved, firstErr)
	r.logger.Info().
		Str("sweep", name).
		Int("candidates", len(bookings)).
		Int("transitioned", moved).
		Int("skipped", skipped).
		Msg("sweep finished")
	return moved, firstErr
}

func (r *Reconciler) published(b *models.Booking, t domain.Transition) {
	metrics.IncTransition(t.To)
	if r.eventBus == nil {
		return
	}

	moved := *b
	moved.Status = t.To
	moved.Version++
	if t.CheckOutTime != nil {
		moved.CheckOutTime = t.CheckOutTime
	}
	eventType := events.BookingEventFor(t.To)
	if err := r.eventBus.PublishJSON(eventType, events.NewBookingPayload(&moved, t.From, sourceReconciler, t.At)); err != nil {
		r.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}
