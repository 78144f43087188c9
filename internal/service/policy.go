package service

import (
	"fmt"
	"time"

	"studyroom/internal/config"
	"studyroom/internal/models"
)

// Policy is the check-in window of the booking ledger.
type Policy struct {
	CheckInEarly time.Duration
	CheckInGrace time.Duration
	Location     *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		CheckInEarly: models.DefaultCheckInEarlyMinutes * time.Minute,
		CheckInGrace: models.DefaultCheckInGraceMinutes * time.Minute,
		Location:     time.Local,
	}
}

// PolicyFromConfig builds a Policy from the booking section; zero minutes
// fall back to the defaults.
func PolicyFromConfig(cfg config.BookingConfig) (Policy, error) {
	p := DefaultPolicy()
	loc, err := cfg.Location()
	if err != nil {
		return Policy{}, fmt.Errorf("invalid booking timezone %q: %w", cfg.Timezone, err)
	}
	p.Location = loc
	if cfg.CheckInEarlyMinutes > 0 {
		p.CheckInEarly = time.Duration(cfg.CheckInEarlyMinutes) * time.Minute
	}
	if cfg.CheckInGraceMinutes > 0 {
		p.CheckInGrace = time.Duration(cfg.CheckInGraceMinutes) * time.Minute
	}
	return p, nil
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}
