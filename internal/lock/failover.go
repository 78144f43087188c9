package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"studyroom/internal/domain"
	"studyroom/internal/logging"

	"github.com/rs/zerolog"
)

const recheckInterval = time.Minute

// Failover uses primary while it is healthy and falls back to a secondary
// locker when primary reports a transport error. Lock timeouts are returned
// as is. The store transaction remains the final guard while degraded.
type Failover struct {
	primary   domain.Locker
	fallback  domain.Locker
	logger    *zerolog.Logger
	mu        sync.Mutex
	down      bool
	lastCheck time.Time
	now       func() time.Time
}

func NewFailover(primary, fallback domain.Locker, logger *zerolog.Logger) *Failover {
	return &Failover{
		primary:  primary,
		fallback: fallback,
		logger:   logging.Component(logger, "lock"),
		now:      time.Now,
	}
}

func (f *Failover) Lock(ctx context.Context, keys ...string) (func(), error) {
	if f.usePrimary() {
		unlock, err := f.primary.Lock(ctx, keys...)
		if err == nil || errors.Is(err, ErrLockTimeout) || ctx.Err() != nil {
			f.markUp()
			return unlock, err
		}
		f.logger.Error().Err(err).Msg("Primary locker failed, falling back to local locks")
		f.markDown()
	}
	return f.fallback.Lock(ctx, keys...)
}

// usePrimary is true while healthy, and once per recheckInterval while down.
func (f *Failover) usePrimary() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.down {
		return true
	}
	if f.now().Sub(f.lastCheck) > recheckInterval {
		f.lastCheck = f.now()
		return true
	}
	return false
}

func (f *Failover) markDown() {
	f.mu.Lock()
	f.down = true
	f.lastCheck = f.now()
	f.mu.Unlock()
}

func (f *Failover) markUp() {
	f.mu.Lock()
	if f.down {
		f.logger.Info().Msg("Primary locker recovered")
	}
	f.down = false
	f.mu.Unlock()
}
