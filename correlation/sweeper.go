package correlation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Sweeper periodically deletes expired records from backends that do not
// expire them on their own.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   zerolog.Logger
}

func NewSweeper(store *Store, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	removed, err := s.store.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("correlation sweep failed")
		return
	}
	if removed > 0 {
		s.logger.Debug().Int("removed", removed).Msg("swept expired correlations")
	}
}
