package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically releases HELD entries whose holding period has
// elapsed. Each tick is a complete, independent unit of work; the underlying
// update is idempotent, so overlapping runs (or an external cron hitting the
// sweep endpoint at the same time) are harmless.
type Sweeper struct {
	service  *Service
	interval time.Duration
}

func NewSweeper(service *Service, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  service,
		interval: interval,
	}
}

// Start begins the sweep loop
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "ledger_sweeper").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting ledger sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down ledger sweeper")
			return
		case <-ticker.C:
			if _, err := s.service.RunSweep(); err != nil {
				logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
