package payout

import (
	"context"
	"errors"
	"time"

	"github.com/fanbridge/payout-api/internal/creator"
	"github.com/fanbridge/payout-api/internal/settings"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/rs/zerolog/log"
)

// Scheduler creates automatic payouts for creators on a DAILY or WEEKLY
// cadence when the platform is in AUTOMATIC payout mode. Each tick is an
// independent unit of work; the claim transaction makes a tick that races a
// manual request safe.
type Scheduler struct {
	service  *Service
	interval time.Duration
}

func NewScheduler(service *Service, interval time.Duration) *Scheduler {
	return &Scheduler{
		service:  service,
		interval: interval,
	}
}

// Start begins the automatic payout loop
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "payout_scheduler").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting payout scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down payout scheduler")
			return
		case <-ticker.C:
			if err := s.service.RunScheduledPayouts(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduled payout run failed")
			}
		}
	}
}

// RunScheduledPayouts creates payouts for every creator whose automatic
// cadence is due. Ineligible creators are skipped, not failed: their issues
// resolve on their own (balance below minimum) or need admin action
// (blocked), and the next tick retries.
func (s *Service) RunScheduledPayouts(ctx context.Context) error {
	logger := log.With().Str("component", "payout_scheduler").Logger()

	cfg, err := s.settings.Get()
	if err != nil {
		return err
	}
	if cfg.PayoutMode != settings.PayoutModeAutomatic {
		return nil
	}

	profiles, err := s.creators.GetDB().GetScheduledProfiles()
	if err != nil {
		return err
	}

	now := time.Now()
	created := 0
	for _, profile := range profiles {
		if !scheduleDue(profile, now) {
			continue
		}

		p, err := s.Create(ctx, profile.CreatorID, RequestedByScheduler, nil)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotEligible) || errors.Is(err, apperrors.ErrValidation) {
				logger.Debug().
					Str("creator_id", profile.CreatorID).
					Err(err).
					Msg("creator skipped this cycle")
				continue
			}
			logger.Error().
				Str("creator_id", profile.CreatorID).
				Err(err).
				Msg("failed to create scheduled payout")
			continue
		}

		if err := s.creators.GetDB().TouchAutoPayout(profile.CreatorID, now); err != nil {
			logger.Error().Err(err).Str("creator_id", profile.CreatorID).Msg("failed to stamp auto payout time")
		}
		created++
		logger.Info().
			Str("creator_id", profile.CreatorID).
			Str("payout_id", p.PayoutID).
			Str("total", p.TotalAmount.String()).
			Msg("scheduled payout created")
	}

	if created > 0 {
		logger.Info().Int("created", created).Msg("scheduled payout run complete")
	}
	return nil
}

// scheduleDue reports whether a creator's cadence has elapsed since their
// last automatic payout: at least 24 hours for DAILY, at least 7 days for
// WEEKLY.
func scheduleDue(profile creator.Profile, now time.Time) bool {
	if profile.LastAutoPayoutAt == nil {
		return true
	}
	elapsed := now.Sub(*profile.LastAutoPayoutAt)
	switch profile.PayoutSchedule {
	case creator.ScheduleDaily:
		return elapsed >= 24*time.Hour
	case creator.ScheduleWeekly:
		return elapsed >= 7*24*time.Hour
	default:
		return false
	}
}
