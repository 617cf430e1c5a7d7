package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/creator"
	"github.com/fanbridge/payout-api/internal/ledger"
	"github.com/fanbridge/payout-api/internal/notify"
	"github.com/fanbridge/payout-api/internal/processor"
	"github.com/fanbridge/payout-api/internal/settings"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service owns the payout request/approval workflow and settlement.
type Service struct {
	db         *Database
	creators   *creator.Service
	settings   *settings.Service
	client     processor.Client
	converter  processor.Converter
	audit      *audit.Service
	notifier   notify.Dispatcher
	apiTimeout time.Duration
}

func NewService(
	gormDB *gorm.DB,
	creators *creator.Service,
	settingsSvc *settings.Service,
	client processor.Client,
	converter processor.Converter,
	auditSvc *audit.Service,
	notifier notify.Dispatcher,
	apiTimeout time.Duration,
) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		creators:   creators,
		settings:   settingsSvc,
		client:     client,
		converter:  converter,
		audit:      auditSvc,
		notifier:   notifier,
		apiTimeout: apiTimeout,
	}
}

// Create builds a new payout for a creator: eligibility gate, transactional
// claim of READY entries, debt netting, optional currency conversion, then a
// PENDING_APPROVAL record waiting for an admin.
func (s *Service) Create(ctx context.Context, creatorID, requestedBy string, requestAmount *decimal.Decimal) (*Payout, error) {
	logger := log.With().
		Str("service", "payout").
		Str("creator_id", creatorID).
		Logger()

	eligibility, err := s.creators.CheckEligibility(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if !eligibility.Eligible {
		return nil, eligibilityError(eligibility)
	}

	profile, err := s.creators.GetProfile(creatorID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings.Get()
	if err != nil {
		return nil, err
	}

	if requestAmount != nil {
		if !requestAmount.IsPositive() {
			return nil, apperrors.Validation("requested amount must be positive")
		}
		if requestAmount.GreaterThan(eligibility.Available) {
			return nil, apperrors.Validation("requested amount exceeds available balance")
		}
		minimum, err := s.creators.MinimumFor(profile)
		if err != nil {
			return nil, err
		}
		if requestAmount.LessThan(minimum) {
			return nil, apperrors.Validation(fmt.Sprintf("requested amount is below the %s minimum", minimum))
		}
	}

	p := &Payout{
		PayoutID:    "PAY_" + uuid.New().String(),
		CreatorID:   creatorID,
		Currency:    cfg.Currency,
		Status:      StatusPendingApproval,
		RequestedBy: requestedBy,
		CreatedAt:   time.Now(),
	}

	claim, err := s.db.CreateWithClaim(p, requestAmount)
	if err != nil {
		if errors.Is(err, ErrNoEligibleBalance) {
			return nil, apperrors.Validation("no eligible balance")
		}
		if errors.Is(err, ErrDebtExceedsBalance) {
			// Debt swallows everything claimable: block the creator and
			// surface the state for explicit admin resolution.
			if blockErr := s.creators.Block("system", creatorID,
				"outstanding debt exceeds available balance"); blockErr != nil &&
				!errors.Is(blockErr, apperrors.ErrConflict) {
				logger.Error().Err(blockErr).Msg("failed to block creator after debt overrun")
			}
			return nil, apperrors.Conflict("outstanding debt exceeds available balance, payouts blocked pending reconciliation")
		}
		return nil, err
	}

	// Conversion happens after the claim so the persisted rate matches the
	// final amount. A conversion failure is a hard failure: release the
	// claim rather than leave an unpayable payout pending.
	if profile.Currency != "" && profile.Currency != cfg.Currency {
		conv, convErr := s.converter.Convert(ctx, p.TotalAmount, cfg.Currency, profile.Currency)
		if convErr != nil {
			if relErr := s.db.ReleaseClaim(p.PayoutID); relErr != nil {
				logger.Error().Err(relErr).Str("payout_id", p.PayoutID).Msg("failed to release claim after conversion failure")
			}
			if _, trErr := s.db.TransitionStatus(p.PayoutID, StatusPendingApproval, StatusFailed,
				map[string]interface{}{"failure_reason": "currency conversion failed"}); trErr != nil {
				logger.Error().Err(trErr).Str("payout_id", p.PayoutID).Msg("failed to fail payout after conversion failure")
			}
			return nil, fmt.Errorf("currency conversion failed: %w", convErr)
		}
		p.PayoutCurrency = profile.Currency
		p.AmountInProcessorCurrency = &conv.Amount
		p.ConversionRate = &conv.Rate
		p.ConvertedAt = &conv.Timestamp
		if err := s.db.SetConversion(p.PayoutID, profile.Currency, conv); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("payout_id", p.PayoutID).
		Str("total", p.TotalAmount.String()).
		Str("debt_offset", claim.DebtOffset.String()).
		Int("entries", claim.EntryCount).
		Str("requested_by", requestedBy).
		Msg("payout created, pending approval")

	s.notifier.Notify(creatorID, notify.TypePayoutRequested,
		fmt.Sprintf("Your payout of %s %s is awaiting review.", p.TotalAmount, p.Currency), "")

	return s.db.GetPayout(p.PayoutID)
}

// Approve is the admin gate before money moves: it verifies the receiving
// account is still healthy and hands the payout to the settlement executor.
func (s *Service) Approve(ctx context.Context, actorID, payoutID string) (*Payout, error) {
	p, err := s.db.GetPayout(payoutID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPendingApproval {
		return nil, apperrors.Conflict(fmt.Sprintf("payout %s is %s, only PENDING_APPROVAL payouts can be approved", payoutID, p.Status))
	}

	profile, err := s.creators.GetProfile(p.CreatorID)
	if err != nil {
		return nil, err
	}
	if profile.PayoutBlocked {
		return nil, apperrors.Conflict(fmt.Sprintf("creator %s is blocked, payout cannot advance", p.CreatorID))
	}

	// The approval record follows the PENDING_APPROVAL -> PROCESSING flip
	// inside ExecuteTransfer: a duplicate approval aborts on the status
	// guard and must not leave a second approval in the audit trail.
	execErr := s.ExecuteTransfer(ctx, p, profile.ExternalAccountID)
	if execErr != nil && errors.Is(execErr, apperrors.ErrConflict) {
		return nil, execErr
	}
	s.audit.Log(actorID, audit.ActionApprovePayout, "payout", payoutID,
		gin.H{"status": StatusPendingApproval}, gin.H{"status": StatusProcessing}, "")
	if execErr != nil {
		return nil, execErr
	}
	return s.db.GetPayout(payoutID)
}

// Reject declines a pending payout and releases everything it claimed.
func (s *Service) Reject(actorID, payoutID, reason string) error {
	return s.closePending(actorID, payoutID, StatusRejected, reason, audit.ActionRejectPayout)
}

// Cancel withdraws a pending payout. Canceling after settlement has begun is
// rejected; reconciliation handles in-flight transfers after the fact.
func (s *Service) Cancel(actorID, payoutID, reason string) error {
	return s.closePending(actorID, payoutID, StatusCanceled, reason, audit.ActionCancelPayout)
}

// CancelOwn lets a creator cancel their own payout while it is still
// pending.
func (s *Service) CancelOwn(creatorID, payoutID string) error {
	p, err := s.db.GetPayout(payoutID)
	if err != nil {
		return err
	}
	if p.CreatorID != creatorID {
		return apperrors.ErrForbidden
	}
	return s.closePending(creatorID, payoutID, StatusCanceled, "canceled by creator", audit.ActionCancelPayout)
}

func (s *Service) closePending(actorID, payoutID, toStatus, reason, auditAction string) error {
	rows, err := s.db.TransitionStatus(payoutID, StatusPendingApproval, toStatus,
		map[string]interface{}{"failure_reason": reason})
	if err != nil {
		return err
	}
	if rows == 0 {
		p, getErr := s.db.GetPayout(payoutID)
		if getErr != nil {
			return getErr
		}
		return apperrors.Conflict(fmt.Sprintf("payout %s is %s, only PENDING_APPROVAL payouts can be closed", payoutID, p.Status))
	}

	if err := s.db.ReleaseClaim(payoutID); err != nil {
		return fmt.Errorf("failed to release claimed entries: %w", err)
	}

	p, err := s.db.GetPayout(payoutID)
	if err != nil {
		return err
	}

	s.audit.Log(actorID, auditAction, "payout", payoutID,
		gin.H{"status": StatusPendingApproval}, gin.H{"status": toStatus}, reason)
	if toStatus == StatusRejected {
		s.notifier.Notify(p.CreatorID, notify.TypePayoutRejected,
			fmt.Sprintf("Your payout of %s %s was not approved: %s", p.TotalAmount, p.Currency, reason), "")
	}

	log.Info().
		Str("service", "payout").
		Str("payout_id", payoutID).
		Str("status", toStatus).
		Str("reason", reason).
		Msg("pending payout closed, claim released")
	return nil
}

// GetPayout retrieves a payout by its ID
func (s *Service) GetPayout(payoutID string) (*Payout, error) {
	return s.db.GetPayout(payoutID)
}

// GetCreatorPayouts retrieves all payouts for a creator
func (s *Service) GetCreatorPayouts(creatorID string) ([]Payout, error) {
	return s.db.GetCreatorPayouts(creatorID)
}

// ListPending lists payouts awaiting admin approval.
func (s *Service) ListPending() ([]Payout, error) {
	return s.db.ListByStatus(StatusPendingApproval)
}

// GetPayoutEntries lists the entries claimed by a payout.
func (s *Service) GetPayoutEntries(payoutID string) ([]ledger.Entry, error) {
	return s.db.GetPayoutEntries(payoutID)
}

func eligibilityError(e *creator.Eligibility) error {
	msg := "not eligible for payout:"
	for _, issue := range e.Issues {
		msg += " " + issue.Message + ";"
	}
	return errors.Join(apperrors.ErrNotEligible, errors.New(msg))
}
