package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/notify"
	"github.com/fanbridge/payout-api/internal/processor"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ExecuteTransfer moves an approved payout through the external processor.
// The PENDING_APPROVAL -> PROCESSING flip is a status-guarded update made
// immediately before the API call, so a duplicate approval (double click,
// retried cron) finds the payout already moved on and aborts with a
// conflict instead of transferring twice.
//
// The processor settles asynchronously: success here only records the
// transfer id; the PAID confirmation arrives via webhook.
func (s *Service) ExecuteTransfer(ctx context.Context, p *Payout, destinationAccountID string) error {
	logger := log.With().
		Str("service", "payout").
		Str("component", "executor").
		Str("payout_id", p.PayoutID).
		Logger()

	rows, err := s.db.TransitionStatus(p.PayoutID, StatusPendingApproval, StatusProcessing, nil)
	if err != nil {
		return err
	}
	if rows == 0 {
		current, getErr := s.db.GetPayout(p.PayoutID)
		if getErr != nil {
			return getErr
		}
		return apperrors.Conflict(fmt.Sprintf("payout %s is %s, settlement already in progress or finished", p.PayoutID, current.Status))
	}

	amount := p.TotalAmount
	currency := p.Currency
	if p.AmountInProcessorCurrency != nil {
		amount = *p.AmountInProcessorCurrency
		currency = p.PayoutCurrency
	}

	apiCtx, cancel := context.WithTimeout(ctx, s.apiTimeout)
	defer cancel()

	transferID, err := s.client.CreateTransfer(apiCtx, processor.TransferRequest{
		Amount:               amount,
		Currency:             currency,
		DestinationAccountID: destinationAccountID,
		IdempotencyKey:       p.PayoutID,
		Metadata: map[string]string{
			"payout_id":  p.PayoutID,
			"creator_id": p.CreatorID,
		},
	})
	if err != nil {
		return s.handleTransferFailure(p, err)
	}

	if _, err := s.db.TransitionStatus(p.PayoutID, StatusProcessing, StatusProcessing,
		map[string]interface{}{"external_transfer_id": transferID}); err != nil {
		// The transfer went out but we could not record its id. Keep the
		// payout PROCESSING and surface loudly: the webhook carries the
		// transfer id again and the reconciliation pass can re-check
		// processor-side status.
		logger.Error().Err(err).Str("transfer_id", transferID).Msg("transfer sent but id not recorded")
		return fmt.Errorf("transfer %s sent but not recorded: %w", transferID, err)
	}

	s.audit.Log("system", audit.ActionSettlePayout, "payout", p.PayoutID,
		gin.H{"status": StatusPendingApproval},
		gin.H{"status": StatusProcessing, "external_transfer_id": transferID}, "")

	logger.Info().
		Str("transfer_id", transferID).
		Str("amount", amount.String()).
		Str("currency", currency).
		Msg("transfer submitted, awaiting settlement confirmation")
	return nil
}

// handleTransferFailure routes a processor error. Permanent failures fail
// the payout and release its claim so the entries can be re-requested;
// transient failures put the payout back in the approval queue untouched.
func (s *Service) handleTransferFailure(p *Payout, transferErr error) error {
	logger := log.With().
		Str("service", "payout").
		Str("component", "executor").
		Str("payout_id", p.PayoutID).
		Logger()

	if !processor.IsPermanent(transferErr) {
		if _, err := s.db.TransitionStatus(p.PayoutID, StatusProcessing, StatusPendingApproval, nil); err != nil {
			logger.Error().Err(err).Msg("failed to return payout to approval queue")
		}
		logger.Warn().Err(transferErr).Msg("transient transfer failure, payout returned to approval queue")
		return fmt.Errorf("transient transfer failure, retry later: %w", transferErr)
	}

	reason := transferErr.Error()
	if _, err := s.db.TransitionStatus(p.PayoutID, StatusProcessing, StatusFailed,
		map[string]interface{}{"failure_reason": reason}); err != nil {
		return err
	}
	if err := s.db.ReleaseClaim(p.PayoutID); err != nil {
		return fmt.Errorf("failed to release claim after transfer failure: %w", err)
	}

	s.audit.Log("system", audit.ActionSettlementFailed, "payout", p.PayoutID,
		gin.H{"status": StatusProcessing},
		gin.H{"status": StatusFailed}, reason)
	s.notifier.Notify("admin", notify.TypePayoutFailed,
		fmt.Sprintf("Payout %s failed: %s", p.PayoutID, reason), "")
	s.notifier.Notify(p.CreatorID, notify.TypePayoutFailed,
		"Your payout could not be completed. Our team has been notified.", "")

	logger.Error().Err(transferErr).Msg("permanent transfer failure, payout failed and claim released")
	return fmt.Errorf("transfer failed: %w", transferErr)
}

// RecheckStuckProcessing lists payouts that have sat in PROCESSING longer
// than the given age, for the admin reconciliation queue. A payout can
// legitimately wait on asynchronous settlement; one stuck past the window
// needs a processor-side status check.
func (s *Service) RecheckStuckProcessing(olderThan time.Duration) ([]Payout, error) {
	payouts, err := s.db.ListByStatus(StatusProcessing)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-olderThan)
	stuck := payouts[:0]
	for _, p := range payouts {
		if p.CreatedAt.Before(cutoff) {
			stuck = append(stuck, p)
		}
	}
	return stuck, nil
}
