package payout

import (
	"errors"
	"fmt"
	"time"

	"github.com/fanbridge/payout-api/internal/debt"
	"github.com/fanbridge/payout-api/internal/ledger"
	"github.com/fanbridge/payout-api/internal/processor"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	// ErrNoEligibleBalance is returned when a claim finds no unclaimed READY
	// entries (a concurrent request got there first, or there is nothing to
	// withdraw).
	ErrNoEligibleBalance = errors.New("no eligible balance")

	// ErrDebtExceedsBalance is returned when outstanding debt swallows the
	// entire claimable amount.
	ErrDebtExceedsBalance = errors.New("outstanding debt exceeds available balance")
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ClaimResult reports what a claim transaction did.
type ClaimResult struct {
	ClaimedSum decimal.Decimal
	DebtOffset decimal.Decimal
	EntryCount int
}

// CreateWithClaim atomically claims READY entries for a new payout, offsets
// outstanding debt, and inserts the payout row. The claim is a conditional
// update on payout_request_id IS NULL checked against the expected row
// count, so two concurrent requests can never both claim the same entry:
// the loser observes fewer rows affected and rolls back with a conflict.
//
// requestAmount nil claims everything READY; otherwise entries are claimed
// oldest-first while their cumulative net stays within the requested amount.
func (d *Database) CreateWithClaim(p *Payout, requestAmount *decimal.Decimal) (*ClaimResult, error) {
	result := &ClaimResult{}

	err := d.db.Transaction(func(tx *gorm.DB) error {
		var candidates []ledger.Entry
		if err := tx.Where(
			"creator_id = ? AND payout_status = ? AND payout_request_id IS NULL AND status = ?",
			p.CreatorID, ledger.PayoutStatusReady, ledger.StatusSucceeded,
		).Order("created_at ASC").Find(&candidates).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return ErrNoEligibleBalance
		}

		// Outstanding debt nets against the payout, so it must be measured
		// against the creator's full claimable balance before entries are
		// picked: a small request from a creator with plenty of balance is
		// widened to cover the debt, not refused.
		var debts []debt.Debt
		if err := tx.Where("creator_id = ? AND reconciled = ?", p.CreatorID, false).
			Order("created_at ASC").Find(&debts).Error; err != nil {
			return err
		}
		offset := decimal.Zero
		for _, owed := range debts {
			offset = offset.Add(owed.Amount)
		}
		available := decimal.Zero
		for _, entry := range candidates {
			available = available.Add(entry.CreatorNetAmount)
		}
		if offset.GreaterThanOrEqual(available) {
			return ErrDebtExceedsBalance
		}

		picked := make([]bool, len(candidates))
		chosen := make([]string, 0, len(candidates))
		sum := decimal.Zero
		for i, entry := range candidates {
			if requestAmount != nil && sum.Add(entry.CreatorNetAmount).GreaterThan(*requestAmount) {
				continue
			}
			picked[i] = true
			chosen = append(chosen, entry.EntryID)
			sum = sum.Add(entry.CreatorNetAmount)
		}
		if len(chosen) == 0 {
			return ErrNoEligibleBalance
		}
		// Widen a partial claim oldest-first until it clears the debt.
		for i, entry := range candidates {
			if sum.GreaterThan(offset) {
				break
			}
			if picked[i] {
				continue
			}
			picked[i] = true
			chosen = append(chosen, entry.EntryID)
			sum = sum.Add(entry.CreatorNetAmount)
		}

		claim := tx.Model(&ledger.Entry{}).
			Where("entry_id IN ? AND payout_status = ? AND payout_request_id IS NULL",
				chosen, ledger.PayoutStatusReady).
			Updates(map[string]interface{}{
				"payout_status":     ledger.PayoutStatusProcessing,
				"payout_request_id": p.PayoutID,
				"updated_at":        time.Now(),
			})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected != int64(len(chosen)) {
			// Another request claimed part of the set after we read it.
			return apperrors.Conflict("entries were claimed by a concurrent payout request")
		}

		if offset.IsPositive() {
			now := time.Now()
			settle := tx.Model(&debt.Debt{}).
				Where("creator_id = ? AND reconciled = ?", p.CreatorID, false).
				Updates(map[string]interface{}{
					"reconciled":            true,
					"reconciliation_method": debt.MethodPayoutOffset,
					"reversal_reference_id": p.PayoutID,
					"reconciled_at":         now,
					"updated_at":            now,
				})
			if settle.Error != nil {
				return settle.Error
			}
			if settle.RowsAffected != int64(len(debts)) {
				return apperrors.Conflict("debts changed during payout creation")
			}
		}

		p.TotalAmount = sum.Sub(offset)
		p.DebtOffsetAmount = offset
		if err := tx.Create(p).Error; err != nil {
			return err
		}

		result.ClaimedSum = sum
		result.DebtOffset = offset
		result.EntryCount = len(chosen)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ReleaseClaim returns a payout's claimed entries to READY and reopens any
// debt offsets taken at creation. Used on rejection, cancellation and
// settlement failure; release-on-failure keeps entries from being stranded
// on a terminal payout.
func (d *Database) ReleaseClaim(payoutID string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&ledger.Entry{}).
			Where("payout_request_id = ? AND payout_status = ?", payoutID, ledger.PayoutStatusProcessing).
			Updates(map[string]interface{}{
				"payout_status":     ledger.PayoutStatusReady,
				"payout_request_id": nil,
				"updated_at":        time.Now(),
			}).Error; err != nil {
			return err
		}

		return tx.Model(&debt.Debt{}).
			Where("reversal_reference_id = ? AND reconciliation_method = ?",
				payoutID, debt.MethodPayoutOffset).
			Updates(map[string]interface{}{
				"reconciled":            false,
				"reconciliation_method": "",
				"reversal_reference_id": "",
				"reconciled_at":         nil,
				"updated_at":            time.Now(),
			}).Error
	})
}

// SetConversion persists the conversion fields of a freshly created payout.
// It runs outside the claim transaction, which is safe while the payout is
// still PENDING_APPROVAL: nothing reads the conversion fields before
// approval, and a crash in between leaves a pending payout an admin can
// reject.
func (d *Database) SetConversion(payoutID, payoutCurrency string, conv *processor.Conversion) error {
	return d.db.Model(&Payout{}).
		Where("payout_id = ?", payoutID).
		Updates(map[string]interface{}{
			"payout_currency":              payoutCurrency,
			"amount_in_processor_currency": conv.Amount,
			"conversion_rate":              conv.Rate,
			"converted_at":                 conv.Timestamp,
			"updated_at":                   time.Now(),
		}).Error
}

// MarkEntriesPaid flips a payout's claimed entries to PAID after settlement
// is confirmed.
func (d *Database) MarkEntriesPaid(payoutID string) error {
	return d.db.Model(&ledger.Entry{}).
		Where("payout_request_id = ? AND payout_status = ?", payoutID, ledger.PayoutStatusProcessing).
		Updates(map[string]interface{}{
			"payout_status": ledger.PayoutStatusPaid,
			"updated_at":    time.Now(),
		}).Error
}

// TransitionStatus performs a status-guarded update. Zero rows affected
// means the payout was not in fromStatus anymore.
func (d *Database) TransitionStatus(payoutID, fromStatus, toStatus string, extra map[string]interface{}) (int64, error) {
	updates := map[string]interface{}{
		"status":     toStatus,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := d.db.Model(&Payout{}).
		Where("payout_id = ? AND status = ?", payoutID, fromStatus).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (d *Database) GetPayout(payoutID string) (*Payout, error) {
	var p Payout
	if err := d.db.Where("payout_id = ?", payoutID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *Database) GetPayoutByTransferID(transferID string) (*Payout, error) {
	var p Payout
	if err := d.db.Where("external_transfer_id = ?", transferID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *Database) GetCreatorPayouts(creatorID string) ([]Payout, error) {
	var payouts []Payout
	if err := d.db.Where("creator_id = ?", creatorID).
		Order("created_at DESC").Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

func (d *Database) ListByStatus(status string) ([]Payout, error) {
	var payouts []Payout
	if err := d.db.Where("status = ?", status).
		Order("created_at ASC").Find(&payouts).Error; err != nil {
		return nil, err
	}
	return payouts, nil
}

// GetPayoutEntries lists the ledger entries claimed by a payout.
func (d *Database) GetPayoutEntries(payoutID string) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	if err := d.db.Where("payout_request_id = ?", payoutID).
		Order("created_at ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// RecordEventOnce inserts a processed-event row and applies the given
// effects in one transaction. A redelivered event hits the unique index,
// applies nothing, and reports alreadyProcessed.
func (d *Database) RecordEventOnce(event *ProcessedEvent, apply func(tx *gorm.DB) error) (alreadyProcessed bool, err error) {
	err = d.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ProcessedEvent{}).
			Where("event_id = ?", event.EventID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			alreadyProcessed = true
			return nil
		}
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("failed to record processed event: %w", err)
		}
		return apply(tx)
	})
	return alreadyProcessed, err
}
