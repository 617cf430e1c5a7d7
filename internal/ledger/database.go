package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateEntry(entry *Entry) error {
	return d.db.Create(entry).Error
}

func (d *Database) GetEntry(entryID string) (*Entry, error) {
	var entry Entry
	if err := d.db.Where("entry_id = ?", entryID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (d *Database) GetEntryByExternalChargeID(chargeID string) (*Entry, error) {
	var entry Entry
	if err := d.db.Where("external_charge_id = ?", chargeID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (d *Database) GetCreatorEntries(creatorID string) ([]Entry, error) {
	var entries []Entry
	if err := d.db.Where("creator_id = ?", creatorID).
		Order("created_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// SumAvailable returns the sum of net amounts over READY, unclaimed entries
// for a creator. This is the local fallback balance; the provider-reported
// balance is authoritative when reachable.
func (d *Database) SumAvailable(creatorID string) (decimal.Decimal, error) {
	return d.sumNet(creatorID, PayoutStatusReady)
}

// SumHeld returns the sum of net amounts still inside the holding period.
func (d *Database) SumHeld(creatorID string) (decimal.Decimal, error) {
	return d.sumNet(creatorID, PayoutStatusHeld)
}

func (d *Database) sumNet(creatorID, payoutStatus string) (decimal.Decimal, error) {
	var entries []Entry
	if err := d.db.Where(
		"creator_id = ? AND payout_status = ? AND payout_request_id IS NULL AND status = ?",
		creatorID, payoutStatus, StatusSucceeded,
	).Find(&entries).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.CreatorNetAmount)
	}
	return total, nil
}

// ReleaseDueEntries flips HELD entries whose release date has passed to
// READY in a single conditional update. Running it twice is a no-op the
// second time: the WHERE clause no longer matches.
func (d *Database) ReleaseDueEntries(now time.Time) (int64, error) {
	result := d.db.Model(&Entry{}).
		Where("payout_status = ? AND status = ? AND payout_release_date <= ?",
			PayoutStatusHeld, StatusSucceeded, now).
		Updates(map[string]interface{}{
			"payout_status": PayoutStatusReady,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

// ResetFailedEntry moves a FAILED entry back to READY for retry. This is the
// single permitted backwards edge and it is status-guarded: resetting an
// entry in any other state reports no rows affected.
func (d *Database) ResetFailedEntry(entryID string) (int64, error) {
	result := d.db.Model(&Entry{}).
		Where("entry_id = ? AND payout_status = ?", entryID, PayoutStatusFailed).
		Updates(map[string]interface{}{
			"payout_status":     PayoutStatusReady,
			"payout_request_id": nil,
			"failure_reason":    "",
			"updated_at":        time.Now(),
		})
	return result.RowsAffected, result.Error
}

// OverrideReleaseDate rewrites an entry's payout release date. Admin only;
// the new date applies only while the entry is still HELD.
func (d *Database) OverrideReleaseDate(entryID string, releaseDate time.Time) (int64, error) {
	result := d.db.Model(&Entry{}).
		Where("entry_id = ? AND payout_status = ?", entryID, PayoutStatusHeld).
		Updates(map[string]interface{}{
			"payout_release_date": releaseDate,
			"updated_at":          time.Now(),
		})
	return result.RowsAffected, result.Error
}

// PullUnclaimedEntry removes an unclaimed HELD or READY entry from the
// creator's balance after its charge was refunded before payout.
func (d *Database) PullUnclaimedEntry(entryID, reason string) (int64, error) {
	result := d.db.Model(&Entry{}).
		Where("entry_id = ? AND payout_status IN ? AND payout_request_id IS NULL",
			entryID, []string{PayoutStatusHeld, PayoutStatusReady}).
		Updates(map[string]interface{}{
			"payout_status":  PayoutStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	return result.RowsAffected, result.Error
}

// IsNotFound reports whether err is the backing store's missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
