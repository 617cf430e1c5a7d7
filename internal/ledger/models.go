package ledger

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Charge status of an entry.
const (
	StatusPending   = "PENDING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// Payout status of an entry. Advances monotonically HELD -> READY ->
// PROCESSING -> PAID; FAILED is reachable from any state on an irrecoverable
// processor error and can be reset to READY by an admin.
const (
	PayoutStatusHeld       = "HELD"
	PayoutStatusReady      = "READY"
	PayoutStatusProcessing = "PROCESSING"
	PayoutStatusPaid       = "PAID"
	PayoutStatusFailed     = "FAILED"
)

// Entry is one ledger row per successful booking charge. The fee breakdown
// is computed once at charge time and never mutated; the payout release date
// is set at creation and only changes via admin override.
type Entry struct {
	gorm.Model        `json:"-"`
	EntryID           string          `gorm:"uniqueIndex" json:"entry_id"`
	BookingID         string          `json:"booking_id"`
	CreatorID         string          `gorm:"index" json:"creator_id"`
	GrossAmount       decimal.Decimal `gorm:"type:decimal(12,2)" json:"gross_amount"`
	Currency          string          `json:"currency"`
	PlatformFee       decimal.Decimal `gorm:"type:decimal(12,2)" json:"platform_fee"`
	CreatorNetAmount  decimal.Decimal `gorm:"type:decimal(12,2)" json:"creator_net_amount"`
	ExternalChargeID  string          `gorm:"uniqueIndex" json:"external_charge_id"`
	Status            string          `json:"status"`
	PayoutStatus      string          `gorm:"index" json:"payout_status"`
	PayoutReleaseDate time.Time       `json:"payout_release_date"`
	PayoutRequestID   *string         `gorm:"index" json:"payout_request_id,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ChargeRequest is the internal ingest payload for a successful booking
// charge.
type ChargeRequest struct {
	BookingID        string          `json:"booking_id" binding:"required"`
	CreatorID        string          `json:"creator_id" binding:"required"`
	GrossAmount      decimal.Decimal `json:"gross_amount" binding:"required"`
	Currency         string          `json:"currency"`
	ExternalChargeID string          `json:"external_charge_id" binding:"required"`
}

// BalanceResponse is a creator's locally computed available balance: the sum
// of READY, unclaimed entry net amounts.
type BalanceResponse struct {
	CreatorID string          `json:"creator_id"`
	Available decimal.Decimal `json:"available"`
	Held      decimal.Decimal `json:"held"`
	Currency  string          `json:"currency"`
}
