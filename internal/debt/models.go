package debt

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Debt sources.
const (
	SourceRefund  = "REFUND"
	SourceDispute = "DISPUTE"
)

// Reconciliation methods.
const (
	MethodManual       = "MANUAL"
	MethodPayoutOffset = "PAYOUT_OFFSET"
)

// Debt is money owed back by a creator after a refund or dispute landed on
// an already-paid (or claimed) ledger entry. Never deleted; reconciliation
// only flips the flag and records how.
type Debt struct {
	gorm.Model           `json:"-"`
	DebtID               string          `gorm:"uniqueIndex" json:"debt_id"`
	CreatorID            string          `gorm:"index" json:"creator_id"`
	EntryID              string          `json:"entry_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount"`
	Currency             string          `json:"currency"`
	SourceType           string          `json:"source_type"` // REFUND or DISPUTE
	ExternalRefundID     string          `gorm:"uniqueIndex" json:"external_refund_id"`
	Reconciled           bool            `gorm:"index" json:"reconciled"`
	ReconciliationMethod string          `json:"reconciliation_method,omitempty"`
	ReversalReferenceID  string          `json:"reversal_reference_id,omitempty"`
	ReconciledAt         *time.Time      `json:"reconciled_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// RefundRequest is the internal ingest payload for a refund or dispute
// against a charge.
type RefundRequest struct {
	ExternalChargeID string          `json:"external_charge_id" binding:"required"`
	ExternalRefundID string          `json:"external_refund_id" binding:"required"`
	Amount           decimal.Decimal `json:"amount" binding:"required"`
	SourceType       string          `json:"source_type" binding:"required"` // REFUND or DISPUTE
}

// RefundResult reports what the ingest did: either a debt was recorded or an
// unclaimed entry was pulled from the creator's balance.
type RefundResult struct {
	Debt           *Debt  `json:"debt,omitempty"`
	EntryPulled    bool   `json:"entry_pulled"`
	EntryID        string `json:"entry_id"`
	CreatorBlocked bool   `json:"creator_blocked"`
}
