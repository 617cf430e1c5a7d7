package payout

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payout statuses. PENDING_APPROVAL -> PROCESSING -> PAID | FAILED, with the
// side branch PENDING_APPROVAL -> REJECTED | CANCELED. Once a payout leaves
// PENDING_APPROVAL only status, transfer id and completion fields change.
const (
	StatusPendingApproval = "PENDING_APPROVAL"
	StatusProcessing      = "PROCESSING"
	StatusPaid            = "PAID"
	StatusFailed          = "FAILED"
	StatusRejected        = "REJECTED"
	StatusCanceled        = "CANCELED"
)

// Who initiated a payout.
const (
	RequestedByCreator   = "CREATOR"
	RequestedByScheduler = "SCHEDULER"
)

// Payout is a batch of claimed ledger entries awaiting admin approval and
// settlement. TotalAmount is the sum of the claimed entries' net amounts
// minus any debt offset applied at creation.
type Payout struct {
	gorm.Model         `json:"-"`
	PayoutID           string          `gorm:"uniqueIndex" json:"payout_id"`
	CreatorID          string          `gorm:"index" json:"creator_id"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(12,2)" json:"total_amount"`
	Currency           string          `json:"currency"`
	Status             string          `gorm:"index" json:"status"`
	ExternalTransferID string          `gorm:"index" json:"external_transfer_id,omitempty"`
	DebtOffsetAmount   decimal.Decimal `gorm:"type:decimal(12,2)" json:"debt_offset_amount"`

	// Conversion fields, populated only when the creator's payout currency
	// differs from the ledger currency. The rate and timestamp make past
	// payouts auditable after rates move.
	PayoutCurrency            string           `json:"payout_currency,omitempty"`
	AmountInProcessorCurrency *decimal.Decimal `gorm:"type:decimal(12,2)" json:"amount_in_processor_currency,omitempty"`
	ConversionRate            *decimal.Decimal `gorm:"type:decimal(16,8)" json:"conversion_rate,omitempty"`
	ConvertedAt               *time.Time       `json:"converted_at,omitempty"`

	RequestedBy   string     `json:"requested_by"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// ProcessedEvent dedupes webhook deliveries by external event id. A second
// delivery of the same event inserts nothing and applies nothing.
type ProcessedEvent struct {
	gorm.Model
	EventID     string    `gorm:"uniqueIndex" json:"event_id"`
	EventType   string    `json:"event_type"`
	PayoutID    string    `json:"payout_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

// CreateRequest is the creator-facing payout request payload. A nil Amount
// withdraws everything available.
type CreateRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}
