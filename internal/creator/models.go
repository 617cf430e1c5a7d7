package creator

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payout schedules. DAILY and WEEKLY are picked up by the automatic
// scheduler; MANUAL creators only get payouts they request themselves.
const (
	ScheduleDaily  = "DAILY"
	ScheduleWeekly = "WEEKLY"
	ScheduleManual = "MANUAL"
)

// Eligibility issue codes. The checker returns every failing condition, not
// just the first.
const (
	IssueNoAccount            = "NO_PROCESSOR_ACCOUNT"
	IssueOnboardingIncomplete = "ONBOARDING_INCOMPLETE"
	IssueTransfersDisabled    = "TRANSFERS_DISABLED"
	IssueBlocked              = "PAYOUTS_BLOCKED"
	IssueBelowMinimum         = "BELOW_MINIMUM"
)

// Profile is the payout-relevant subset of a creator. The main platform
// owns the rest of the creator entity.
type Profile struct {
	gorm.Model          `json:"-"`
	CreatorID           string          `gorm:"uniqueIndex" json:"creator_id"`
	ExternalAccountID   string          `json:"external_account_id"`
	OnboardingComplete  bool            `json:"onboarding_complete"`
	PayoutBlocked       bool            `json:"payout_blocked"`
	BlockReason         string          `json:"block_reason,omitempty"`
	PayoutSchedule      string          `json:"payout_schedule"` // DAILY, WEEKLY, MANUAL
	PayoutMinimumAmount decimal.Decimal `gorm:"type:decimal(10,2)" json:"payout_minimum_amount"` // 0 = platform minimum
	Currency            string          `json:"currency"` // empty = platform currency
	LastAutoPayoutAt    *time.Time      `json:"last_auto_payout_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Issue is one failed eligibility condition.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Eligibility is the structured result of an eligibility check. Available is
// the balance the check was made against; BalanceSource records whether it
// came from the provider or the local ledger.
type Eligibility struct {
	Eligible      bool            `json:"eligible"`
	Issues        []Issue         `json:"issues"`
	Available     decimal.Decimal `json:"available"`
	Currency      string          `json:"currency"`
	BalanceSource string          `json:"balance_source"` // "provider" or "local"
}

// UpsertRequest registers or updates a creator's payout profile via the
// internal ingest surface.
type UpsertRequest struct {
	CreatorID           string          `json:"creator_id" binding:"required"`
	ExternalAccountID   string          `json:"external_account_id"`
	OnboardingComplete  bool            `json:"onboarding_complete"`
	PayoutSchedule      string          `json:"payout_schedule"`
	PayoutMinimumAmount decimal.Decimal `json:"payout_minimum_amount"`
	Currency            string          `json:"currency"`
}
