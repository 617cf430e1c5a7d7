package settings

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payout modes. AUTOMATIC lets the scheduler create payout requests on each
// creator's cadence; MANUAL means only creator-initiated requests.
const (
	PayoutModeAutomatic = "AUTOMATIC"
	PayoutModeManual    = "MANUAL"
)

// PlatformSettings is the single admin-editable row parameterizing the
// payout core. Exactly one row exists; it is read on every operation through
// the service's cache.
type PlatformSettings struct {
	gorm.Model            `json:"-"`
	PlatformFeePercentage decimal.Decimal `gorm:"type:decimal(5,2)" json:"platform_fee_percentage"`
	PlatformFeeFixed      decimal.Decimal `gorm:"type:decimal(10,2)" json:"platform_fee_fixed"`
	MinimumPayoutAmount   decimal.Decimal `gorm:"type:decimal(10,2)" json:"minimum_payout_amount"`
	HoldingPeriodDays     int             `json:"holding_period_days"`
	PayoutMode            string          `json:"payout_mode"` // AUTOMATIC or MANUAL
	Currency              string          `json:"currency"`
	// Creators whose unreconciled debt reaches this amount are blocked
	// automatically.
	DebtBlockThreshold decimal.Decimal `gorm:"type:decimal(10,2)" json:"debt_block_threshold"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// UpdateRequest is the admin settings write payload.
type UpdateRequest struct {
	PlatformFeePercentage decimal.Decimal `json:"platform_fee_percentage"`
	PlatformFeeFixed      decimal.Decimal `json:"platform_fee_fixed"`
	MinimumPayoutAmount   decimal.Decimal `json:"minimum_payout_amount"`
	HoldingPeriodDays     int             `json:"holding_period_days"`
	PayoutMode            string          `json:"payout_mode" binding:"required"`
	Currency              string          `json:"currency" binding:"required"`
	DebtBlockThreshold    decimal.Decimal `json:"debt_block_threshold"`
}
