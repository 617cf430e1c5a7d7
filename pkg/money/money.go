// Package money holds the fee arithmetic shared by the ledger and payout
// services. All amounts are shopspring decimals; binary floats never touch
// monetary values.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount   = errors.New("amount must not be negative")
	ErrFeeOutOfRange    = errors.New("fee percentage must be between 0 and 100")
	ErrNegativeFixedFee = errors.New("fixed fee must not be negative")
)

var (
	hundred = decimal.NewFromInt(100)
	oneCent = decimal.New(1, -2)
)

// Breakdown is the result of splitting a gross charge amount between the
// platform and the creator.
type Breakdown struct {
	PlatformFee decimal.Decimal `json:"platform_fee"`
	CreatorNet  decimal.Decimal `json:"creator_net"`
}

// ComputeFees splits grossAmount into the platform fee and the creator's net
// share.
//
//	platformFee = round2(grossAmount * feePercentage/100 + fixedFee)
//	creatorNet  = grossAmount - platformFee
//
// Rounding is half-up to two decimal places so repeated charges never
// accumulate sub-cent drift. The fee percentage domain is validated again
// here even though the settings write path already rejects out-of-range
// values.
func ComputeFees(grossAmount, feePercentage, fixedFee decimal.Decimal) (Breakdown, error) {
	if grossAmount.IsNegative() {
		return Breakdown{}, ErrNegativeAmount
	}
	if feePercentage.IsNegative() || feePercentage.GreaterThan(hundred) {
		return Breakdown{}, ErrFeeOutOfRange
	}
	if fixedFee.IsNegative() {
		return Breakdown{}, ErrNegativeFixedFee
	}

	fee := Round2(grossAmount.Mul(feePercentage).Div(hundred).Add(fixedFee))

	// A fixed fee can push the computed fee past the gross amount on very
	// small charges; the creator's net share never goes below zero.
	if fee.GreaterThan(grossAmount) {
		fee = grossAmount
	}

	return Breakdown{
		PlatformFee: fee,
		CreatorNet:  grossAmount.Sub(fee),
	}, nil
}

// NetShare computes the creator's share of a partial refund or dispute
// against a charge: refundAmount scaled by the charge's net/gross ratio,
// rounded to the cent. A full refund of the gross amount yields exactly the
// original creator net.
func NetShare(refundAmount, grossAmount, creatorNet decimal.Decimal) decimal.Decimal {
	if grossAmount.IsZero() {
		return decimal.Zero
	}
	if refundAmount.GreaterThanOrEqual(grossAmount) {
		return creatorNet
	}
	return Round2(refundAmount.Mul(creatorNet).Div(grossAmount))
}

// Round2 rounds half-up to two decimal places.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IsPayable reports whether an amount is at least one cent.
func IsPayable(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(oneCent)
}
