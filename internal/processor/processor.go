// Package processor wraps the external payment processor behind narrow
// interfaces so the settlement path can be exercised without network access.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Account is the provider's view of a creator's receiving account.
type Account struct {
	ID              string `json:"id"`
	ChargesEnabled  bool   `json:"charges_enabled"`
	PayoutsEnabled  bool   `json:"payouts_enabled"`
	DefaultCurrency string `json:"default_currency"`
}

// Balance is the provider-reported balance for a connected account, keyed by
// uppercase currency code ("USD", "EUR").
type Balance struct {
	Available map[string]decimal.Decimal `json:"available"`
	Pending   map[string]decimal.Decimal `json:"pending"`
}

// TransferRequest describes a single funds transfer to a connected account.
type TransferRequest struct {
	Amount               decimal.Decimal
	Currency             string
	DestinationAccountID string
	IdempotencyKey       string
	Metadata             map[string]string
}

// Conversion is a point-in-time currency conversion result. The rate and
// timestamp are persisted with the payout so it stays auditable after rates
// move.
type Conversion struct {
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	Timestamp time.Time       `json:"timestamp"`
}

// TransferError classifies processor failures. Transient errors leave state
// at last-known-good for a later retry pass; permanent errors fail the
// payout and release its claim.
type TransferError struct {
	Code      string
	Permanent bool
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("processor transfer failed (%s): %v", e.Code, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a processor failure that will not
// succeed on retry.
func IsPermanent(err error) bool {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Permanent
	}
	return false
}

// Client is the payment processor contract consumed by the settlement
// executor and the eligibility checker.
type Client interface {
	CreateTransfer(ctx context.Context, req TransferRequest) (string, error)
	RetrieveAccount(ctx context.Context, accountID string) (*Account, error)
	RetrieveBalance(ctx context.Context, accountID string) (*Balance, error)
}

// Converter converts an amount between currencies at a point-in-time rate.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) (*Conversion, error)
}
