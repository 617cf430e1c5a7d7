package processor

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	"github.com/stripe/stripe-go/v82/balance"
	"github.com/stripe/stripe-go/v82/transfer"
)

// StripeClient implements Client over Stripe Connect transfers.
type StripeClient struct{}

// NewStripeClient sets the package-level API key and returns a client.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// CreateTransfer moves funds from the platform balance to the creator's
// connected account. Stripe settles asynchronously; the returned transfer id
// is only confirmation that the transfer was accepted.
func (s *StripeClient) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(toCents(req.Amount)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.DestinationAccountID),
		Metadata:    req.Metadata,
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	t, err := transfer.New(params)
	if err != nil {
		return "", classifyStripeError(err)
	}

	log.Info().
		Str("transfer_id", t.ID).
		Str("destination", req.DestinationAccountID).
		Str("amount", req.Amount.String()).
		Msg("stripe transfer created")

	return t.ID, nil
}

// RetrieveAccount fetches the connected account's capability flags.
func (s *StripeClient) RetrieveAccount(ctx context.Context, accountID string) (*Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := account.GetByID(accountID, params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	return &Account{
		ID:              acct.ID,
		ChargesEnabled:  acct.ChargesEnabled,
		PayoutsEnabled:  acct.PayoutsEnabled,
		DefaultCurrency: strings.ToUpper(string(acct.DefaultCurrency)),
	}, nil
}

// RetrieveBalance fetches the connected account's balance.
func (s *StripeClient) RetrieveBalance(ctx context.Context, accountID string) (*Balance, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountID)

	bal, err := balance.Get(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}

	result := &Balance{
		Available: make(map[string]decimal.Decimal),
		Pending:   make(map[string]decimal.Decimal),
	}
	for _, amt := range bal.Available {
		cur := strings.ToUpper(string(amt.Currency))
		result.Available[cur] = result.Available[cur].Add(fromCents(amt.Amount))
	}
	for _, amt := range bal.Pending {
		cur := strings.ToUpper(string(amt.Currency))
		result.Pending[cur] = result.Pending[cur].Add(fromCents(amt.Amount))
	}
	return result, nil
}

// classifyStripeError maps a stripe error to a TransferError. Rate limits
// and connectivity problems are retryable; account and balance problems are
// not.
func classifyStripeError(err error) error {
	stripeErr, ok := err.(*stripe.Error)
	if !ok {
		// Network-level failure or context cancellation: retryable.
		return &TransferError{Code: "connection_error", Permanent: false, Err: err}
	}

	switch stripeErr.Type {
	case stripe.ErrorTypeAPI:
		return &TransferError{Code: string(stripeErr.Code), Permanent: false, Err: err}
	default:
	}

	switch stripeErr.Code {
	case stripe.ErrorCodeRateLimit, stripe.ErrorCodeLockTimeout:
		return &TransferError{Code: string(stripeErr.Code), Permanent: false, Err: err}
	default:
		// invalid account, balance_insufficient, disabled capabilities
		return &TransferError{Code: string(stripeErr.Code), Permanent: true, Err: err}
	}
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
