package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Fake is an in-memory processor used in tests and when no API key is
// configured. Accounts and balances are programmable, and transfers can be
// forced to fail to exercise the failure paths.
type Fake struct {
	mu        sync.Mutex
	accounts  map[string]*Account
	balances  map[string]*Balance
	transfers []TransferRequest
	nextID    int

	// TransferErr, when set, is returned by every CreateTransfer call.
	TransferErr error
	// AccountErr, when set, is returned by RetrieveAccount and
	// RetrieveBalance, simulating a provider outage.
	AccountErr error
}

func NewFake() *Fake {
	return &Fake{
		accounts: make(map[string]*Account),
		balances: make(map[string]*Balance),
	}
}

// AddAccount registers a connected account with the given capabilities.
func (f *Fake) AddAccount(acct Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := acct
	f.accounts[acct.ID] = &copied
}

// SetBalance sets the provider-reported available balance for an account.
func (f *Fake) SetBalance(accountID, currency string, available decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.balances[accountID]
	if !ok {
		bal = &Balance{
			Available: make(map[string]decimal.Decimal),
			Pending:   make(map[string]decimal.Decimal),
		}
		f.balances[accountID] = bal
	}
	bal.Available[currency] = available
}

// Transfers returns all transfer requests accepted so far.
func (f *Fake) Transfers() []TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TransferRequest, len(f.transfers))
	copy(out, f.transfers)
	return out
}

func (f *Fake) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.TransferErr != nil {
		return "", f.TransferErr
	}
	if _, ok := f.accounts[req.DestinationAccountID]; !ok {
		return "", &TransferError{Code: "account_invalid", Permanent: true,
			Err: fmt.Errorf("no such account %s", req.DestinationAccountID)}
	}

	f.nextID++
	id := fmt.Sprintf("tr_fake_%06d", f.nextID)
	f.transfers = append(f.transfers, req)
	return id, nil
}

func (f *Fake) RetrieveAccount(ctx context.Context, accountID string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	acct, ok := f.accounts[accountID]
	if !ok {
		return nil, &TransferError{Code: "account_invalid", Permanent: true,
			Err: fmt.Errorf("no such account %s", accountID)}
	}
	copied := *acct
	return &copied, nil
}

func (f *Fake) RetrieveBalance(ctx context.Context, accountID string) (*Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AccountErr != nil {
		return nil, f.AccountErr
	}
	bal, ok := f.balances[accountID]
	if !ok {
		return nil, &TransferError{Code: "account_invalid", Permanent: false,
			Err: fmt.Errorf("no balance for account %s", accountID)}
	}
	out := &Balance{
		Available: make(map[string]decimal.Decimal, len(bal.Available)),
		Pending:   make(map[string]decimal.Decimal, len(bal.Pending)),
	}
	for k, v := range bal.Available {
		out.Available[k] = v
	}
	for k, v := range bal.Pending {
		out.Pending[k] = v
	}
	return out, nil
}
