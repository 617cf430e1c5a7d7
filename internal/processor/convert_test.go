package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestConvertSameCurrency(t *testing.T) {
	c := NewRateTableConverter("USD", nil)

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(90), "USD", "usd")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !conv.Amount.Equal(decimal.NewFromInt(90)) || !conv.Rate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("same-currency conversion: got %s at %s", conv.Amount, conv.Rate)
	}
}

func TestConvertThroughBase(t *testing.T) {
	// 1 EUR = 2 USD, 1 GBP = 4 USD.
	c := NewRateTableConverter("USD", map[string]decimal.Decimal{
		"EUR": decimal.NewFromInt(2),
		"GBP": decimal.NewFromInt(4),
	})

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(90), "USD", "EUR")
	if err != nil {
		t.Fatalf("USD to EUR: %v", err)
	}
	if !conv.Amount.Equal(decimal.NewFromInt(45)) {
		t.Errorf("90 USD in EUR: got %s, want 45", conv.Amount)
	}

	conv, err = c.Convert(context.Background(), decimal.NewFromInt(10), "GBP", "EUR")
	if err != nil {
		t.Fatalf("GBP to EUR: %v", err)
	}
	if !conv.Amount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("10 GBP in EUR: got %s, want 20", conv.Amount)
	}
}

func TestConvertUnknownCurrency(t *testing.T) {
	c := NewRateTableConverter("USD", nil)

	if _, err := c.Convert(context.Background(), decimal.NewFromInt(90), "USD", "JPY"); err == nil {
		t.Error("conversion without a rate succeeded")
	}
}

func TestConvertRoundsToCents(t *testing.T) {
	// 1 EUR = 1.1 USD.
	c := NewRateTableConverter("USD", map[string]decimal.Decimal{
		"EUR": decimal.NewFromFloat(1.1),
	})

	conv, err := c.Convert(context.Background(), decimal.NewFromInt(100), "USD", "EUR")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !conv.Amount.Equal(decimal.NewFromFloat(90.91)) {
		t.Errorf("100 USD in EUR: got %s, want 90.91", conv.Amount)
	}
}

func TestIsPermanent(t *testing.T) {
	permanent := &TransferError{Code: "account_closed", Permanent: true, Err: errors.New("closed")}
	transient := &TransferError{Code: "rate_limit", Permanent: false, Err: errors.New("slow down")}

	if !IsPermanent(permanent) {
		t.Error("permanent error not classified permanent")
	}
	if IsPermanent(transient) {
		t.Error("transient error classified permanent")
	}
	if IsPermanent(errors.New("plain error")) {
		t.Error("unclassified error treated as permanent")
	}

	// Classification survives wrapping.
	wrapped := errors.Join(errors.New("context"), permanent)
	if !IsPermanent(wrapped) {
		t.Error("wrapped permanent error not recognized")
	}
}

func TestFakeTransferRequiresAccount(t *testing.T) {
	f := NewFake()

	_, err := f.CreateTransfer(context.Background(), TransferRequest{
		Amount:               decimal.NewFromInt(10),
		Currency:             "USD",
		DestinationAccountID: "acct_missing",
	})
	if !IsPermanent(err) {
		t.Errorf("transfer to unknown account: got %v, want permanent error", err)
	}

	f.AddAccount(Account{ID: "acct_1", PayoutsEnabled: true})
	id, err := f.CreateTransfer(context.Background(), TransferRequest{
		Amount:               decimal.NewFromInt(10),
		Currency:             "USD",
		DestinationAccountID: "acct_1",
	})
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if id == "" {
		t.Error("empty transfer id")
	}
	if got := len(f.Transfers()); got != 1 {
		t.Errorf("recorded transfers: got %d, want 1", got)
	}
}

func TestCentsConversion(t *testing.T) {
	if got := toCents(decimal.RequireFromString("12.345")); got != 1235 {
		t.Errorf("toCents(12.345): got %d, want 1235", got)
	}
	if got := fromCents(4550); !got.Equal(decimal.RequireFromString("45.50")) {
		t.Errorf("fromCents(4550): got %s, want 45.50", got)
	}
}
