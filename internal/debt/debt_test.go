package debt

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/creator"
	"github.com/fanbridge/payout-api/internal/ledger"
	"github.com/fanbridge/payout-api/internal/notify"
	"github.com/fanbridge/payout-api/internal/settings"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	svc *Service
	db  *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&settings.PlatformSettings{}, &audit.Record{},
		&ledger.Entry{}, &creator.Profile{}, &Debt{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	auditService := audit.NewService(db)
	settingsService := settings.NewService(db, auditService)
	if err := settingsService.Seed(); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	svc := NewService(db, settingsService, auditService, notify.NewLogDispatcher())
	return &testEnv{svc: svc, db: db}
}

func (e *testEnv) seedProfile(t *testing.T, creatorID string) {
	t.Helper()
	profile := creator.Profile{CreatorID: creatorID, PayoutSchedule: creator.ScheduleManual}
	if err := e.db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func (e *testEnv) seedEntry(t *testing.T, creatorID, chargeID string, gross, net decimal.Decimal, payoutStatus string, claimed bool) *ledger.Entry {
	t.Helper()
	entry := &ledger.Entry{
		EntryID:           "LED_" + uuid.NewString(),
		CreatorID:         creatorID,
		GrossAmount:       gross,
		Currency:          "USD",
		PlatformFee:       gross.Sub(net),
		CreatorNetAmount:  net,
		ExternalChargeID:  chargeID,
		Status:            ledger.StatusSucceeded,
		PayoutStatus:      payoutStatus,
		PayoutReleaseDate: time.Now().Add(-time.Hour),
	}
	if claimed {
		payoutID := "PAY_" + uuid.NewString()
		entry.PayoutRequestID = &payoutID
	}
	if err := e.db.Create(entry).Error; err != nil {
		t.Fatalf("seed entry: %v", err)
	}
	return entry
}

func TestRefundBeforePayoutPullsEntry(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "CRE_1")
	entry := env.seedEntry(t, "CRE_1", "ch_1",
		decimal.NewFromInt(100), decimal.NewFromInt(85), ledger.PayoutStatusHeld, false)

	result, err := env.svc.RecordRefund("system", RefundRequest{
		ExternalChargeID: "ch_1",
		ExternalRefundID: "re_1",
		Amount:           decimal.NewFromInt(100),
		SourceType:       SourceRefund,
	})
	if err != nil {
		t.Fatalf("RecordRefund: %v", err)
	}
	if !result.EntryPulled {
		t.Error("unclaimed entry was not pulled")
	}
	if result.Debt != nil {
		t.Errorf("debt created for unclaimed entry: %+v", result.Debt)
	}

	var got ledger.Entry
	if err := env.db.Where("entry_id = ?", entry.EntryID).First(&got).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	if got.PayoutStatus != ledger.PayoutStatusFailed {
		t.Errorf("pulled entry status: got %s, want FAILED", got.PayoutStatus)
	}
	if got.FailureReason == "" {
		t.Error("pulled entry has no failure reason")
	}
}

func TestRefundAfterPayoutCreatesNetShareDebt(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "CRE_1")
	env.seedEntry(t, "CRE_1", "ch_1",
		decimal.NewFromInt(100), decimal.NewFromInt(85), ledger.PayoutStatusPaid, false)

	// Partial refund: the creator owes their pro-rata net share, not the
	// gross refund.
	result, err := env.svc.RecordRefund("system", RefundRequest{
		ExternalChargeID: "ch_1",
		ExternalRefundID: "re_1",
		Amount:           decimal.NewFromInt(50),
		SourceType:       SourceRefund,
	})
	if err != nil {
		t.Fatalf("RecordRefund: %v", err)
	}
	if result.Debt == nil {
		t.Fatal("no debt recorded for paid-out entry")
	}
	if !result.Debt.Amount.Equal(decimal.NewFromFloat(42.50)) {
		t.Errorf("debt amount: got %s, want 42.50", result.Debt.Amount)
	}
	if result.CreatorBlocked {
		t.Error("creator blocked below the threshold")
	}
}

func TestFullRefundDebtsExactNet(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "CRE_1")
	env.seedEntry(t, "CRE_1", "ch_1",
		decimal.NewFromInt(90), decimal.NewFromFloat(76.50), ledger.PayoutStatusPaid, false)

	result, err := env.svc.RecordRefund("system", RefundRequest{
		ExternalChargeID: "ch_1",
		ExternalRefundID: "re_1",
		Amount:           decimal.NewFromInt(90),
		SourceType:       SourceDispute,
	})
	if err != nil {
		t.Fatalf("RecordRefund: %v", err)
	}
	if !result.Debt.Amount.Equal(decimal.NewFromFloat(76.50)) {
		t.Errorf("full refund debt: got %s, want the exact net 76.50", result.Debt.Amount)
	}
	if result.Debt.SourceType != SourceDispute {
		t.Errorf("source type: got %s, want DISPUTE", result.Debt.SourceType)
	}
}

func TestRefundAgainstClaimedEntryCreatesDebt(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "CRE_1")
	// READY but already claimed by an in-flight payout: the money is
	// leaving, so the refund becomes a debt rather than a pull.
	env.seedEntry(t, "CRE_1", "ch_1",
		decimal.NewFromInt(100), decimal.NewFromInt(85), ledger.PayoutStatusReady, true)

	result, err := env.svc.RecordRefund("system", RefundRequest{
		ExternalChargeID: "ch_1",
		ExternalRefundID: "re_1",
		Amount:           decimal.NewFromInt(100),
		SourceType:       SourceRefund,
	})
	if err != nil {
		t.Fatalf("RecordRefund: %v", err)
	}
	if result.EntryPulled {
		t.Error("claimed entry was pulled")
	}
	if result.Debt == nil || !result.Debt.Amount.Equal(decimal.NewFromInt(85)) {
		t.Errorf("debt: got %+v, want 85", result.Debt)
	}
}

func TestRefundReplayReturnsExistingDebt(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "CRE_1")
	env.seedEntry(t, "CRE_1", "ch_1",
		decimal.NewFromInt(100), decimal.NewFromInt(85), ledger.PayoutStatusPaid, false)

	req := RefundRequest{
		ExternalChargeID: "ch_1",
		ExternalRefundID: "re_replay",
		Amount:           decimal.NewFromInt(100),
		SourceType:       SourceRefund,
	}
	first, err := env.svc.RecordRefund("system", req)
	if err != nil {
		t.Fatalf("first RecordRefund: %v", err)
	}
	second, err := env.svc.RecordRefund("system", req)
	if err != nil {
		t.Fatalf("replayed RecordRefund: %v", err)
	}
	if first.Debt.DebtID != second.Debt.DebtID {
		t.Errorf("replay created a new debt: %s vs %s", first.Debt.DebtID, second.Debt.DebtID)
	}

	var count int64
	env.db.Model(&Debt{}).Count(&count)
	if count != 1 {
		t.Errorf("debts after replay: got %d, want 1", count)
	}
}

func TestRefundExceedingChargeRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "CRE_1")
	env.seedEntry(t, "CRE_1", "ch_1",
		decimal.NewFromInt(100), decimal.NewFromInt(85), ledger.PayoutStatusPaid, false)

	_, err := env.svc.RecordRefund("system", RefundRequest{
		ExternalChargeID: "ch_1",
		ExternalRefundID: "re_1",
		Amount:           decimal.NewFromInt(150),
		SourceType:       SourceRefund,
	})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("oversized refund: got %v, want validation error", err)
	}
}

func TestDebtThresholdAutoBlocks(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "CRE_1")
	// Two paid-out charges; their combined net debt crosses the default
	// threshold of 100.
	env.seedEntry(t, "CRE_1", "ch_1",
		decimal.NewFromInt(100), decimal.NewFromInt(85), ledger.PayoutStatusPaid, false)
	env.seedEntry(t, "CRE_1", "ch_2",
		decimal.NewFromInt(100), decimal.NewFromInt(85), ledger.PayoutStatusPaid, false)

	first, err := env.svc.RecordRefund("system", RefundRequest{
		ExternalChargeID: "ch_1",
		ExternalRefundID: "re_1",
		Amount:           decimal.NewFromInt(100),
		SourceType:       SourceRefund,
	})
	if err != nil {
		t.Fatalf("first RecordRefund: %v", err)
	}
	if first.CreatorBlocked {
		t.Error("blocked at 85, below the 100 threshold")
	}

	second, err := env.svc.RecordRefund("system", RefundRequest{
		ExternalChargeID: "ch_2",
		ExternalRefundID: "re_2",
		Amount:           decimal.NewFromInt(100),
		SourceType:       SourceRefund,
	})
	if err != nil {
		t.Fatalf("second RecordRefund: %v", err)
	}
	if !second.CreatorBlocked {
		t.Error("not blocked at 170, above the 100 threshold")
	}

	var profile creator.Profile
	if err := env.db.Where("creator_id = ?", "CRE_1").First(&profile).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if !profile.PayoutBlocked {
		t.Error("profile not blocked after threshold crossed")
	}
}

func TestReconcileIsGuarded(t *testing.T) {
	env := newTestEnv(t)
	env.seedProfile(t, "CRE_1")
	env.seedEntry(t, "CRE_1", "ch_1",
		decimal.NewFromInt(100), decimal.NewFromInt(85), ledger.PayoutStatusPaid, false)

	result, err := env.svc.RecordRefund("system", RefundRequest{
		ExternalChargeID: "ch_1",
		ExternalRefundID: "re_1",
		Amount:           decimal.NewFromInt(100),
		SourceType:       SourceRefund,
	})
	if err != nil {
		t.Fatalf("RecordRefund: %v", err)
	}
	debtID := result.Debt.DebtID

	if err := env.svc.Reconcile("ADM_1", debtID, "wire-123"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	got, err := env.svc.db.GetDebt(debtID)
	if err != nil {
		t.Fatalf("load debt: %v", err)
	}
	if !got.Reconciled || got.ReconciliationMethod != MethodManual || got.ReversalReferenceID != "wire-123" {
		t.Errorf("after reconcile: %+v", got)
	}

	outstanding, err := env.svc.OutstandingDebt("CRE_1")
	if err != nil {
		t.Fatalf("OutstandingDebt: %v", err)
	}
	if !outstanding.IsZero() {
		t.Errorf("outstanding after reconcile: got %s, want 0", outstanding)
	}

	if err := env.svc.Reconcile("ADM_1", debtID, "wire-456"); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("double reconcile: got %v, want conflict", err)
	}
}
