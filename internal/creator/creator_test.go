package creator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/ledger"
	"github.com/fanbridge/payout-api/internal/notify"
	"github.com/fanbridge/payout-api/internal/processor"
	"github.com/fanbridge/payout-api/internal/settings"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubDebts satisfies DebtChecker with a fixed outstanding amount.
type stubDebts struct {
	outstanding decimal.Decimal
}

func (s stubDebts) OutstandingDebt(creatorID string) (decimal.Decimal, error) {
	return s.outstanding, nil
}

type testEnv struct {
	svc  *Service
	db   *gorm.DB
	fake *processor.Fake
}

func newTestEnv(t *testing.T, debts DebtChecker) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&settings.PlatformSettings{}, &audit.Record{},
		&ledger.Entry{}, &Profile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	auditService := audit.NewService(db)
	settingsService := settings.NewService(db, auditService)
	if err := settingsService.Seed(); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	fake := processor.NewFake()
	svc := NewService(db, settingsService, fake, debts, auditService,
		notify.NewLogDispatcher(), time.Second)
	return &testEnv{svc: svc, db: db, fake: fake}
}

func (e *testEnv) seedProfile(t *testing.T, p Profile) {
	t.Helper()
	if p.PayoutSchedule == "" {
		p.PayoutSchedule = ScheduleManual
	}
	if err := e.db.Create(&p).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}

func (e *testEnv) seedReadyEntry(t *testing.T, creatorID string, net decimal.Decimal) {
	t.Helper()
	entry := ledger.Entry{
		EntryID:           "LED_" + uuid.NewString(),
		CreatorID:         creatorID,
		GrossAmount:       net,
		Currency:          "USD",
		CreatorNetAmount:  net,
		ExternalChargeID:  "ch_" + uuid.NewString(),
		Status:            ledger.StatusSucceeded,
		PayoutStatus:      ledger.PayoutStatusReady,
		PayoutReleaseDate: time.Now().Add(-time.Hour),
	}
	if err := e.db.Create(&entry).Error; err != nil {
		t.Fatalf("seed entry: %v", err)
	}
}

func hasIssue(issues []Issue, code string) bool {
	for _, issue := range issues {
		if issue.Code == code {
			return true
		}
	}
	return false
}

func TestCheckEligibilityReportsAllIssues(t *testing.T) {
	env := newTestEnv(t, stubDebts{})
	env.seedProfile(t, Profile{
		CreatorID:     "CRE_1",
		PayoutBlocked: true,
		BlockReason:   "manual review",
	})

	result, err := env.svc.CheckEligibility(context.Background(), "CRE_1")
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if result.Eligible {
		t.Fatal("creator with no account, incomplete onboarding, block and zero balance reported eligible")
	}

	for _, code := range []string{IssueNoAccount, IssueOnboardingIncomplete, IssueBlocked, IssueBelowMinimum} {
		if !hasIssue(result.Issues, code) {
			t.Errorf("missing issue %s in %v", code, result.Issues)
		}
	}
	if len(result.Issues) != 4 {
		t.Errorf("issue count: got %d, want 4", len(result.Issues))
	}
}

func TestCheckEligibilityHealthyCreator(t *testing.T) {
	env := newTestEnv(t, stubDebts{})
	env.fake.AddAccount(processor.Account{ID: "acct_1", PayoutsEnabled: true})
	env.fake.SetBalance("acct_1", "USD", decimal.NewFromInt(80))
	env.seedProfile(t, Profile{
		CreatorID:          "CRE_1",
		ExternalAccountID:  "acct_1",
		OnboardingComplete: true,
	})
	env.seedReadyEntry(t, "CRE_1", decimal.NewFromInt(80))

	result, err := env.svc.CheckEligibility(context.Background(), "CRE_1")
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if !result.Eligible {
		t.Fatalf("healthy creator not eligible: %v", result.Issues)
	}
	if result.BalanceSource != "provider" {
		t.Errorf("balance source: got %s, want provider", result.BalanceSource)
	}
	if !result.Available.Equal(decimal.NewFromInt(80)) {
		t.Errorf("available: got %s, want 80", result.Available)
	}
}

func TestCheckEligibilityProviderBalanceIsAuthoritative(t *testing.T) {
	env := newTestEnv(t, stubDebts{})
	env.fake.AddAccount(processor.Account{ID: "acct_1", PayoutsEnabled: true})
	env.fake.SetBalance("acct_1", "USD", decimal.NewFromInt(200))
	env.seedProfile(t, Profile{
		CreatorID:          "CRE_1",
		ExternalAccountID:  "acct_1",
		OnboardingComplete: true,
	})
	env.seedReadyEntry(t, "CRE_1", decimal.NewFromInt(80))

	result, err := env.svc.CheckEligibility(context.Background(), "CRE_1")
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if result.BalanceSource != "provider" {
		t.Errorf("balance source: got %s, want provider", result.BalanceSource)
	}
	if !result.Available.Equal(decimal.NewFromInt(200)) {
		t.Errorf("available: got %s, want the provider-reported 200", result.Available)
	}
}

func TestCheckEligibilityFallsBackToLocalOnProviderOutage(t *testing.T) {
	env := newTestEnv(t, stubDebts{})
	env.fake.AddAccount(processor.Account{ID: "acct_1", PayoutsEnabled: true})
	env.fake.AccountErr = errors.New("provider unavailable")
	env.seedProfile(t, Profile{
		CreatorID:          "CRE_1",
		ExternalAccountID:  "acct_1",
		OnboardingComplete: true,
	})
	env.seedReadyEntry(t, "CRE_1", decimal.NewFromInt(80))

	result, err := env.svc.CheckEligibility(context.Background(), "CRE_1")
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if result.BalanceSource != "local" {
		t.Errorf("balance source: got %s, want local fallback", result.BalanceSource)
	}
	if !result.Available.Equal(decimal.NewFromInt(80)) {
		t.Errorf("available: got %s, want the local 80", result.Available)
	}
	if !result.Eligible {
		t.Errorf("provider outage should not make the creator ineligible: %v", result.Issues)
	}
}

func TestCheckEligibilityTransfersDisabled(t *testing.T) {
	env := newTestEnv(t, stubDebts{})
	env.fake.AddAccount(processor.Account{ID: "acct_1", PayoutsEnabled: false})
	env.fake.SetBalance("acct_1", "USD", decimal.NewFromInt(80))
	env.seedProfile(t, Profile{
		CreatorID:          "CRE_1",
		ExternalAccountID:  "acct_1",
		OnboardingComplete: true,
	})

	result, err := env.svc.CheckEligibility(context.Background(), "CRE_1")
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	if result.Eligible {
		t.Fatal("creator with disabled transfers reported eligible")
	}
	if !hasIssue(result.Issues, IssueTransfersDisabled) {
		t.Errorf("missing %s in %v", IssueTransfersDisabled, result.Issues)
	}
}

func TestPerCreatorMinimumOverridesPlatform(t *testing.T) {
	env := newTestEnv(t, stubDebts{})
	env.fake.AddAccount(processor.Account{ID: "acct_1", PayoutsEnabled: true})
	env.fake.SetBalance("acct_1", "USD", decimal.NewFromInt(80))
	env.seedProfile(t, Profile{
		CreatorID:           "CRE_1",
		ExternalAccountID:   "acct_1",
		OnboardingComplete:  true,
		PayoutMinimumAmount: decimal.NewFromInt(100),
	})

	result, err := env.svc.CheckEligibility(context.Background(), "CRE_1")
	if err != nil {
		t.Fatalf("CheckEligibility: %v", err)
	}
	// 80 clears the platform minimum of 50 but not the creator's own 100.
	if result.Eligible {
		t.Fatal("balance below per-creator minimum reported eligible")
	}
	if !hasIssue(result.Issues, IssueBelowMinimum) {
		t.Errorf("missing %s in %v", IssueBelowMinimum, result.Issues)
	}
}

func TestUnblockRefusedWhileDebtOutstanding(t *testing.T) {
	env := newTestEnv(t, stubDebts{outstanding: decimal.NewFromInt(30)})
	env.seedProfile(t, Profile{
		CreatorID:     "CRE_1",
		PayoutBlocked: true,
		BlockReason:   "debt threshold",
	})

	if err := env.svc.Unblock("ADM_1", "CRE_1"); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("unblock with outstanding debt: got %v, want conflict", err)
	}
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	env := newTestEnv(t, stubDebts{})
	env.seedProfile(t, Profile{CreatorID: "CRE_1"})

	if err := env.svc.Block("ADM_1", "CRE_1", "manual review"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	profile, err := env.svc.GetProfile("CRE_1")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !profile.PayoutBlocked || profile.BlockReason != "manual review" {
		t.Errorf("after block: blocked=%v reason=%q", profile.PayoutBlocked, profile.BlockReason)
	}

	// Blocking twice is a conflict.
	if err := env.svc.Block("ADM_1", "CRE_1", "again"); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("double block: got %v, want conflict", err)
	}

	if err := env.svc.Unblock("ADM_1", "CRE_1"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	profile, _ = env.svc.GetProfile("CRE_1")
	if profile.PayoutBlocked {
		t.Error("profile still blocked after unblock")
	}
}

func TestUpsertProfileValidatesSchedule(t *testing.T) {
	env := newTestEnv(t, stubDebts{})

	if _, err := env.svc.UpsertProfile(UpsertRequest{
		CreatorID:      "CRE_1",
		PayoutSchedule: "FORTNIGHTLY",
	}); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("bad schedule: got %v, want validation error", err)
	}

	profile, err := env.svc.UpsertProfile(UpsertRequest{CreatorID: "CRE_1"})
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if profile.PayoutSchedule != ScheduleManual {
		t.Errorf("default schedule: got %s, want MANUAL", profile.PayoutSchedule)
	}

	// Upsert is a sync from the platform: a second call updates in place.
	updated, err := env.svc.UpsertProfile(UpsertRequest{
		CreatorID:          "CRE_1",
		ExternalAccountID:  "acct_1",
		OnboardingComplete: true,
		PayoutSchedule:     ScheduleWeekly,
	})
	if err != nil {
		t.Fatalf("second UpsertProfile: %v", err)
	}
	if updated.ExternalAccountID != "acct_1" || updated.PayoutSchedule != ScheduleWeekly {
		t.Errorf("upsert did not update: %+v", updated)
	}

	var count int64
	env.db.Model(&Profile{}).Count(&count)
	if count != 1 {
		t.Errorf("profiles after upsert: got %d, want 1", count)
	}
}

func TestUpdateScheduleNormalizes(t *testing.T) {
	env := newTestEnv(t, stubDebts{})
	env.seedProfile(t, Profile{CreatorID: "CRE_1"})

	profile, err := env.svc.UpdateSchedule("CRE_1", "daily")
	if err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	if profile.PayoutSchedule != ScheduleDaily {
		t.Errorf("schedule: got %s, want DAILY", profile.PayoutSchedule)
	}
}
