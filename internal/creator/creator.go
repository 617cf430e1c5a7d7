package creator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/ledger"
	"github.com/fanbridge/payout-api/internal/notify"
	"github.com/fanbridge/payout-api/internal/processor"
	"github.com/fanbridge/payout-api/internal/settings"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/fanbridge/payout-api/pkg/middleware"
	"github.com/fanbridge/payout-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DebtChecker reports a creator's outstanding unreconciled debt. Implemented
// by the debt service; injected here to keep the dependency one-way.
type DebtChecker interface {
	OutstandingDebt(creatorID string) (decimal.Decimal, error)
}

// Service manages creator payout profiles and eligibility.
type Service struct {
	db         *Database
	ledgerDB   *ledger.Database
	settings   *settings.Service
	client     processor.Client
	debts      DebtChecker
	audit      *audit.Service
	notifier   notify.Dispatcher
	apiTimeout time.Duration
}

func NewService(
	gormDB *gorm.DB,
	settingsSvc *settings.Service,
	client processor.Client,
	debts DebtChecker,
	auditSvc *audit.Service,
	notifier notify.Dispatcher,
	apiTimeout time.Duration,
) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		ledgerDB:   ledger.NewDatabase(gormDB),
		settings:   settingsSvc,
		client:     client,
		debts:      debts,
		audit:      auditSvc,
		notifier:   notifier,
		apiTimeout: apiTimeout,
	}
}

// GetProfile retrieves a creator's payout profile
func (s *Service) GetProfile(creatorID string) (*Profile, error) {
	return s.db.GetProfile(creatorID)
}

// UpsertProfile registers or refreshes a creator's payout profile from the
// main platform.
func (s *Service) UpsertProfile(req UpsertRequest) (*Profile, error) {
	schedule := strings.ToUpper(req.PayoutSchedule)
	if schedule == "" {
		schedule = ScheduleManual
	}
	if schedule != ScheduleDaily && schedule != ScheduleWeekly && schedule != ScheduleManual {
		return nil, apperrors.Validation("payout schedule must be DAILY, WEEKLY or MANUAL")
	}
	if req.PayoutMinimumAmount.IsNegative() {
		return nil, apperrors.Validation("payout minimum must not be negative")
	}

	now := time.Now()
	profile := &Profile{
		CreatorID:           req.CreatorID,
		ExternalAccountID:   req.ExternalAccountID,
		OnboardingComplete:  req.OnboardingComplete,
		PayoutSchedule:      schedule,
		PayoutMinimumAmount: req.PayoutMinimumAmount,
		Currency:            strings.ToUpper(req.Currency),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.db.UpsertProfile(profile); err != nil {
		return nil, fmt.Errorf("failed to upsert creator profile: %w", err)
	}
	return s.db.GetProfile(req.CreatorID)
}

// UpdateSchedule lets a creator change their own payout cadence.
func (s *Service) UpdateSchedule(creatorID, schedule string) (*Profile, error) {
	normalized := strings.ToUpper(schedule)
	if normalized != ScheduleDaily && normalized != ScheduleWeekly && normalized != ScheduleManual {
		return nil, apperrors.Validation("payout schedule must be DAILY, WEEKLY or MANUAL")
	}

	profile, err := s.db.GetProfile(creatorID)
	if err != nil {
		return nil, err
	}
	profile.PayoutSchedule = normalized
	profile.UpdatedAt = time.Now()
	if err := s.db.UpdateProfile(profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// CheckEligibility evaluates every payout precondition for a creator and
// returns the full list of failing conditions. The provider-reported balance
// is authoritative when the provider responds; the local READY sum is the
// fallback, and a divergence between the two is reported, not swallowed.
func (s *Service) CheckEligibility(ctx context.Context, creatorID string) (*Eligibility, error) {
	logger := log.With().Str("service", "creator").Str("creator_id", creatorID).Logger()

	profile, err := s.db.GetProfile(creatorID)
	if err != nil {
		return nil, err
	}

	cfg, err := s.settings.Get()
	if err != nil {
		return nil, err
	}

	result := &Eligibility{
		Issues:        []Issue{},
		Currency:      cfg.Currency,
		BalanceSource: "local",
	}

	localAvailable, err := s.ledgerDB.SumAvailable(creatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute local balance: %w", err)
	}
	result.Available = localAvailable

	if profile.ExternalAccountID == "" {
		result.Issues = append(result.Issues, Issue{
			Code:    IssueNoAccount,
			Message: "no payment processor account connected",
		})
	} else {
		apiCtx, cancel := context.WithTimeout(ctx, s.apiTimeout)
		defer cancel()

		acct, acctErr := s.client.RetrieveAccount(apiCtx, profile.ExternalAccountID)
		if acctErr != nil {
			// Transient provider failure: fall back to local state for the
			// capability check and keep the locally computed balance.
			logger.Warn().Err(acctErr).Msg("provider account lookup failed, using local state")
		} else if !acct.PayoutsEnabled {
			result.Issues = append(result.Issues, Issue{
				Code:    IssueTransfersDisabled,
				Message: "processor account cannot receive transfers",
			})
		}

		if bal, balErr := s.client.RetrieveBalance(apiCtx, profile.ExternalAccountID); balErr == nil {
			if provided, ok := bal.Available[cfg.Currency]; ok {
				if !provided.Equal(localAvailable) {
					logger.Warn().
						Str("provider_balance", provided.String()).
						Str("local_balance", localAvailable.String()).
						Msg("provider and local balances diverge")
					s.notifier.Notify("admin", notify.TypeBalanceDivergence,
						fmt.Sprintf("balance divergence for creator %s: provider %s, local %s",
							creatorID, provided, localAvailable), "")
				}
				result.Available = provided
				result.BalanceSource = "provider"
			}
		}
	}

	if !profile.OnboardingComplete {
		result.Issues = append(result.Issues, Issue{
			Code:    IssueOnboardingIncomplete,
			Message: "processor onboarding is not complete",
		})
	}
	if profile.PayoutBlocked {
		msg := "payouts are blocked"
		if profile.BlockReason != "" {
			msg = fmt.Sprintf("payouts are blocked: %s", profile.BlockReason)
		}
		result.Issues = append(result.Issues, Issue{Code: IssueBlocked, Message: msg})
	}

	minimum := cfg.MinimumPayoutAmount
	if profile.PayoutMinimumAmount.IsPositive() {
		minimum = profile.PayoutMinimumAmount
	}
	if result.Available.LessThan(minimum) {
		result.Issues = append(result.Issues, Issue{
			Code:    IssueBelowMinimum,
			Message: fmt.Sprintf("available balance %s is below the %s minimum", result.Available, minimum),
		})
	}

	result.Eligible = len(result.Issues) == 0
	return result, nil
}

// MinimumFor returns the effective minimum payout amount for a profile.
func (s *Service) MinimumFor(profile *Profile) (decimal.Decimal, error) {
	cfg, err := s.settings.Get()
	if err != nil {
		return decimal.Zero, err
	}
	if profile.PayoutMinimumAmount.IsPositive() {
		return profile.PayoutMinimumAmount, nil
	}
	return cfg.MinimumPayoutAmount, nil
}

// Block stops all payout creation and advancement for a creator.
func (s *Service) Block(actorID, creatorID, reason string) error {
	profile, err := s.db.GetProfile(creatorID)
	if err != nil {
		return err
	}
	if profile.PayoutBlocked {
		return apperrors.Conflict(fmt.Sprintf("creator %s is already blocked", creatorID))
	}

	if _, err := s.db.SetBlocked(creatorID, true, reason); err != nil {
		return err
	}

	s.audit.Log(actorID, audit.ActionBlockCreator, "creator", creatorID,
		gin.H{"payout_blocked": false},
		gin.H{"payout_blocked": true, "reason": reason}, reason)
	s.notifier.Notify(creatorID, notify.TypePayoutsBlocked,
		"Your payouts have been paused. Contact support for details.", "")
	return nil
}

// Unblock re-enables payouts. Refused while any unreconciled debt remains.
func (s *Service) Unblock(actorID, creatorID string) error {
	profile, err := s.db.GetProfile(creatorID)
	if err != nil {
		return err
	}
	if !profile.PayoutBlocked {
		return apperrors.Conflict(fmt.Sprintf("creator %s is not blocked", creatorID))
	}

	outstanding, err := s.debts.OutstandingDebt(creatorID)
	if err != nil {
		return fmt.Errorf("failed to check outstanding debt: %w", err)
	}
	if outstanding.IsPositive() {
		return apperrors.Conflict(fmt.Sprintf(
			"creator %s has %s in unreconciled debt, reconcile before unblocking", creatorID, outstanding))
	}

	if _, err := s.db.SetBlocked(creatorID, false, ""); err != nil {
		return err
	}

	s.audit.Log(actorID, audit.ActionUnblockCreator, "creator", creatorID,
		gin.H{"payout_blocked": true, "reason": profile.BlockReason},
		gin.H{"payout_blocked": false}, "")
	s.notifier.Notify(creatorID, notify.TypePayoutsUnblocked,
		"Your payouts have been re-enabled.", "")
	return nil
}

// GetDB exposes the database wrapper to the debt service for auto-blocking.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for creator profile endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetProfileHandler returns the authenticated creator's payout profile.
func (h *GinHandlers) GetProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.GetString(middleware.CtxSubjectID)
		profile, err := h.service.GetProfile(creatorID)
		response.Handle(c, profile, err)
	}
}

// UpdateScheduleHandler lets a creator change their payout cadence.
func (h *GinHandlers) UpdateScheduleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			PayoutSchedule string `json:"payout_schedule" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		profile, err := h.service.UpdateSchedule(c.GetString(middleware.CtxSubjectID), req.PayoutSchedule)
		response.Handle(c, profile, err)
	}
}

// EligibilityHandler returns the authenticated creator's payout eligibility.
func (h *GinHandlers) EligibilityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.GetString(middleware.CtxSubjectID)
		eligibility, err := h.service.CheckEligibility(c.Request.Context(), creatorID)
		response.Handle(c, eligibility, err)
	}
}

// UpsertProfileHandler handles the internal profile sync from the platform.
func (h *GinHandlers) UpsertProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpsertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		profile, err := h.service.UpsertProfile(req)
		response.Handle(c, profile, err)
	}
}

// BlockHandler handles admin requests to block a creator's payouts.
func (h *GinHandlers) BlockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.Param("creator_id")
		var req struct {
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.Block(c.GetString(middleware.CtxSubjectID), creatorID, req.Reason)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "creator payouts blocked"})
	}
}

// UnblockHandler handles admin requests to unblock a creator's payouts.
func (h *GinHandlers) UnblockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.Param("creator_id")
		err := h.service.Unblock(c.GetString(middleware.CtxSubjectID), creatorID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "creator payouts unblocked"})
	}
}
