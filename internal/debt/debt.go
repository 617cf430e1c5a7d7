package debt

import (
	"fmt"
	"strings"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/creator"
	"github.com/fanbridge/payout-api/internal/ledger"
	"github.com/fanbridge/payout-api/internal/notify"
	"github.com/fanbridge/payout-api/internal/settings"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/fanbridge/payout-api/pkg/middleware"
	"github.com/fanbridge/payout-api/pkg/money"
	"github.com/fanbridge/payout-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service tracks creator debt arising from refunds and disputes and handles
// its reconciliation.
type Service struct {
	db        *Database
	ledgerDB  *ledger.Database
	creatorDB *creator.Database
	settings  *settings.Service
	audit     *audit.Service
	notifier  notify.Dispatcher
}

func NewService(
	gormDB *gorm.DB,
	settingsSvc *settings.Service,
	auditSvc *audit.Service,
	notifier notify.Dispatcher,
) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		ledgerDB:  ledger.NewDatabase(gormDB),
		creatorDB: creator.NewDatabase(gormDB),
		settings:  settingsSvc,
		audit:     auditSvc,
		notifier:  notifier,
	}
}

// OutstandingDebt implements creator.DebtChecker.
func (s *Service) OutstandingDebt(creatorID string) (decimal.Decimal, error) {
	return s.db.SumUnreconciled(creatorID)
}

// RecordRefund handles a refund or dispute against a charge. If the charge's
// ledger entry has already been paid out (or is claimed by an in-flight
// payout), the creator's net share of the refunded amount becomes a debt;
// if the entry is still unclaimed, it is simply pulled from the balance.
// Replays keyed by the external refund id return the existing result.
func (s *Service) RecordRefund(actorID string, req RefundRequest) (*RefundResult, error) {
	logger := log.With().
		Str("service", "debt").
		Str("external_refund_id", req.ExternalRefundID).
		Logger()

	source := strings.ToUpper(req.SourceType)
	if source != SourceRefund && source != SourceDispute {
		return nil, apperrors.Validation("source type must be REFUND or DISPUTE")
	}
	if !req.Amount.IsPositive() {
		return nil, apperrors.Validation("refund amount must be positive")
	}

	if existing, err := s.db.GetDebtByExternalRefundID(req.ExternalRefundID); err == nil {
		logger.Info().Str("debt_id", existing.DebtID).Msg("refund already recorded")
		return &RefundResult{Debt: existing, EntryID: existing.EntryID}, nil
	} else if !IsNotFound(err) {
		return nil, fmt.Errorf("failed to check for existing refund: %w", err)
	}

	entry, err := s.ledgerDB.GetEntryByExternalChargeID(req.ExternalChargeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charged entry: %w", err)
	}
	if req.Amount.GreaterThan(entry.GrossAmount) {
		return nil, apperrors.Validation("refund amount exceeds the original charge")
	}

	result := &RefundResult{EntryID: entry.EntryID}

	switch entry.PayoutStatus {
	case ledger.PayoutStatusHeld, ledger.PayoutStatusReady:
		if entry.PayoutRequestID == nil {
			// Money never reached the creator; pull the entry instead of
			// creating a debt. A second refund event against the same
			// charge finds the entry already pulled and falls through to
			// the debt path, which the external-refund-id check prevents.
			reason := fmt.Sprintf("%s %s", strings.ToLower(source), req.ExternalRefundID)
			if _, err := s.ledgerDB.PullUnclaimedEntry(entry.EntryID, reason); err != nil {
				return nil, fmt.Errorf("failed to pull refunded entry: %w", err)
			}
			result.EntryPulled = true
			logger.Info().
				Str("entry_id", entry.EntryID).
				Msg("refunded entry pulled from balance before payout")
			return result, nil
		}
		// Claimed by an open payout: treat like paid-out funds.
		fallthrough
	case ledger.PayoutStatusProcessing, ledger.PayoutStatusPaid:
		debtAmount := money.NetShare(req.Amount, entry.GrossAmount, entry.CreatorNetAmount)
		record := &Debt{
			DebtID:           "DBT_" + uuid.New().String(),
			CreatorID:        entry.CreatorID,
			EntryID:          entry.EntryID,
			Amount:           debtAmount,
			Currency:         entry.Currency,
			SourceType:       source,
			ExternalRefundID: req.ExternalRefundID,
		}
		if err := s.db.CreateDebt(record); err != nil {
			return nil, fmt.Errorf("failed to create debt record: %w", err)
		}
		result.Debt = record

		s.audit.Log(actorID, audit.ActionRecordDebt, "debt", record.DebtID,
			nil, record, fmt.Sprintf("%s against entry %s", source, entry.EntryID))
		s.notifier.Notify(entry.CreatorID, notify.TypeDebtRecorded,
			fmt.Sprintf("A %s of %s %s was recorded against your past earnings.",
				strings.ToLower(source), record.Amount, record.Currency), "")

		blocked, err := s.maybeAutoBlock(entry.CreatorID)
		if err != nil {
			return nil, err
		}
		result.CreatorBlocked = blocked

		logger.Info().
			Str("debt_id", record.DebtID).
			Str("creator_id", entry.CreatorID).
			Str("amount", record.Amount.String()).
			Bool("creator_blocked", blocked).
			Msg("debt recorded")
		return result, nil
	default:
		// Entry already FAILED: nothing to recover.
		logger.Info().
			Str("entry_id", entry.EntryID).
			Str("payout_status", entry.PayoutStatus).
			Msg("refund against inactive entry, no debt recorded")
		return result, nil
	}
}

// maybeAutoBlock blocks the creator when their outstanding debt reaches the
// configured threshold.
func (s *Service) maybeAutoBlock(creatorID string) (bool, error) {
	cfg, err := s.settings.Get()
	if err != nil {
		return false, err
	}
	outstanding, err := s.db.SumUnreconciled(creatorID)
	if err != nil {
		return false, err
	}
	if outstanding.LessThan(cfg.DebtBlockThreshold) {
		return false, nil
	}

	profile, err := s.creatorDB.GetProfile(creatorID)
	if err != nil {
		return false, fmt.Errorf("failed to load creator for auto-block: %w", err)
	}
	if profile.PayoutBlocked {
		return true, nil
	}

	reason := fmt.Sprintf("unreconciled debt %s reached threshold %s", outstanding, cfg.DebtBlockThreshold)
	if _, err := s.creatorDB.SetBlocked(creatorID, true, reason); err != nil {
		return false, err
	}
	s.audit.Log("system", audit.ActionBlockCreator, "creator", creatorID,
		gin.H{"payout_blocked": false},
		gin.H{"payout_blocked": true, "reason": reason}, reason)
	s.notifier.Notify(creatorID, notify.TypePayoutsBlocked,
		"Your payouts have been paused until outstanding refunds are settled.", "")
	return true, nil
}

// Reconcile marks a debt reconciled by explicit admin action.
func (s *Service) Reconcile(actorID, debtID, reference string) error {
	record, err := s.db.GetDebt(debtID)
	if err != nil {
		return err
	}

	rows, err := s.db.MarkReconciled(debtID, MethodManual, reference)
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.Conflict(fmt.Sprintf("debt %s is already reconciled", debtID))
	}

	s.audit.Log(actorID, audit.ActionReconcileDebt, "debt", debtID,
		gin.H{"reconciled": false},
		gin.H{"reconciled": true, "method": MethodManual, "reference": reference}, "")

	log.Info().
		Str("service", "debt").
		Str("debt_id", debtID).
		Str("creator_id", record.CreatorID).
		Msg("debt reconciled manually")
	return nil
}

// GetCreatorDebts lists a creator's debts.
func (s *Service) GetCreatorDebts(creatorID string, unreconciledOnly bool) ([]Debt, error) {
	return s.db.GetCreatorDebts(creatorID, unreconciledOnly)
}

// ListUnreconciled lists all outstanding debts for the admin queue.
func (s *Service) ListUnreconciled() ([]Debt, error) {
	return s.db.ListUnreconciled()
}

// GetDB exposes the database wrapper to the payout service, which offsets
// debts inside its claim transaction.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for debt endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// RecordRefundHandler handles the internal refund/dispute ingest.
func (h *GinHandlers) RecordRefundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RefundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.RecordRefund(c.GetString(middleware.CtxSubjectID), req)
		response.Handle(c, result, err)
	}
}

// ListUnreconciledHandler returns the admin queue of outstanding debts.
func (h *GinHandlers) ListUnreconciledHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		debts, err := h.service.ListUnreconciled()
		response.Handle(c, debts, err)
	}
}

// CreatorDebtsHandler returns one creator's debts for admins.
func (h *GinHandlers) CreatorDebtsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.Param("creator_id")
		debts, err := h.service.GetCreatorDebts(creatorID, c.Query("unreconciled") == "true")
		response.Handle(c, debts, err)
	}
}

// ReconcileHandler handles admin reconciliation of a single debt.
func (h *GinHandlers) ReconcileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		debtID := c.Param("debt_id")
		var req struct {
			Reference string `json:"reference"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.Reconcile(c.GetString(middleware.CtxSubjectID), debtID, req.Reference)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "debt reconciled"})
	}
}
