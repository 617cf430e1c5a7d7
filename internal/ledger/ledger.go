package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/settings"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/fanbridge/payout-api/pkg/middleware"
	"github.com/fanbridge/payout-api/pkg/money"
	"github.com/fanbridge/payout-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles ledger entry creation and lifecycle operations
type Service struct {
	db       *Database
	settings *settings.Service
	audit    *audit.Service
}

func NewService(gormDB *gorm.DB, settingsSvc *settings.Service, auditSvc *audit.Service) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		settings: settingsSvc,
		audit:    auditSvc,
	}
}

// RecordCharge creates the ledger entry for a successful booking charge.
// The fee breakdown is computed once, here, from the live platform settings;
// the release date is charge time plus the holding period. Replays keyed by
// the external charge id return the existing entry.
func (s *Service) RecordCharge(req ChargeRequest) (*Entry, error) {
	logger := log.With().
		Str("service", "ledger").
		Str("external_charge_id", req.ExternalChargeID).
		Logger()

	existing, err := s.db.GetEntryByExternalChargeID(req.ExternalChargeID)
	if err == nil {
		logger.Info().Str("entry_id", existing.EntryID).Msg("charge already recorded, returning existing entry")
		return existing, nil
	}
	if !IsNotFound(err) {
		return nil, fmt.Errorf("failed to check for existing charge: %w", err)
	}

	if !req.GrossAmount.IsPositive() {
		return nil, apperrors.Validation("gross amount must be positive")
	}

	cfg, err := s.settings.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to load platform settings: %w", err)
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = cfg.Currency
	}

	fees, err := money.ComputeFees(req.GrossAmount, cfg.PlatformFeePercentage, cfg.PlatformFeeFixed)
	if err != nil {
		return nil, fmt.Errorf("failed to compute fees: %w", err)
	}

	now := time.Now()
	entry := &Entry{
		EntryID:           "LED_" + uuid.New().String(),
		BookingID:         req.BookingID,
		CreatorID:         req.CreatorID,
		GrossAmount:       req.GrossAmount,
		Currency:          currency,
		PlatformFee:       fees.PlatformFee,
		CreatorNetAmount:  fees.CreatorNet,
		ExternalChargeID:  req.ExternalChargeID,
		Status:            StatusSucceeded,
		PayoutStatus:      PayoutStatusHeld,
		PayoutReleaseDate: now.AddDate(0, 0, cfg.HoldingPeriodDays),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.db.CreateEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	logger.Info().
		Str("entry_id", entry.EntryID).
		Str("creator_id", entry.CreatorID).
		Str("gross", entry.GrossAmount.String()).
		Str("net", entry.CreatorNetAmount.String()).
		Time("release_date", entry.PayoutReleaseDate).
		Msg("ledger entry created")

	return entry, nil
}

// RunSweep releases all HELD entries whose holding period has elapsed.
// Idempotent: the conditional update matches nothing on a second pass.
func (s *Service) RunSweep() (int64, error) {
	released, err := s.db.ReleaseDueEntries(time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to release due entries: %w", err)
	}
	if released > 0 {
		log.Info().
			Str("service", "ledger").
			Int64("released", released).
			Msg("held entries released to ready")
	}
	return released, nil
}

// GetEntry retrieves a ledger entry by its ID
func (s *Service) GetEntry(entryID string) (*Entry, error) {
	return s.db.GetEntry(entryID)
}

// GetCreatorEntries retrieves all ledger entries for a creator
func (s *Service) GetCreatorEntries(creatorID string) ([]Entry, error) {
	return s.db.GetCreatorEntries(creatorID)
}

// GetBalance computes the creator's local balance from unclaimed entries.
func (s *Service) GetBalance(creatorID string) (*BalanceResponse, error) {
	available, err := s.db.SumAvailable(creatorID)
	if err != nil {
		return nil, err
	}
	held, err := s.db.SumHeld(creatorID)
	if err != nil {
		return nil, err
	}
	cfg, err := s.settings.Get()
	if err != nil {
		return nil, err
	}
	return &BalanceResponse{
		CreatorID: creatorID,
		Available: available,
		Held:      held,
		Currency:  cfg.Currency,
	}, nil
}

// ResetEntry moves a FAILED entry back to READY so it can be retried.
func (s *Service) ResetEntry(actorID, entryID string) error {
	entry, err := s.db.GetEntry(entryID)
	if err != nil {
		return err
	}

	rows, err := s.db.ResetFailedEntry(entryID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.Conflict(fmt.Sprintf("entry %s is %s, only FAILED entries can be reset", entryID, entry.PayoutStatus))
	}

	s.audit.Log(actorID, audit.ActionResetEntry, "ledger_entry", entryID,
		gin.H{"payout_status": entry.PayoutStatus}, gin.H{"payout_status": PayoutStatusReady}, "")
	return nil
}

// OverrideRelease rewrites a HELD entry's release date.
func (s *Service) OverrideRelease(actorID, entryID string, releaseDate time.Time) error {
	entry, err := s.db.GetEntry(entryID)
	if err != nil {
		return err
	}

	rows, err := s.db.OverrideReleaseDate(entryID, releaseDate)
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.Conflict(fmt.Sprintf("entry %s is %s, release date can only change while HELD", entryID, entry.PayoutStatus))
	}

	s.audit.Log(actorID, audit.ActionOverrideRelease, "ledger_entry", entryID,
		gin.H{"payout_release_date": entry.PayoutReleaseDate},
		gin.H{"payout_release_date": releaseDate}, "")
	return nil
}

// GetDB exposes the database wrapper to the payout service, which claims and
// releases entries inside its own transactions.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for ledger endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// RecordChargeHandler handles the internal charge-succeeded ingest.
func (h *GinHandlers) RecordChargeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ChargeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		entry, err := h.service.RecordCharge(req)
		response.Handle(c, entry, err)
	}
}

// ListEntriesHandler returns the authenticated creator's ledger history.
func (h *GinHandlers) ListEntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.GetString(middleware.CtxSubjectID)
		entries, err := h.service.GetCreatorEntries(creatorID)
		response.Handle(c, entries, err)
	}
}

// BalanceHandler returns the authenticated creator's available and held
// balance.
func (h *GinHandlers) BalanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.GetString(middleware.CtxSubjectID)
		balance, err := h.service.GetBalance(creatorID)
		response.Handle(c, balance, err)
	}
}

// SweepHandler triggers the HELD to READY sweep. Normally cron-driven; this
// endpoint backs the external scheduler and admin reruns.
func (h *GinHandlers) SweepHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		released, err := h.service.RunSweep()
		response.Handle(c, gin.H{"released": released}, err)
	}
}

// ResetEntryHandler handles admin resets of FAILED entries back to READY.
func (h *GinHandlers) ResetEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entryID := c.Param("entry_id")
		err := h.service.ResetEntry(c.GetString(middleware.CtxSubjectID), entryID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "entry reset to READY"})
	}
}

// OverrideReleaseHandler handles admin release-date overrides for HELD
// entries.
func (h *GinHandlers) OverrideReleaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entryID := c.Param("entry_id")
		var req struct {
			ReleaseDate time.Time `json:"release_date" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		err := h.service.OverrideRelease(c.GetString(middleware.CtxSubjectID), entryID, req.ReleaseDate)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "release date updated"})
	}
}
