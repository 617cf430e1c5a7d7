package settings

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/pkg/apperrors"
	"github.com/fanbridge/payout-api/pkg/middleware"
	"github.com/fanbridge/payout-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

// Service reads and writes the platform settings singleton. Reads are served
// from an in-process cache invalidated on every admin write, so the payout
// paths never take ambient global state.
type Service struct {
	db    *gorm.DB
	audit *audit.Service

	mu     sync.RWMutex
	cached *PlatformSettings
}

func NewService(db *gorm.DB, auditSvc *audit.Service) *Service {
	return &Service{db: db, audit: auditSvc}
}

// Seed inserts default settings if no row exists yet.
func (s *Service) Seed() error {
	var count int64
	if err := s.db.Model(&PlatformSettings{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	defaults := &PlatformSettings{
		PlatformFeePercentage: decimal.NewFromInt(15),
		PlatformFeeFixed:      decimal.Zero,
		MinimumPayoutAmount:   decimal.NewFromInt(50),
		HoldingPeriodDays:     7,
		PayoutMode:            PayoutModeManual,
		Currency:              "USD",
		DebtBlockThreshold:    decimal.NewFromInt(100),
	}
	if err := s.db.Create(defaults).Error; err != nil {
		return fmt.Errorf("failed to seed platform settings: %w", err)
	}
	log.Info().Msg("seeded default platform settings")
	return nil
}

// Get returns the current settings, loading from the database on a cache
// miss.
func (s *Service) Get() (*PlatformSettings, error) {
	s.mu.RLock()
	if s.cached != nil {
		cached := *s.cached
		s.mu.RUnlock()
		return &cached, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		cached := *s.cached
		return &cached, nil
	}

	var loaded PlatformSettings
	if err := s.db.Order("id ASC").First(&loaded).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("platform settings not seeded")
		}
		return nil, err
	}
	s.cached = &loaded
	cached := loaded
	return &cached, nil
}

// Update validates and writes new settings, then invalidates the cache.
// Configuration range checks live here, at the write boundary, so the fee
// calculator can trust its inputs.
func (s *Service) Update(actorID string, req UpdateRequest) (*PlatformSettings, error) {
	if req.PlatformFeePercentage.IsNegative() || req.PlatformFeePercentage.GreaterThan(hundred) {
		return nil, apperrors.Validation("platform fee percentage must be between 0 and 100")
	}
	if req.PlatformFeeFixed.IsNegative() {
		return nil, apperrors.Validation("fixed fee must not be negative")
	}
	if req.MinimumPayoutAmount.IsNegative() {
		return nil, apperrors.Validation("minimum payout amount must not be negative")
	}
	if req.HoldingPeriodDays < 0 {
		return nil, apperrors.Validation("holding period must not be negative")
	}
	mode := strings.ToUpper(req.PayoutMode)
	if mode != PayoutModeAutomatic && mode != PayoutModeManual {
		return nil, apperrors.Validation("payout mode must be AUTOMATIC or MANUAL")
	}
	if req.DebtBlockThreshold.IsNegative() {
		return nil, apperrors.Validation("debt block threshold must not be negative")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, apperrors.Validation("currency must be a three-letter ISO code")
	}

	var current PlatformSettings
	if err := s.db.Order("id ASC").First(&current).Error; err != nil {
		return nil, err
	}
	before := current

	current.PlatformFeePercentage = req.PlatformFeePercentage
	current.PlatformFeeFixed = req.PlatformFeeFixed
	current.MinimumPayoutAmount = req.MinimumPayoutAmount
	current.HoldingPeriodDays = req.HoldingPeriodDays
	current.PayoutMode = mode
	current.Currency = currency
	current.DebtBlockThreshold = req.DebtBlockThreshold

	if err := s.db.Save(&current).Error; err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	s.audit.Log(actorID, audit.ActionUpdateSettings, "platform_settings",
		fmt.Sprintf("%d", current.ID), before, current, "")

	return &current, nil
}

// GinHandlers contains HTTP handlers for admin settings endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetHandler handles GET requests for the current platform settings.
func (h *GinHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		current, err := h.service.Get()
		response.Handle(c, current, err)
	}
}

// UpdateHandler handles PUT requests updating the platform settings.
func (h *GinHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		updated, err := h.service.Update(c.GetString(middleware.CtxSubjectID), req)
		response.Handle(c, updated, err)
	}
}
