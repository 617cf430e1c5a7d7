// Package audit records every state-changing action in the payout core.
// Records are append-only; a failed audit write is logged but never blocks
// the financial transition it describes.
package audit

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/fanbridge/payout-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Record struct {
	gorm.Model `json:"-"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Actions written by the payout core.
const (
	ActionApprovePayout     = "payout.approve"
	ActionRejectPayout      = "payout.reject"
	ActionCancelPayout      = "payout.cancel"
	ActionSettlePayout      = "payout.settle"
	ActionSettlementFailed  = "payout.settlement_failed"
	ActionWebhookPaid       = "payout.webhook_paid"
	ActionWebhookFailed     = "payout.webhook_failed"
	ActionBlockCreator      = "creator.block"
	ActionUnblockCreator    = "creator.unblock"
	ActionResetEntry        = "ledger.reset_entry"
	ActionOverrideRelease   = "ledger.override_release"
	ActionRecordDebt        = "debt.record"
	ActionReconcileDebt     = "debt.reconcile"
	ActionReopenDebt        = "debt.reopen"
	ActionUpdateSettings    = "settings.update"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Log writes an audit record. Before and after snapshots are JSON-encoded;
// nil snapshots are stored empty.
func (s *Service) Log(actorID, action, entityType, entityID string, before, after interface{}, reason string) {
	rec := &Record{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	rec.Before = marshalSnapshot(before)
	rec.After = marshalSnapshot(after)

	if err := s.db.Create(rec).Error; err != nil {
		log.Error().Err(err).
			Str("action", action).
			Str("entity_id", entityID).
			Msg("failed to write audit record")
	}
}

// List returns the most recent audit records, newest first.
func (s *Service) List(limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var records []Record
	if err := s.db.Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func marshalSnapshot(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal audit snapshot")
		return ""
	}
	return string(b)
}

// GinHandlers contains HTTP handlers for audit endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ListHandler handles GET requests for the admin audit trail.
func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 100
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				response.BadRequest(c, "invalid limit")
				return
			}
			limit = n
		}
		records, err := h.service.List(limit)
		response.Handle(c, records, err)
	}
}
