package payout

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fanbridge/payout-api/internal/audit"
	"github.com/fanbridge/payout-api/internal/debt"
	"github.com/fanbridge/payout-api/internal/ledger"
	"github.com/fanbridge/payout-api/internal/notify"
	"github.com/fanbridge/payout-api/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
)

// Webhook event types delivered by the processor after asynchronous
// settlement.
const (
	EventTransferPaid   = "transfer.paid"
	EventTransferFailed = "transfer.failed"
)

type transferEventData struct {
	ID             string `json:"id"`
	FailureMessage string `json:"failure_message"`
}

// WebhookResult reports what a delivery did.
type WebhookResult struct {
	PayoutID         string `json:"payout_id,omitempty"`
	Applied          bool   `json:"applied"`
	AlreadyProcessed bool   `json:"already_processed"`
}

// HandleSettlementEvent applies a processor settlement confirmation. The
// processed-events table keyed by the external event id makes redelivery a
// no-op, and the status-guarded updates make out-of-order deliveries
// harmless: a FAILED event arriving after PAID (or vice versa) matches zero
// rows and applies nothing.
func (s *Service) HandleSettlementEvent(eventID, eventType, transferID, failureMessage string) (*WebhookResult, error) {
	logger := log.With().
		Str("service", "payout").
		Str("component", "webhook").
		Str("event_id", eventID).
		Str("transfer_id", transferID).
		Logger()

	p, err := s.db.GetPayoutByTransferID(transferID)
	if err != nil {
		// Not ours (or not yet recorded): acknowledge without effect so the
		// processor stops redelivering, but keep the trace.
		logger.Warn().Err(err).Msg("settlement event for unknown transfer")
		return &WebhookResult{}, nil
	}

	result := &WebhookResult{PayoutID: p.PayoutID}
	now := time.Now()

	event := &ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		PayoutID:    p.PayoutID,
		ProcessedAt: now,
	}

	var transitioned int64
	alreadyProcessed, err := s.db.RecordEventOnce(event, func(tx *gorm.DB) error {
		switch eventType {
		case EventTransferPaid:
			res := tx.Model(&Payout{}).
				Where("payout_id = ? AND status = ?", p.PayoutID, StatusProcessing).
				Updates(map[string]interface{}{
					"status":       StatusPaid,
					"completed_at": now,
					"updated_at":   now,
				})
			if res.Error != nil {
				return res.Error
			}
			transitioned = res.RowsAffected
			if transitioned == 0 {
				return nil
			}
			return tx.Model(&ledger.Entry{}).
				Where("payout_request_id = ? AND payout_status = ?", p.PayoutID, ledger.PayoutStatusProcessing).
				Updates(map[string]interface{}{
					"payout_status": ledger.PayoutStatusPaid,
					"updated_at":    now,
				}).Error

		case EventTransferFailed:
			res := tx.Model(&Payout{}).
				Where("payout_id = ? AND status = ?", p.PayoutID, StatusProcessing).
				Updates(map[string]interface{}{
					"status":         StatusFailed,
					"failure_reason": failureMessage,
					"completed_at":   now,
					"updated_at":     now,
				})
			if res.Error != nil {
				return res.Error
			}
			transitioned = res.RowsAffected
			if transitioned == 0 {
				return nil
			}
			if err := tx.Model(&ledger.Entry{}).
				Where("payout_request_id = ? AND payout_status = ?", p.PayoutID, ledger.PayoutStatusProcessing).
				Updates(map[string]interface{}{
					"payout_status":     ledger.PayoutStatusReady,
					"payout_request_id": nil,
					"updated_at":        now,
				}).Error; err != nil {
				return err
			}
			return tx.Model(&debt.Debt{}).
				Where("reversal_reference_id = ? AND reconciliation_method = ?",
					p.PayoutID, debt.MethodPayoutOffset).
				Updates(map[string]interface{}{
					"reconciled":            false,
					"reconciliation_method": "",
					"reversal_reference_id": "",
					"reconciled_at":         nil,
					"updated_at":            now,
				}).Error

		default:
			logger.Info().Str("event_type", eventType).Msg("ignoring unhandled event type")
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	result.AlreadyProcessed = alreadyProcessed
	result.Applied = transitioned > 0

	if result.Applied {
		switch eventType {
		case EventTransferPaid:
			s.audit.Log("processor", audit.ActionWebhookPaid, "payout", p.PayoutID,
				gin.H{"status": StatusProcessing}, gin.H{"status": StatusPaid}, "")
			s.notifier.Notify(p.CreatorID, notify.TypePayoutPaid,
				fmt.Sprintf("Your payout of %s %s has been sent.", p.TotalAmount, p.Currency), "")
		case EventTransferFailed:
			s.audit.Log("processor", audit.ActionWebhookFailed, "payout", p.PayoutID,
				gin.H{"status": StatusProcessing}, gin.H{"status": StatusFailed}, failureMessage)
			s.notifier.Notify("admin", notify.TypePayoutFailed,
				fmt.Sprintf("Payout %s failed at the processor: %s", p.PayoutID, failureMessage), "")
			s.notifier.Notify(p.CreatorID, notify.TypePayoutFailed,
				"Your payout could not be completed. Our team has been notified.", "")
		}
	}

	logger.Info().
		Bool("applied", result.Applied).
		Bool("already_processed", result.AlreadyProcessed).
		Str("event_type", eventType).
		Msg("settlement event handled")
	return result, nil
}

// WebhookHandler receives processor settlement events. When a signing
// secret is configured the payload signature is verified; local
// development and tests run unsigned.
func (h *GinHandlers) WebhookHandler(signingSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			response.BadRequest(c, "failed to read request body")
			return
		}

		var event stripe.Event
		if signingSecret != "" {
			event, err = webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), signingSecret)
			if err != nil {
				response.Unauthorized(c, "invalid webhook signature")
				return
			}
		} else if err := json.Unmarshal(payload, &event); err != nil {
			response.BadRequest(c, "invalid event payload")
			return
		}

		var data transferEventData
		if len(event.Data.Raw) > 0 {
			if err := json.Unmarshal(event.Data.Raw, &data); err != nil {
				response.BadRequest(c, "invalid event data")
				return
			}
		}
		if event.ID == "" || data.ID == "" {
			response.BadRequest(c, "event id and transfer id are required")
			return
		}

		result, err := h.service.HandleSettlementEvent(event.ID, string(event.Type), data.ID, data.FailureMessage)
		response.Handle(c, result, err)
	}
}
