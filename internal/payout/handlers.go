package payout

import (
	"time"

	"github.com/fanbridge/payout-api/pkg/middleware"
	"github.com/fanbridge/payout-api/pkg/response"
	"github.com/gin-gonic/gin"
)

// GinHandlers contains HTTP handlers for payout endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateHandler handles a creator's payout request. An empty body (or nil
// amount) withdraws the full available balance.
func (h *GinHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.GetString(middleware.CtxSubjectID)

		var req CreateRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.BadRequest(c, err.Error())
				return
			}
		}

		p, err := h.service.Create(c.Request.Context(), creatorID, RequestedByCreator, req.Amount)
		response.Handle(c, p, err)
	}
}

// ListHandler returns the authenticated creator's payout history.
func (h *GinHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.GetString(middleware.CtxSubjectID)
		payouts, err := h.service.GetCreatorPayouts(creatorID)
		response.Handle(c, payouts, err)
	}
}

// GetHandler returns one payout; creators can only see their own.
func (h *GinHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payoutID := c.Param("payout_id")
		p, err := h.service.GetPayout(payoutID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if role := c.GetString(middleware.CtxRole); role != "admin" && p.CreatorID != c.GetString(middleware.CtxSubjectID) {
			response.NotFound(c, "Resource not found")
			return
		}
		response.Success(c, p)
	}
}

// CancelOwnHandler lets a creator cancel their own pending payout.
func (h *GinHandlers) CancelOwnHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		creatorID := c.GetString(middleware.CtxSubjectID)
		payoutID := c.Param("payout_id")

		if err := h.service.CancelOwn(creatorID, payoutID); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "payout canceled"})
	}
}

// ListPendingHandler returns the admin approval queue.
func (h *GinHandlers) ListPendingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payouts, err := h.service.ListPending()
		response.Handle(c, payouts, err)
	}
}

// EntriesHandler lists the ledger entries claimed by a payout (admin).
func (h *GinHandlers) EntriesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		payoutID := c.Param("payout_id")
		entries, err := h.service.GetPayoutEntries(payoutID)
		response.Handle(c, entries, err)
	}
}

// ApproveHandler handles the admin approval that triggers settlement.
func (h *GinHandlers) ApproveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetString(middleware.CtxSubjectID)
		payoutID := c.Param("payout_id")

		p, err := h.service.Approve(c.Request.Context(), actorID, payoutID)
		response.Handle(c, p, err)
	}
}

// RejectHandler handles admin rejection of a pending payout.
func (h *GinHandlers) RejectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetString(middleware.CtxSubjectID)
		payoutID := c.Param("payout_id")
		var req struct {
			Reason string `json:"reason" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.Reject(actorID, payoutID, req.Reason); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "payout rejected, entries released"})
	}
}

// CancelHandler handles admin cancellation of a pending payout.
func (h *GinHandlers) CancelHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := c.GetString(middleware.CtxSubjectID)
		payoutID := c.Param("payout_id")
		var req struct {
			Reason string `json:"reason"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.BadRequest(c, err.Error())
				return
			}
		}
		if req.Reason == "" {
			req.Reason = "canceled by admin"
		}

		if err := h.service.Cancel(actorID, payoutID, req.Reason); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"message": "payout canceled, entries released"})
	}
}

// StuckProcessingHandler lists payouts stuck in PROCESSING for the admin
// reconciliation queue. Default window is 48 hours; override with
// ?older_than=6h.
func (h *GinHandlers) StuckProcessingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		age := 48 * time.Hour
		if v := c.Query("older_than"); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				response.BadRequest(c, "invalid older_than duration")
				return
			}
			age = parsed
		}
		payouts, err := h.service.RecheckStuckProcessing(age)
		response.Handle(c, payouts, err)
	}
}
