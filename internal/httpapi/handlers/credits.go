package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/phoenix-ai/platform/internal/chat"
	"github.com/phoenix-ai/platform/internal/common"
	"github.com/phoenix-ai/platform/internal/httpapi/middleware"
	"github.com/phoenix-ai/platform/internal/ledger"
	"github.com/phoenix-ai/platform/internal/models"
	"github.com/phoenix-ai/platform/internal/store/rabbitmq"
)

func (h *Handler) MyCredits(c *gin.Context) {
	uid := userIDFromContext(c)
	if uid == nil {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	balance, err := h.Ledger.Balance(c.Request.Context(), *uid)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "internal error")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	txs, err := h.Ledger.History(c.Request.Context(), *uid, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "internal error")
		return
	}

	common.OK(c, http.StatusOK, gin.H{
		"balance":      balance,
		"transactions": txs,
	})
}

type grantReq struct {
	UserID    uint64 `json:"user_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Reason    string `json:"reason" binding:"omitempty,oneof=purchase admin_adjustment"`
	Reference string `json:"reference" binding:"max=128"`
}

// GrantCredits queues a top-up for the ledger worker. Purchases must carry
// a reference so redelivery cannot double-credit.
func (h *Handler) GrantCredits(c *gin.Context) {
	if h.Grants == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "credit queue unavailable")
		return
	}
	var req grantReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusUnprocessableEntity, 42204, "invalid grant")
		return
	}
	if req.Reason == "" {
		req.Reason = models.ReasonAdjustment
	}
	ref := strings.TrimSpace(req.Reference)
	if req.Reason == models.ReasonPurchase && ref == "" {
		common.Fail(c, http.StatusUnprocessableEntity, 42205, "purchase grants need a reference")
		return
	}
	if ref == "" {
		id, err := common.NewULID()
		if err != nil {
			common.Fail(c, http.StatusInternalServerError, 50003, "internal error")
			return
		}
		ref = "grant_" + id
	}

	g := rabbitmq.CreditGrant{UserID: req.UserID, Amount: req.Amount, Reason: req.Reason, Reference: ref}
	if err := h.Grants.PublishGrant(c.Request.Context(), g); err != nil {
		log.Printf("[GrantCredits] publish failed req=%s user=%d ref=%s err=%v", c.GetString(middleware.RequestIDKey), req.UserID, ref, err)
		common.Fail(c, http.StatusInternalServerError, 50004, "enqueue failed")
		return
	}

	common.OK(c, http.StatusAccepted, gin.H{"reference": ref})
}

type flagReq struct {
	Flagged bool   `json:"flagged"`
	Reason  string `json:"reason" binding:"max=255"`
}

func (h *Handler) FlagMessage(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		common.Fail(c, http.StatusBadRequest, 40001, "invalid message id")
		return
	}
	var req flagReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusUnprocessableEntity, 42206, "invalid flag request")
		return
	}
	if err := h.ChatSvc.FlagMessage(c.Request.Context(), id, req.Flagged, req.Reason); err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40403, "message not found")
			return
		}
		log.Printf("[FlagMessage] update failed req=%s msg=%d err=%v", c.GetString(middleware.RequestIDKey), id, err)
		common.Fail(c, http.StatusInternalServerError, 50005, "internal error")
		return
	}
	c.Status(http.StatusNoContent)
}
