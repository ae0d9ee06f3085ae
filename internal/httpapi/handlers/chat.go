package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/phoenix-ai/platform/internal/chat"
	"github.com/phoenix-ai/platform/internal/common"
	"github.com/phoenix-ai/platform/internal/httpapi/middleware"
)

type sendMessageReq struct {
	Message        string `form:"message" json:"message"`
	ConversationID string `form:"conversation_id" json:"conversation_id"`
	Language       string `form:"language" json:"language"`
	Tone           string `form:"tone" json:"tone"`
	Style          string `form:"style" json:"style"`
	MemoryLimit    *int   `form:"memory_limit" json:"memory_limit"`
}

// SendMessage runs one turn. A provider outage still answers 200 with the
// placeholder reply.
func (h *Handler) SendMessage(c *gin.Context) {
	var req sendMessageReq
	if err := c.ShouldBind(&req); err != nil {
		common.Fail(c, http.StatusUnprocessableEntity, 42201, "invalid request body")
		return
	}

	res, err := h.ChatSvc.Submit(c.Request.Context(), chat.TurnRequest{
		RequestID:      c.GetString(middleware.RequestIDKey),
		ConversationID: req.ConversationID,
		AssistantSlug:  c.Param("slug"),
		UserID:         userIDFromContext(c),
		Text:           req.Message,
		Language:       req.Language,
		Tone:           req.Tone,
		Style:          req.Style,
		MemoryLimit:    req.MemoryLimit,
	})
	if err != nil {
		writeTurnError(c, err)
		return
	}

	common.OK(c, http.StatusOK, gin.H{
		"conversation_id":  res.ConversationID,
		"reply":            res.Reply,
		"credits_consumed": res.CreditsConsumed,
	})
}

func (h *Handler) ListMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), userIDFromContext(c), c.Param("conversation_id"), limit, beforeID)
	if err != nil {
		writeTurnError(c, err)
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, http.StatusOK, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func writeTurnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "not found")
	case errors.Is(err, chat.ErrInvalidInput):
		common.Fail(c, http.StatusUnprocessableEntity, 42202, err.Error())
	case errors.Is(err, chat.ErrContentBlocked):
		common.Fail(c, http.StatusUnprocessableEntity, 42203, "message violates content policy")
	case errors.Is(err, chat.ErrInsufficientCredits):
		common.Fail(c, http.StatusPaymentRequired, 40201, "insufficient credits")
	default:
		log.Printf("[chat] request failed req=%s path=%s err=%v", c.GetString(middleware.RequestIDKey), c.Request.URL.Path, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
