package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/phoenix-ai/platform/internal/chat"
	"github.com/phoenix-ai/platform/internal/config"
	"github.com/phoenix-ai/platform/internal/httpapi/middleware"
	"github.com/phoenix-ai/platform/internal/ledger"
	"github.com/phoenix-ai/platform/internal/store/rabbitmq"
)

// GrantPublisher hands credit grants to the ledger worker.
type GrantPublisher interface {
	PublishGrant(ctx context.Context, g rabbitmq.CreditGrant) error
}

type Handler struct {
	Cfg     config.Config
	ChatSvc *chat.Service
	Ledger  *ledger.Ledger
	Grants  GrantPublisher
}

func NewHandler(cfg config.Config, chatSvc *chat.Service, l *ledger.Ledger, grants GrantPublisher) *Handler {
	return &Handler{Cfg: cfg, ChatSvc: chatSvc, Ledger: l, Grants: grants}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

func userIDFromContext(c *gin.Context) *uint64 {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return nil
	}
	id, ok := v.(uint64)
	if !ok {
		return nil
	}
	return &id
}
