package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/phoenix-ai/platform/internal/common"
	"github.com/phoenix-ai/platform/internal/config"
	"github.com/phoenix-ai/platform/internal/httpapi/handlers"
	"github.com/phoenix-ai/platform/internal/httpapi/middleware"
)

func NewRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	r.GET("/ping", h.Ping)

	// chat: anonymous callers allowed, a bearer token identifies the user
	api := r.Group("/")
	api.Use(middleware.AuthOptional(cfg.JWTSecret))
	api.POST("/assistants/:slug/messages", h.SendMessage)
	api.GET("/conversations/:conversation_id/messages", h.ListMessages)

	me := api.Group("/me")
	me.Use(middleware.AuthRequired())
	me.GET("/credits", h.MyCredits)

	admin := r.Group("/admin")
	admin.Use(middleware.AdminRequired(cfg.AdminTokenHash))
	admin.POST("/credits", h.GrantCredits)
	admin.PATCH("/messages/:id/flag", h.FlagMessage)
	return r
}
