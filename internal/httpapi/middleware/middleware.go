package middleware

import (
	"log"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/phoenix-ai/platform/internal/auth"
	"github.com/phoenix-ai/platform/internal/common"
)

const (
	UserIDKey    = "user_id"
	RequestIDKey = "request_id"
	headerReqID  = "X-Request-ID"
	headerAdmin  = "X-Admin-Token"
)

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerReqID))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(headerReqID, id)
		c.Next()
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Recovery] panic req=%s path=%s err=%v\n%s", c.GetString(RequestIDKey), c.Request.URL.Path, r, debug.Stack())
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
			}
		}()
		c.Next()
	}
}

// AuthOptional identifies the caller when a bearer token is present.
// Anonymous requests pass through; a bad token is rejected.
func AuthOptional(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" {
			c.Next()
			return
		}
		tok, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		uid, err := auth.ParseJWT(strings.TrimSpace(tok), secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}

func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(UserIDKey); !ok {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		c.Next()
	}
}

// AdminRequired checks X-Admin-Token against the configured bcrypt hash.
func AdminRequired(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.CheckToken(tokenHash, c.GetHeader(headerAdmin)) {
			common.Fail(c, http.StatusForbidden, 40301, "forbidden")
			return
		}
		c.Next()
	}
}
