package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/linkhub/realtime/internal/metrics"
)

// ctxUserID is the gin context key under which the identity middleware
// stores the authenticated user ID.
const ctxUserID = "userID"

// identityHeader carries the caller's user ID. The platform's API gateway
// authenticates the session token and forwards the resolved identity in this
// header; this service trusts it.
const identityHeader = "X-User-ID"

// requireIdentity rejects requests that arrive without a resolved identity.
func requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(identityHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// NewRouter builds the gin engine with all REST routes mounted.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "realtime"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := r.Group("/api", requireIdentity())
	{
		auth.POST("/chats", h.CreateChat)
		auth.GET("/chats", h.ListChats)
		auth.GET("/chats/:chatID/messages", h.GetMessages)
		auth.POST("/chats/:chatID/messages", h.SendMessage)
		auth.DELETE("/messages/:messageID", h.DeleteMessage)
		auth.GET("/presence/:userID", h.GetPresence)
	}

	return r
}
