// Package api exposes the REST surface for chat management: creating and
// listing chats, paginated history, sending and deleting messages, and
// presence lookups. Realtime delivery happens over the WebSocket transport;
// these endpoints are the request/response side of the same pipeline.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/linkhub/realtime/internal/chat"
	"github.com/linkhub/realtime/internal/delivery"
	"github.com/linkhub/realtime/internal/errs"
	"github.com/linkhub/realtime/internal/presence"
)

// ChatStore is the subset of the chat store the REST handlers need.
type ChatStore interface {
	FindOrCreateChat(ctx context.Context, userX, userY string) (*chat.Chat, error)
	ListChats(ctx context.Context, userID string) ([]chat.Chat, error)
}

// Sender is the subset of the delivery pipeline the REST handlers need.
type Sender interface {
	Send(ctx context.Context, senderID, chatID, content, messageType string) (*chat.Message, error)
	Delete(ctx context.Context, requesterID, messageID string) error
	History(ctx context.Context, requesterID, chatID string, page, limit int) ([]chat.Message, bool, error)
}

// OnlineChecker answers whether a user is online right now. The connection
// registry is the authoritative source.
type OnlineChecker interface {
	IsOnline(userID string) bool
}

// PresenceMirror reads persisted presence records (last seen timestamps).
type PresenceMirror interface {
	Get(ctx context.Context, userID string) (*presence.Record, error)
}

// Handlers holds the dependencies for all REST endpoints.
type Handlers struct {
	chats    ChatStore
	pipeline Sender
	online   OnlineChecker
	mirror   PresenceMirror
}

// NewHandlers creates the REST handler set. mirror may be nil, in which case
// presence lookups fall back to the live registry only.
func NewHandlers(chats ChatStore, pipeline Sender, online OnlineChecker, mirror PresenceMirror) *Handlers {
	return &Handlers{
		chats:    chats,
		pipeline: pipeline,
		online:   online,
		mirror:   mirror,
	}
}

// writeError maps a pipeline/store error to an HTTP status and a JSON error
// body. Internal errors are logged with detail but returned opaquely.
func writeError(c *gin.Context, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("api: %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

type createChatRequest struct {
	ParticipantID string `json:"participantId" binding:"required"`
}

// CreateChat handles POST /api/chats. It finds or creates the one-to-one chat
// between the authenticated user and the requested participant. The operation
// is idempotent: repeated calls for the same pair return the same chat.
func (h *Handlers) CreateChat(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participantId is required"})
		return
	}

	ch, err := h.chats.FindOrCreateChat(c.Request.Context(), userID, req.ParticipantID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ch)
}

// ListChats handles GET /api/chats. It returns all chats the authenticated
// user participates in, most recently active first, each with its last
// message preview.
func (h *Handlers) ListChats(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	chats, err := h.chats.ListChats(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	if chats == nil {
		chats = []chat.Chat{}
	}

	c.JSON(http.StatusOK, chats)
}

// GetMessages handles GET /api/chats/:chatID/messages. It returns one page of
// the chat's history in chronological order (oldest first within the page)
// and marks the page's messages as read by the requester.
func (h *Handlers) GetMessages(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	chatID := c.Param("chatID")

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(delivery.DefaultPageLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	// Clamp here so the echoed limit matches the page size actually served
	// and clients can rely on hasMore == (len(messages) == limit).
	if limit > delivery.MaxPageLimit {
		limit = delivery.MaxPageLimit
	}

	messages, hasMore, err := h.pipeline.History(c.Request.Context(), userID, chatID, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if messages == nil {
		messages = []chat.Message{}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"page":     page,
		"limit":    limit,
		"hasMore":  hasMore,
	})
}

type sendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
}

// SendMessage handles POST /api/chats/:chatID/messages. The message is
// persisted and fanned out to the chat participants' live connections before
// the response is written, so a 201 means the message is durable.
func (h *Handlers) SendMessage(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	chatID := c.Param("chatID")

	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.pipeline.Send(c.Request.Context(), userID, chatID, req.Content, req.MessageType)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// DeleteMessage handles DELETE /api/messages/:messageID. Only the sender may
// delete; deletion is a soft tombstone and repeating it is a no-op.
func (h *Handlers) DeleteMessage(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	messageID := c.Param("messageID")

	if err := h.pipeline.Delete(c.Request.Context(), userID, messageID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messageId": messageID,
		"deleted":   true,
	})
}

// GetPresence handles GET /api/presence/:userID. Online state comes from the
// live connection registry; last-seen timestamps come from the persisted
// mirror when available.
func (h *Handlers) GetPresence(c *gin.Context) {
	userID := c.Param("userID")
	isOnline := h.online.IsOnline(userID)

	resp := gin.H{
		"userId":   userID,
		"isOnline": isOnline,
	}

	if h.mirror != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		rec, err := h.mirror.Get(ctx, userID)
		if err != nil {
			log.Printf("api: presence mirror read failed user=%s: %v", userID, err)
		} else if rec != nil {
			resp["lastSeen"] = rec.LastSeen
			resp["lastActivity"] = rec.LastActivity
		}
	}

	c.JSON(http.StatusOK, resp)
}
