package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chat-sync/internal/chat"
	"chat-sync/internal/events"
	"chat-sync/internal/models"
	"chat-sync/internal/outbox"
	"chat-sync/internal/rpc"
	"chat-sync/internal/shard"
)

type Surface interface {
	Bind(ctx context.Context, b chat.Binding) (chat.Snapshot, error)
	Binding() (chat.Binding, bool)
	Snapshot() (chat.Snapshot, error)
	LoadMore(ctx context.Context) (chat.Snapshot, error)
	Send(ctx context.Context, chatID, content string) (models.Message, error)
	OwnShard() string
}

type Directory interface {
	Chats(ctx context.Context) ([]models.ChatSummary, error)
	Player(ctx context.Context, id string) (models.Player, error)
	Icon(ctx context.Context, iconURL string) ([]byte, error)
}

type Restrictions interface {
	Load(ctx context.Context, userID string) models.Restriction
	Current() models.Restriction
	CanSend() bool
	UserID() string
}

// ChatHandler serves the local UI API over the bound chat surface.
type ChatHandler struct {
	surface      Surface
	dir          Directory
	restrictions Restrictions
	bus          *events.Bus
	shards       int
}

// NewChatHandler builds a ChatHandler. shards is the global shard count.
func NewChatHandler(surface Surface, dir Directory, restrictions Restrictions, bus *events.Bus, shards int) *ChatHandler {
	if shards <= 0 {
		shards = shard.DefaultCount
	}
	return &ChatHandler{
		surface:      surface,
		dir:          dir,
		restrictions: restrictions,
		bus:          bus,
		shards:       shards,
	}
}

// ListChats returns the chats visible to the user.
func (h *ChatHandler) ListChats(c *gin.Context) {
	chats, err := h.dir.Chats(c.Request.Context())
	if err != nil {
		zap.S().With("method", "ListChats", "request_id", requestIDFromContext(c)).Warnw("list chats failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load chats"})
		return
	}
	if chats == nil {
		chats = []models.ChatSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetShard reports which global shard a user lands on.
func (h *ChatHandler) GetShard(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"shard":   shard.ForN(userID, h.shards),
		"index":   shard.Index(userID, h.shards),
		"shards":  h.shards,
	})
}

// Bind points the surface at a chat, a clan or the global shards.
func (h *ChatHandler) Bind(c *gin.Context) {
	var req struct {
		Kind   chat.Kind `json:"kind" binding:"required"`
		ChatID string    `json:"chat_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Kind {
	case chat.SurfaceDirect, chat.SurfaceGlobal:
	case chat.SurfaceClan:
		if req.ChatID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "clan binding needs a chat id"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown surface kind"})
		return
	}

	b := chat.Binding{Kind: req.Kind, ChatID: req.ChatID}
	snap, err := h.surface.Bind(c.Request.Context(), b)
	if err != nil {
		zap.S().With("method", "Bind", "request_id", requestIDFromContext(c)).Warnw("bind failed", "kind", b.Kind, "chat_id", b.ChatID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not bind surface"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"binding": b, "snapshot": snap})
}

// OpenConversation binds the surface to one direct chat and tells every UI
// client to show it.
func (h *ChatHandler) OpenConversation(c *gin.Context) {
	var req struct {
		ChatID string `json:"chat_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	b := chat.Binding{Kind: chat.SurfaceDirect, ChatID: req.ChatID}
	snap, err := h.surface.Bind(c.Request.Context(), b)
	if err != nil {
		zap.S().With("method", "OpenConversation", "request_id", requestIDFromContext(c)).Warnw("open conversation failed", "chat_id", req.ChatID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not open conversation"})
		return
	}
	h.bus.Publish(events.Event{Kind: events.OpenConversation, ChatID: req.ChatID})
	c.JSON(http.StatusOK, gin.H{"binding": b, "snapshot": snap})
}

// GetMessages returns the current snapshot of the bound surface.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	b, ok := h.surface.Binding()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "surface is not bound"})
		return
	}
	snap, err := h.surface.Snapshot()
	if err != nil {
		writeSurfaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"binding": b, "snapshot": snap})
}

// LoadOlder pages in older history.
func (h *ChatHandler) LoadOlder(c *gin.Context) {
	snap, err := h.surface.LoadMore(c.Request.Context())
	if err != nil {
		writeSurfaceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap})
}

// PostMessage sends a message through the bound surface. A transient failure
// still answers 202 because the message sits in the outbox.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
		ChatID  string `json:"chat_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	log := zap.S().With("method", "PostMessage", "request_id", requestIDFromContext(c))
	msg, err := h.surface.Send(c.Request.Context(), req.ChatID, req.Content)
	if err == nil {
		c.JSON(http.StatusCreated, gin.H{"message": msg})
		return
	}
	if errors.Is(err, chat.ErrNotBound) || errors.Is(err, chat.ErrUnknownChannel) || errors.Is(err, chat.ErrClosed) {
		writeSurfaceError(c, err)
		return
	}

	class := outbox.Classify(err)
	log.Infow("send failed", "chat_id", msg.ChatID, "ts", msg.TS, "class", class.Class.String(), "error", err)
	if class.Terminal() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": msg, "error": class.Reason})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msg, "error": "queued for retry"})
}

// GetRestriction returns the user's moderation state. ?refresh=1 reloads it.
func (h *ChatHandler) GetRestriction(c *gin.Context) {
	r := h.restrictions.Current()
	if c.Query("refresh") == "1" {
		r = h.restrictions.Load(c.Request.Context(), h.restrictions.UserID())
	}
	resp := gin.H{
		"user_id":  h.restrictions.UserID(),
		"status":   r.Status,
		"can_send": r.Status == models.RestrictionNone,
	}
	if d := r.RemainingDuration(); d > 0 {
		resp["remaining_seconds"] = int(d.Seconds())
	}
	c.JSON(http.StatusOK, resp)
}

// GetPlayer returns sender metadata.
func (h *ChatHandler) GetPlayer(c *gin.Context) {
	player, err := h.dir.Player(c.Request.Context(), c.Param("id"))
	if err != nil {
		if rpc.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
			return
		}
		zap.S().With("method", "GetPlayer", "request_id", requestIDFromContext(c)).Warnw("player lookup failed", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load player"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"player": player})
}

// GetIcon proxies a player icon through the icon cache.
func (h *ChatHandler) GetIcon(c *gin.Context) {
	iconURL := c.Query("url")
	if iconURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing url"})
		return
	}
	data, err := h.dir.Icon(c.Request.Context(), iconURL)
	if err != nil {
		zap.S().With("method", "GetIcon", "request_id", requestIDFromContext(c)).Warnw("icon lookup failed", "url", iconURL, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load icon"})
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func writeSurfaceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrNotBound):
		c.JSON(http.StatusConflict, gin.H{"error": "surface is not bound"})
	case errors.Is(err, chat.ErrUnknownChannel):
		c.JSON(http.StatusBadRequest, gin.H{"error": "chat is not part of the bound surface"})
	case errors.Is(err, chat.ErrClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "surface is closing"})
	default:
		zap.S().With("method", "writeSurfaceError", "request_id", requestIDFromContext(c)).Warnw("surface request failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "surface request failed"})
	}
}
