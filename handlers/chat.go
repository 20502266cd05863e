package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"echomind/models"
	"echomind/session"
	"echomind/store"
)

// ChatHandler exposes the conversation session contract over HTTP.
type ChatHandler struct {
	registry  *session.Registry
	convStore *store.ConversationStore
}

// NewChatHandler creates a new chat handler
func NewChatHandler(registry *session.Registry, convStore *store.ConversationStore) *ChatHandler {
	return &ChatHandler{
		registry:  registry,
		convStore: convStore,
	}
}

// ownerKey is the gin context key carrying the authenticated owner identity.
const ownerKey = "owner_id"

// RequireOwner rejects requests without an owner identity. Authentication
// itself happens upstream; this layer only consumes the forwarded identity.
func RequireOwner(c *gin.Context) {
	owner := c.GetHeader("X-User-ID")
	if owner == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}
	c.Set(ownerKey, owner)
	c.Next()
}

func owner(c *gin.Context) string {
	return c.GetString(ownerKey)
}

// Submit handles one chat turn: route, dispatch with fallback, persist, reply.
func (h *ChatHandler) Submit(c *gin.Context) {
	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	sess, err := h.sessionFor(c, req.ConversationID)
	if err != nil {
		respondLoadError(c, err)
		return
	}

	if err := sess.SelectModel(req.Model); err != nil {
		if errors.Is(err, session.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "A response is already in progress"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown model"})
		return
	}

	before := sess.ConversationID()
	resp, err := sess.Submit(c.Request.Context(), req.Content)
	switch {
	case errors.Is(err, session.ErrEmptyInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message content is empty"})
		return
	case errors.Is(err, session.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "A response is already in progress"})
		return
	case err != nil:
		log.Error().Err(err).Msg("submit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process message"})
		return
	}

	// Register the session under any id this turn assigned, whether the
	// session was brand new or had detached itself via a clear.
	if id := sess.ConversationID(); id != nil && (before == nil || *before != *id) {
		h.registry.Remember(owner(c), sess)
	}
	c.JSON(http.StatusOK, resp)
}

// Clear resets a live session to a fresh greeting without deleting the
// persisted record.
func (h *ChatHandler) Clear(c *gin.Context) {
	var req struct {
		ConversationID *uuid.UUID `json:"conversation_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.ConversationID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	sess, err := h.registry.ForConversation(c.Request.Context(), owner(c), *req.ConversationID)
	if err != nil {
		respondLoadError(c, err)
		return
	}
	if !sess.ClearMessages() {
		c.JSON(http.StatusConflict, gin.H{"error": "A response is already in progress"})
		return
	}
	// The session no longer represents the stored conversation; drop its key
	// so the record can be re-opened from the store.
	h.registry.Forget(owner(c), *req.ConversationID)
	c.JSON(http.StatusOK, gin.H{"messages": sess.Messages()})
}

// ListConversations lists the caller's conversations, most recent first.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	summaries, err := h.convStore.ListByOwner(c.Request.Context(), owner(c))
	if err != nil {
		log.Error().Err(err).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, summaries)
}

// GetConversation retrieves a conversation by ID, enforcing ownership.
func (h *ChatHandler) GetConversation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID"})
		return
	}

	conv, err := session.Authorize(c.Request.Context(), h.convStore, owner(c), id)
	if err != nil {
		respondLoadError(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// DeleteConversation removes a conversation. Deleting an already-deleted id
// succeeds, so retries are harmless to the caller.
func (h *ChatHandler) DeleteConversation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID"})
		return
	}

	if _, err := session.Authorize(c.Request.Context(), h.convStore, owner(c), id); err != nil {
		respondLoadError(c, err)
		return
	}

	err = h.convStore.DeleteByID(c.Request.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Str("conversation_id", id.String()).Msg("failed to delete conversation")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}

	h.registry.Forget(owner(c), id)
	c.JSON(http.StatusOK, gin.H{"message": "Conversation deleted"})
}

// sessionFor resolves a live session: an existing conversation loads through
// the registry with its ownership check, a nil id starts a fresh session.
func (h *ChatHandler) sessionFor(c *gin.Context, id *uuid.UUID) (*session.Session, error) {
	if id != nil {
		return h.registry.ForConversation(c.Request.Context(), owner(c), *id)
	}
	return h.registry.NewSession(owner(c)), nil
}

// respondLoadError maps a session load failure onto a status code: an absent
// or foreign conversation is a 404, a store transport failure a 500.
func respondLoadError(c *gin.Context, err error) {
	if errors.Is(err, session.ErrFailedToLoad) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
		return
	}
	log.Error().Err(err).Msg("failed to load conversation")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
}
