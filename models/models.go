package models

import (
	"time"

	"github.com/google/uuid"
)

// Role of a conversation message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a conversation. Messages are immutable once
// created; slice order is the conversation order and is what gets replayed to
// the completion endpoint.
type Message struct {
	ID        uuid.UUID `json:"id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"` // model that produced an assistant turn
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is the persisted record of a chat. A zero ID means the
// conversation has never been stored.
type Conversation struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	Model     string    `json:"model"` // last-used model identifier
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSummary is the list-view projection of a conversation, without
// the message bodies.
type ConversationSummary struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FAQ is one entry of the read-only FAQ collection.
type FAQ struct {
	ID        uuid.UUID `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Tags      []string  `json:"tags"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SubmitRequest is the request body for submitting a chat turn.
type SubmitRequest struct {
	ConversationID *uuid.UUID `json:"conversation_id,omitempty"`
	Content        string     `json:"content" binding:"required"`
	// Model pins an explicitly selected model. When set it takes precedence
	// over heuristic routing.
	Model string `json:"model,omitempty"`
}

// SubmitResponse is returned after a chat turn completes.
type SubmitResponse struct {
	ConversationID   *uuid.UUID `json:"conversation_id,omitempty"`
	UserMessage      Message    `json:"user_message"`
	AssistantMessage Message    `json:"assistant_message"`
}
