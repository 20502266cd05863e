package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"echomind/models"
)

// ConversationStore persists conversation documents. Ownership checks belong
// to the session layer; the store only scopes list queries by owner id.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Create inserts a new conversation document, assigning its id and stamping
// created_at/updated_at. The input must not carry an id yet.
func (s *ConversationStore) Create(ctx context.Context, conv models.Conversation) (models.Conversation, error) {
	conv.ID = uuid.New()
	now := time.Now().UTC()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return models.Conversation{}, &StoreError{Op: "create", Err: err}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, preview, model, messages, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		conv.ID, conv.OwnerID, conv.Title, conv.Preview, conv.Model, messagesJSON, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return models.Conversation{}, &StoreError{Op: "create", Err: err}
	}
	return conv, nil
}

// Update merges the message list, model, title and preview into an existing
// document and stamps updated_at. Existence is verified with a read before
// the write; a missing id is ErrNotFound.
func (s *ConversationStore) Update(ctx context.Context, id uuid.UUID, conv models.Conversation) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return &StoreError{Op: "update", Err: err}
	}
	if !exists {
		return ErrNotFound
	}

	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return &StoreError{Op: "update", Err: err}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversations
		 SET title = $2, preview = $3, model = $4, messages = $5, updated_at = $6
		 WHERE id = $1`,
		id, conv.Title, conv.Preview, conv.Model, messagesJSON, time.Now().UTC())
	if err != nil {
		return &StoreError{Op: "update", Err: err}
	}
	return nil
}

// GetByID fetches a single conversation document.
func (s *ConversationStore) GetByID(ctx context.Context, id uuid.UUID) (models.Conversation, error) {
	var (
		conv         models.Conversation
		messagesJSON []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, preview, model, messages, created_at, updated_at
		 FROM conversations WHERE id = $1`, id).
		Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.Preview, &conv.Model,
			&messagesJSON, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Conversation{}, ErrNotFound
	}
	if err != nil {
		return models.Conversation{}, &StoreError{Op: "get", Err: err}
	}
	if err := json.Unmarshal(messagesJSON, &conv.Messages); err != nil {
		return models.Conversation{}, &StoreError{Op: "get", Err: err}
	}
	return conv, nil
}

// ListByOwner returns the owner's conversations, most recently active first.
func (s *ConversationStore) ListByOwner(ctx context.Context, ownerID string) ([]models.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, preview, model, created_at, updated_at
		 FROM conversations WHERE owner_id = $1 ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	summaries := []models.ConversationSummary{}
	for rows.Next() {
		var s models.ConversationSummary
		if err := rows.Scan(&s.ID, &s.Title, &s.Preview, &s.Model, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return summaries, nil
}

// DeleteByID removes a conversation document. Deleting an id that is already
// gone returns ErrNotFound; callers may treat that as success.
func (s *ConversationStore) DeleteByID(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
