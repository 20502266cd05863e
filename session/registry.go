package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Registry holds the live sessions, one per owner and conversation, so
// repeated submits against the same conversation share a single state
// machine and its one-in-flight-turn guarantee.
type Registry struct {
	mu       sync.Mutex
	deps     Deps
	loader   Loader
	sessions map[string]*Session
}

func NewRegistry(deps Deps, loader Loader) *Registry {
	return &Registry{
		deps:     deps,
		loader:   loader,
		sessions: make(map[string]*Session),
	}
}

func key(ownerID string, id uuid.UUID) string {
	return ownerID + "/" + id.String()
}

// ForConversation returns the live session for an existing conversation,
// loading it on first use.
func (r *Registry) ForConversation(ctx context.Context, ownerID string, id uuid.UUID) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[key(ownerID, id)]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	// Load outside the lock; a racing load of the same conversation just
	// yields one winner below.
	s, err := Load(ctx, r.loader, r.deps, ownerID, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[key(ownerID, id)]; ok {
		return existing, nil
	}
	r.sessions[key(ownerID, id)] = s
	return s, nil
}

// NewSession creates an unregistered session for a conversation that has no
// id yet. Call Remember once the first turn has persisted it.
func (r *Registry) NewSession(ownerID string) *Session {
	return New(r.deps, ownerID)
}

// Remember registers a session under its freshly assigned conversation id.
func (r *Registry) Remember(ownerID string, s *Session) {
	id := s.ConversationID()
	if id == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[key(ownerID, *id)] = s
}

// Forget drops the live session for a deleted conversation.
func (r *Registry) Forget(ownerID string, id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key(ownerID, id))
}
