// Package session owns the in-memory state of a single conversation and
// drives its turns: append the user message, dispatch the completion, append
// the reply, reconcile with the persisted record. Every failure degrades to a
// visible assistant message or a load failure; nothing escapes as a fatal
// error.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"echomind/models"
	"echomind/store"
	"echomind/workflows"
)

// State of a conversation session.
type State int

const (
	StateInitializing State = iota
	StateReady
	StateAwaitingResponse
	StateFailedToLoad
)

var (
	// ErrEmptyInput is returned when submit is called with empty or
	// whitespace-only content. No message is appended, no request issued.
	ErrEmptyInput = errors.New("session: empty input")
	// ErrBusy is returned when a submit arrives while a turn is in flight.
	ErrBusy = errors.New("session: response already in progress")
	// ErrFailedToLoad marks a session whose conversation could not be loaded
	// or is owned by someone else. Callers should navigate away.
	ErrFailedToLoad = errors.New("session: failed to load conversation")
	// ErrUnknownModel is returned when a pinned model id is not in the catalog.
	ErrUnknownModel = errors.New("session: unknown model")
)

// TurnRunner executes one completion turn. The production implementation is
// the durable DBOS workflow; tests substitute a plain fake.
type TurnRunner interface {
	RunTurn(ctx context.Context, input workflows.TurnInput) (workflows.TurnOutput, error)
}

// Router selects a model from the latest user message content.
type Router interface {
	SelectModel(content string) string
}

// Loader fetches a stored conversation on session start.
type Loader interface {
	GetByID(ctx context.Context, id uuid.UUID) (models.Conversation, error)
}

// Deps are the collaborators and fixed texts a session needs.
type Deps struct {
	Runner        TurnRunner
	Router        Router
	Greeting      string
	Apology       string
	FallbackModel string
	KnownModel    func(id string) bool
}

// Session is the conversation state machine. One session advances one logical
// conversation; at most one completion turn is in flight at a time.
type Session struct {
	mu sync.Mutex

	deps    Deps
	ownerID string

	state          State
	conversationID *uuid.UUID
	messages       []models.Message
	pinnedModel    string
	lastModel      string
}

// New starts a fresh session seeded with the greeting message.
func New(deps Deps, ownerID string) *Session {
	s := &Session{deps: deps, ownerID: ownerID, state: StateInitializing}
	s.reset()
	s.state = StateReady
	return s
}

// Load starts a session over an existing conversation. A missing record or an
// ownership mismatch leaves the session in StateFailedToLoad and returns
// ErrFailedToLoad; the stored content is never exposed.
func Load(ctx context.Context, loader Loader, deps Deps, ownerID string, id uuid.UUID) (*Session, error) {
	s := &Session{deps: deps, ownerID: ownerID, state: StateInitializing}

	conv, err := Authorize(ctx, loader, ownerID, id)
	if err != nil {
		s.state = StateFailedToLoad
		return s, err
	}

	convID := conv.ID
	s.conversationID = &convID
	s.messages = append([]models.Message{}, conv.Messages...)
	s.lastModel = conv.Model
	s.state = StateReady
	return s, nil
}

// Authorize fetches a conversation and enforces that it belongs to ownerID.
// Ownership is checked here, in the session layer, not in the store. A
// missing record and an ownership mismatch both come back as ErrFailedToLoad;
// store transport failures keep their own error so callers can report them as
// server faults rather than absent conversations.
func Authorize(ctx context.Context, loader Loader, ownerID string, id uuid.UUID) (models.Conversation, error) {
	conv, err := loader.GetByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Str("conversation_id", id.String()).Msg("conversation not found")
		return models.Conversation{}, ErrFailedToLoad
	}
	if err != nil {
		log.Error().Err(err).Str("conversation_id", id.String()).Msg("failed to load conversation")
		return models.Conversation{}, errors.Wrap(err, "session: load conversation")
	}
	if conv.OwnerID != ownerID {
		log.Warn().Str("conversation_id", id.String()).Str("owner_id", ownerID).Msg("conversation ownership mismatch")
		return models.Conversation{}, ErrFailedToLoad
	}
	return conv, nil
}

// Submit drives one turn from the given user input. Completion failures come
// back as a normal response carrying the apology message; only precondition
// violations (empty input, busy, failed-to-load) are returned as errors.
func (s *Session) Submit(ctx context.Context, content string) (models.SubmitResponse, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.SubmitResponse{}, ErrEmptyInput
	}

	s.mu.Lock()
	switch s.state {
	case StateReady:
	case StateAwaitingResponse:
		s.mu.Unlock()
		return models.SubmitResponse{}, ErrBusy
	default:
		s.mu.Unlock()
		return models.SubmitResponse{}, ErrFailedToLoad
	}

	userMsg := models.Message{
		ID:        uuid.New(),
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	// Optimistic append, before the network call.
	s.messages = append(s.messages, userMsg)
	s.state = StateAwaitingResponse

	input := workflows.TurnInput{
		ConversationID: s.conversationID,
		OwnerID:        s.ownerID,
		Candidates:     s.candidates(content),
		Messages:       append([]models.Message{}, s.messages...),
	}
	s.mu.Unlock()

	output, err := s.deps.Runner.RunTurn(ctx, input)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateReady

	if err != nil {
		// The turn never ran; synthesize the apology locally.
		log.Error().Err(err).Msg("completion turn failed to run")
		apology := models.Message{
			ID:        uuid.New(),
			Role:      models.RoleAssistant,
			Content:   s.deps.Apology,
			Model:     input.Candidates[0],
			CreatedAt: time.Now().UTC(),
		}
		s.messages = append(s.messages, apology)
		return s.response(userMsg, apology), nil
	}

	if output.Failed {
		log.Warn().Str("model", output.AssistantMessage.Model).Str("error", output.ErrorMessage).Msg("completion failed, replying with apology")
	}

	s.messages = append(s.messages, output.AssistantMessage)
	s.lastModel = output.AssistantMessage.Model
	if output.Created {
		id := output.ConversationID
		s.conversationID = &id
	}
	return s.response(userMsg, output.AssistantMessage), nil
}

// candidates builds the ordered model list for one request. An explicitly
// pinned model takes precedence over the heuristic and gets one robust
// fallback behind it; otherwise the routed choice is the sole candidate.
func (s *Session) candidates(content string) []string {
	if s.pinnedModel != "" {
		if s.pinnedModel == s.deps.FallbackModel {
			return []string{s.pinnedModel}
		}
		return []string{s.pinnedModel, s.deps.FallbackModel}
	}
	return []string{s.deps.Router.SelectModel(content)}
}

// SelectModel pins a model for subsequent turns. Passing an empty id returns
// to heuristic routing. Like submit, a pin change is only accepted while the
// session is not waiting on a completion.
func (s *Session) SelectModel(modelID string) error {
	if modelID != "" && s.deps.KnownModel != nil && !s.deps.KnownModel(modelID) {
		return ErrUnknownModel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingResponse {
		return ErrBusy
	}
	s.pinnedModel = modelID
	return nil
}

// ClearMessages resets the in-memory history to a fresh greeting and detaches
// the session from its persisted record. The stored conversation is not
// deleted; the next turn creates a new one. Returns false, leaving the
// history untouched, while a turn is in flight. Callers holding the session
// in a registry must drop its old key so the stored conversation stays
// reachable by id.
func (s *Session) ClearMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateAwaitingResponse {
		return false
	}
	s.reset()
	s.state = StateReady
	return true
}

func (s *Session) reset() {
	s.conversationID = nil
	s.messages = []models.Message{{
		ID:        uuid.New(),
		Role:      models.RoleAssistant,
		Content:   s.deps.Greeting,
		CreatedAt: time.Now().UTC(),
	}}
}

func (s *Session) response(userMsg, assistantMsg models.Message) models.SubmitResponse {
	return models.SubmitResponse{
		ConversationID:   s.conversationID,
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	}
}

// Messages returns a copy of the in-memory history.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message{}, s.messages...)
}

// IsAwaiting reports whether a completion turn is in flight.
func (s *Session) IsAwaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateAwaitingResponse
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the persisted id, or nil for an unpersisted session.
func (s *Session) ConversationID() *uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == nil {
		return nil
	}
	id := *s.conversationID
	return &id
}

// LastModel returns the model that produced the most recent assistant turn.
func (s *Session) LastModel() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastModel
}
