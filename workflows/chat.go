package workflows

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"echomind/models"
	"echomind/services"
	"echomind/store"
)

// ChatWorkflows contains DBOS workflows for chat operations
type ChatWorkflows struct {
	dispatcher *services.Dispatcher
	store      *store.ConversationStore
	apology    string
}

// NewChatWorkflows creates a new ChatWorkflows instance
func NewChatWorkflows(dispatcher *services.Dispatcher, convStore *store.ConversationStore, apology string) *ChatWorkflows {
	return &ChatWorkflows{
		dispatcher: dispatcher,
		store:      convStore,
		apology:    apology,
	}
}

// TurnInput contains the input for the completion turn workflow. Messages is
// the full in-memory history including the just-appended user message.
type TurnInput struct {
	ConversationID *uuid.UUID
	OwnerID        string
	Candidates     []string
	Messages       []models.Message
}

// TurnOutput contains the output of the completion turn workflow.
type TurnOutput struct {
	AssistantMessage models.Message
	ConversationID   uuid.UUID // uuid.Nil when the turn was never persisted
	Created          bool
	Persisted        bool
	// Failed marks a dispatch failure; AssistantMessage then carries the
	// apology text instead of a model reply.
	Failed       bool
	ErrorMessage string
}

// dispatchResult is the serialized outcome of the dispatch step. Failures are
// folded into the struct rather than returned as step errors, so a fatal API
// error does not trigger durable retries of a call that would fail again.
type dispatchResult struct {
	Reply        string
	Model        string
	Failed       bool
	ErrorMessage string
}

// CompletionTurnWorkflow is a durable workflow driving one conversation turn:
// dispatch the message history across the candidate models, then persist the
// grown conversation. If the process dies between the steps, recovery resumes
// after the completed dispatch instead of paying for it twice.
func (w *ChatWorkflows) CompletionTurnWorkflow(ctx dbos.DBOSContext, input TurnInput) (TurnOutput, error) {
	var output TurnOutput

	// Step 1: drive the candidate models in order (durable step)
	res, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (dispatchResult, error) {
		reply, model, derr := w.dispatcher.Dispatch(stepCtx, input.Candidates, input.Messages)
		if derr != nil {
			return dispatchResult{Model: model, Failed: true, ErrorMessage: derr.Error()}, nil
		}
		return dispatchResult{Reply: reply, Model: model}, nil
	})
	if err != nil {
		return output, err
	}

	// Step 2: stamp the assistant message (durable step, the id and time must
	// not change on recovery)
	assistantMsg, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (models.Message, error) {
		content := res.Reply
		if res.Failed {
			content = w.apology
		}
		return models.Message{
			ID:        uuid.New(),
			Role:      models.RoleAssistant,
			Content:   content,
			Model:     res.Model,
			CreatedAt: time.Now().UTC(),
		}, nil
	})
	if err != nil {
		return output, err
	}
	output.AssistantMessage = assistantMsg
	output.Failed = res.Failed
	output.ErrorMessage = res.ErrorMessage

	// Step 3: persist the full message list, creating the record on the first
	// turn. An apology turn is stored like any other. Persistence failures are
	// logged, not fatal; the in-memory history stays authoritative.
	persisted, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (persistResult, error) {
		return w.persist(stepCtx, input, assistantMsg), nil
	})
	if err != nil {
		return output, err
	}
	output.ConversationID = persisted.ID
	output.Created = persisted.Created
	output.Persisted = persisted.Persisted

	return output, nil
}

type persistResult struct {
	ID        uuid.UUID
	Created   bool
	Persisted bool
}

func (w *ChatWorkflows) persist(ctx context.Context, input TurnInput, assistantMsg models.Message) persistResult {
	messages := append(append([]models.Message{}, input.Messages...), assistantMsg)
	conv := models.Conversation{
		OwnerID:  input.OwnerID,
		Title:    deriveTitle(messages),
		Preview:  derivePreview(messages),
		Model:    assistantMsg.Model,
		Messages: messages,
	}

	if input.ConversationID == nil {
		created, err := w.store.Create(ctx, conv)
		if err != nil {
			log.Warn().Err(err).Str("owner_id", input.OwnerID).Msg("failed to create conversation record")
			return persistResult{}
		}
		return persistResult{ID: created.ID, Created: true, Persisted: true}
	}

	if err := w.store.Update(ctx, *input.ConversationID, conv); err != nil {
		log.Warn().Err(err).Str("conversation_id", input.ConversationID.String()).Msg("failed to update conversation record")
		return persistResult{ID: *input.ConversationID}
	}
	return persistResult{ID: *input.ConversationID, Persisted: true}
}

const (
	titleRunes   = 30
	previewRunes = 80
)

// deriveTitle summarizes a conversation as its first user message.
func deriveTitle(messages []models.Message) string {
	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			return truncateRunes(msg.Content, titleRunes)
		}
	}
	return ""
}

// derivePreview is the tail of the conversation: the last assistant reply.
func derivePreview(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return truncateRunes(messages[i].Content, previewRunes)
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

// DBOSTurnRunner runs completion turns through a registered DBOS workflow.
type DBOSTurnRunner struct {
	dbosCtx   dbos.DBOSContext
	workflows *ChatWorkflows
}

func NewDBOSTurnRunner(dbosCtx dbos.DBOSContext, wf *ChatWorkflows) *DBOSTurnRunner {
	return &DBOSTurnRunner{dbosCtx: dbosCtx, workflows: wf}
}

// RunTurn starts the durable workflow and waits for its result.
func (r *DBOSTurnRunner) RunTurn(ctx context.Context, input TurnInput) (TurnOutput, error) {
	handle, err := dbos.RunWorkflow(r.dbosCtx, r.workflows.CompletionTurnWorkflow, input)
	if err != nil {
		return TurnOutput{}, err
	}
	return handle.GetResult()
}
