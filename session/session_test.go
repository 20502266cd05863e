package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echomind/models"
	"echomind/services"
	"echomind/store"
	"echomind/workflows"
)

const (
	testGreeting = "你好！我是 EchoMind AI 助手。"
	testApology  = "抱歉，我現在無法正確處理您的訊息。請稍後再試。"
	simpleModel  = "llama-3.1-8b-instant"
	complexModel = "deepseek-r1-distill-qwen-32b"
)

// fakeRunner records turn inputs and plays back scripted outputs.
type fakeRunner struct {
	inputs  []workflows.TurnInput
	output  workflows.TurnOutput
	err     error
	started chan struct{}
	release chan struct{}
}

func (r *fakeRunner) RunTurn(_ context.Context, input workflows.TurnInput) (workflows.TurnOutput, error) {
	r.inputs = append(r.inputs, input)
	if r.started != nil {
		close(r.started)
		r.started = nil
	}
	if r.release != nil {
		<-r.release
	}
	return r.output, r.err
}

type fakeLoader struct {
	conversations map[uuid.UUID]models.Conversation
	err           error
	calls         int
}

func (l *fakeLoader) GetByID(_ context.Context, id uuid.UUID) (models.Conversation, error) {
	l.calls++
	if l.err != nil {
		return models.Conversation{}, l.err
	}
	conv, ok := l.conversations[id]
	if !ok {
		return models.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}

func testDeps(runner TurnRunner) Deps {
	return Deps{
		Runner: runner,
		Router: services.NewModelRouter(
			[]string{"為什麼", "如何", "分析", "code"}, simpleModel, complexModel),
		Greeting:      testGreeting,
		Apology:       testApology,
		FallbackModel: simpleModel,
		KnownModel: func(id string) bool {
			return id == simpleModel || id == complexModel
		},
	}
}

func assistantReply(content, model string) workflows.TurnOutput {
	return workflows.TurnOutput{
		AssistantMessage: models.Message{
			ID:        uuid.New(),
			Role:      models.RoleAssistant,
			Content:   content,
			Model:     model,
			CreatedAt: time.Now().UTC(),
		},
		Persisted: true,
	}
}

func TestNewSessionSeedsGreeting(t *testing.T) {
	s := New(testDeps(&fakeRunner{}), "user-1")

	require.Equal(t, StateReady, s.State())
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleAssistant, msgs[0].Role)
	assert.Equal(t, testGreeting, msgs[0].Content)
	assert.Nil(t, s.ConversationID())
}

func TestSubmitEmptyInputIsNoOp(t *testing.T) {
	runner := &fakeRunner{}
	s := New(testDeps(runner), "user-1")

	for _, input := range []string{"", "   ", "\t\n "} {
		_, err := s.Submit(context.Background(), input)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}
	assert.Len(t, s.Messages(), 1)
	assert.Empty(t, runner.inputs)
}

func TestSubmitHeuristicRoutingAndCreate(t *testing.T) {
	convID := uuid.New()
	runner := &fakeRunner{output: workflows.TurnOutput{
		AssistantMessage: models.Message{
			ID: uuid.New(), Role: models.RoleAssistant,
			Content: "因為程式設計能培養邏輯思維。", Model: complexModel,
			CreatedAt: time.Now().UTC(),
		},
		ConversationID: convID,
		Created:        true,
		Persisted:      true,
	}}
	s := New(testDeps(runner), "user-1")

	resp, err := s.Submit(context.Background(), "為什麼要學程式設計？")
	require.NoError(t, err)

	// 為什麼 is a complexity indicator: a single routed candidate.
	require.Len(t, runner.inputs, 1)
	input := runner.inputs[0]
	assert.Equal(t, []string{complexModel}, input.Candidates)
	assert.Nil(t, input.ConversationID)
	assert.Equal(t, "user-1", input.OwnerID)

	// History grew from 1 (greeting) to 3: user then assistant.
	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, models.RoleUser, msgs[1].Role)
	assert.Equal(t, "為什麼要學程式設計？", msgs[1].Content)
	assert.Equal(t, models.RoleAssistant, msgs[2].Role)
	assert.Equal(t, complexModel, msgs[2].Model)

	// The session adopted the id assigned on create.
	require.NotNil(t, s.ConversationID())
	assert.Equal(t, convID, *s.ConversationID())
	require.NotNil(t, resp.ConversationID)
	assert.Equal(t, convID, *resp.ConversationID)
	assert.Equal(t, complexModel, s.LastModel())
	assert.Equal(t, StateReady, s.State())
}

func TestSubmitSimpleContentRoutesToSimpleModel(t *testing.T) {
	runner := &fakeRunner{output: assistantReply("哈囉！", simpleModel)}
	s := New(testDeps(runner), "user-1")

	_, err := s.Submit(context.Background(), "你好")
	require.NoError(t, err)
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, []string{simpleModel}, runner.inputs[0].Candidates)
}

func TestSubmitSecondTurnCarriesConversationID(t *testing.T) {
	convID := uuid.New()
	runner := &fakeRunner{output: workflows.TurnOutput{
		AssistantMessage: models.Message{ID: uuid.New(), Role: models.RoleAssistant, Content: "好", Model: simpleModel},
		ConversationID:   convID,
		Created:          true,
		Persisted:        true,
	}}
	s := New(testDeps(runner), "user-1")

	_, err := s.Submit(context.Background(), "你好")
	require.NoError(t, err)

	runner.output = assistantReply("再見", simpleModel)
	_, err = s.Submit(context.Background(), "再見")
	require.NoError(t, err)

	require.Len(t, runner.inputs, 2)
	require.NotNil(t, runner.inputs[1].ConversationID)
	assert.Equal(t, convID, *runner.inputs[1].ConversationID)
	// The second turn replays the full ordered history plus the new message.
	require.Len(t, runner.inputs[1].Messages, 4)
	assert.Equal(t, "再見", runner.inputs[1].Messages[3].Content)
}

func TestSubmitPinnedModelTakesPrecedence(t *testing.T) {
	runner := &fakeRunner{output: assistantReply("ok", complexModel)}
	s := New(testDeps(runner), "user-1")

	require.NoError(t, s.SelectModel(complexModel))
	// Content with no complexity indicator still goes to the pinned model,
	// backed by the robust fallback.
	_, err := s.Submit(context.Background(), "你好")
	require.NoError(t, err)
	require.Len(t, runner.inputs, 1)
	assert.Equal(t, []string{complexModel, simpleModel}, runner.inputs[0].Candidates)
}

func TestSubmitPinnedFallbackModelHasSingleCandidate(t *testing.T) {
	runner := &fakeRunner{output: assistantReply("ok", simpleModel)}
	s := New(testDeps(runner), "user-1")

	require.NoError(t, s.SelectModel(simpleModel))
	_, err := s.Submit(context.Background(), "分析一下")
	require.NoError(t, err)
	assert.Equal(t, []string{simpleModel}, runner.inputs[0].Candidates)
}

func TestSelectModelUnknownID(t *testing.T) {
	s := New(testDeps(&fakeRunner{}), "user-1")
	assert.ErrorIs(t, s.SelectModel("gpt-99"), ErrUnknownModel)
	require.NoError(t, s.SelectModel(complexModel))
	require.NoError(t, s.SelectModel("")) // back to heuristic routing
}

func TestSubmitDispatchFailureYieldsApology(t *testing.T) {
	runner := &fakeRunner{output: workflows.TurnOutput{
		AssistantMessage: models.Message{
			ID: uuid.New(), Role: models.RoleAssistant,
			Content: testApology, Model: simpleModel,
		},
		Failed:       true,
		ErrorMessage: "status 500: upstream exploded",
		Persisted:    true,
	}}
	s := New(testDeps(runner), "user-1")

	resp, err := s.Submit(context.Background(), "你好")
	require.NoError(t, err)
	assert.Equal(t, testApology, resp.AssistantMessage.Content)

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, testApology, msgs[2].Content)
	assert.Equal(t, StateReady, s.State())
}

func TestSubmitRunnerErrorYieldsLocalApology(t *testing.T) {
	runner := &fakeRunner{err: errors.New("workflow engine down")}
	s := New(testDeps(runner), "user-1")

	resp, err := s.Submit(context.Background(), "你好")
	require.NoError(t, err)
	assert.Equal(t, testApology, resp.AssistantMessage.Content)
	assert.Equal(t, simpleModel, resp.AssistantMessage.Model)
	assert.Len(t, s.Messages(), 3)
	assert.Equal(t, StateReady, s.State())
}

func TestSubmitRejectsConcurrentTurn(t *testing.T) {
	runner := &fakeRunner{
		output:  assistantReply("ok", simpleModel),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := New(testDeps(runner), "user-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := s.Submit(context.Background(), "第一句")
		assert.NoError(t, err)
	}()

	<-runner.started
	assert.True(t, s.IsAwaiting())
	_, err := s.Submit(context.Background(), "第二句")
	assert.ErrorIs(t, err, ErrBusy)

	// Pin changes and clears are gated the same way while a turn runs.
	assert.ErrorIs(t, s.SelectModel(simpleModel), ErrBusy)
	assert.False(t, s.ClearMessages())
	assert.Len(t, s.Messages(), 2) // greeting plus the in-flight user message

	close(runner.release)
	<-done
	assert.Equal(t, StateReady, s.State())
	// Only the first submit reached the runner.
	assert.Len(t, runner.inputs, 1)
}

func TestLoadAdoptsStoredConversation(t *testing.T) {
	convID := uuid.New()
	loader := &fakeLoader{conversations: map[uuid.UUID]models.Conversation{
		convID: {
			ID:      convID,
			OwnerID: "user-1",
			Model:   complexModel,
			Messages: []models.Message{
				{ID: uuid.New(), Role: models.RoleAssistant, Content: testGreeting},
				{ID: uuid.New(), Role: models.RoleUser, Content: "嗨"},
			},
		},
	}}

	s, err := Load(context.Background(), loader, testDeps(&fakeRunner{}), "user-1", convID)
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
	assert.Len(t, s.Messages(), 2)
	assert.Equal(t, complexModel, s.LastModel())
	require.NotNil(t, s.ConversationID())
	assert.Equal(t, convID, *s.ConversationID())
}

func TestLoadOwnershipMismatchFailsToLoad(t *testing.T) {
	convID := uuid.New()
	loader := &fakeLoader{conversations: map[uuid.UUID]models.Conversation{
		convID: {
			ID:      convID,
			OwnerID: "someone-else",
			Messages: []models.Message{
				{ID: uuid.New(), Role: models.RoleUser, Content: "秘密"},
			},
		},
	}}

	s, err := Load(context.Background(), loader, testDeps(&fakeRunner{}), "user-1", convID)
	assert.ErrorIs(t, err, ErrFailedToLoad)
	assert.Equal(t, StateFailedToLoad, s.State())
	// The stored content is never adopted.
	assert.Empty(t, s.Messages())

	_, err = s.Submit(context.Background(), "你好")
	assert.ErrorIs(t, err, ErrFailedToLoad)
}

func TestLoadMissingConversationFailsToLoad(t *testing.T) {
	loader := &fakeLoader{conversations: map[uuid.UUID]models.Conversation{}}

	s, err := Load(context.Background(), loader, testDeps(&fakeRunner{}), "user-1", uuid.New())
	assert.ErrorIs(t, err, ErrFailedToLoad)
	assert.Equal(t, StateFailedToLoad, s.State())
}

func TestLoadStoreTransportFailureKeepsItsError(t *testing.T) {
	loader := &fakeLoader{err: &store.StoreError{Op: "get", Err: errors.New("connection refused")}}

	s, err := Load(context.Background(), loader, testDeps(&fakeRunner{}), "user-1", uuid.New())
	require.Error(t, err)
	// A transport failure is not "conversation not found".
	assert.NotErrorIs(t, err, ErrFailedToLoad)
	var storeErr *store.StoreError
	assert.ErrorAs(t, err, &storeErr)
	assert.Equal(t, StateFailedToLoad, s.State())
}

func TestClearMessagesResetsToGreeting(t *testing.T) {
	convID := uuid.New()
	runner := &fakeRunner{output: workflows.TurnOutput{
		AssistantMessage: models.Message{ID: uuid.New(), Role: models.RoleAssistant, Content: "好", Model: simpleModel},
		ConversationID:   convID,
		Created:          true,
		Persisted:        true,
	}}
	s := New(testDeps(runner), "user-1")

	_, err := s.Submit(context.Background(), "你好")
	require.NoError(t, err)
	require.NotNil(t, s.ConversationID())

	require.True(t, s.ClearMessages())

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, testGreeting, msgs[0].Content)
	// The persisted record is untouched but the session detaches from it.
	assert.Nil(t, s.ConversationID())

	// The next turn creates a fresh record.
	runner.output = assistantReply("ok", simpleModel)
	_, err = s.Submit(context.Background(), "你好")
	require.NoError(t, err)
	assert.Nil(t, runner.inputs[1].ConversationID)
}
