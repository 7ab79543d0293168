package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/pkg/agent"
	"github.com/relaydesk/relaydesk/pkg/conversation"
	"github.com/relaydesk/relaydesk/pkg/guardrails"
	"github.com/relaydesk/relaydesk/pkg/session"
)

// echoRunner answers every turn with a canned assistant message.
type echoRunner struct {
	turns int
	err   error
}

func (r *echoRunner) RunTurn(ctx context.Context, assembled *agent.AssembledAgent, thread []agent.Message, userInput string) (*agent.TurnResult, error) {
	r.turns++
	if r.err != nil {
		return nil, r.err
	}
	response := "echo: " + userInput
	return &agent.TurnResult{
		Response: response,
		NewMessages: []agent.Message{
			{Role: "user", Content: userInput},
			{Role: "assistant", Content: response},
		},
		Usage: agent.TokenUsage{InputTokens: 3, OutputTokens: 5},
	}, nil
}

type stubBuilder struct{}

func (stubBuilder) Create(ctx context.Context, cfg agent.Configuration) (*agent.AssembledAgent, error) {
	if !cfg.IsActive {
		return nil, agent.ErrAgentInactive
	}
	return &agent.AssembledAgent{Instructions: cfg.Instructions, Model: cfg.Model}, nil
}

func activeLoader(ctx context.Context, organizationID, agentID string) (agent.Configuration, error) {
	return agent.Configuration{
		ID:           agentID,
		Instructions: "You help customers.",
		Model:        "claude-sonnet-4-20250514",
		IsActive:     true,
	}, nil
}

type testEnv struct {
	server        *Server
	runner        *echoRunner
	conversations *conversation.Store
	sessions      *session.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conversations, err := conversation.NewStore(filepath.Join(t.TempDir(), "relaydesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conversations.Close() })

	sessions := session.NewStore(conversations, stubBuilder{}, activeLoader, session.Options{})
	t.Cleanup(sessions.Close)

	runner := &echoRunner{}
	server, err := NewServer(ServerOptions{}, sessions, conversations, stubBuilder{}, activeLoader, runner, zerolog.Nop())
	require.NoError(t, err)

	return &testEnv{server: server, runner: runner, conversations: conversations, sessions: sessions}
}

func (e *testEnv) chat(t *testing.T, req ChatRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	e.server.Handler().ServeHTTP(w, r)
	return w
}

func decodeChatResponse(t *testing.T, w *httptest.ResponseRecorder) ChatResponse {
	t.Helper()
	var resp ChatResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestChatStartsNewSession(t *testing.T) {
	env := newTestEnv(t)

	w := env.chat(t, ChatRequest{
		OrganizationID: "org-1",
		AgentID:        "agent-1",
		Message:        "hello",
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeChatResponse(t, w)
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.ConversationID)
	assert.Equal(t, "echo: hello", resp.Response)
	assert.Equal(t, 3, resp.Usage.InputTokens)

	// Both turn messages reached the durable store.
	persisted, err := env.conversations.GetMessages(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.Equal(t, "user", persisted[0].Role)
	assert.Equal(t, "assistant", persisted[1].Role)
}

func TestChatContinuesExistingSession(t *testing.T) {
	env := newTestEnv(t)

	first := decodeChatResponse(t, env.chat(t, ChatRequest{
		OrganizationID: "org-1",
		AgentID:        "agent-1",
		Message:        "turn one",
	}))

	w := env.chat(t, ChatRequest{
		SessionID:      first.SessionID,
		OrganizationID: "org-1",
		Message:        "turn two",
	})
	require.Equal(t, http.StatusOK, w.Code)

	second := decodeChatResponse(t, w)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Equal(t, 2, env.runner.turns)

	persisted, err := env.conversations.GetMessages(context.Background(), first.ConversationID)
	require.NoError(t, err)
	require.Len(t, persisted, 4)
	assert.Equal(t, "turn one", persisted[0].Content)
	assert.Equal(t, "turn two", persisted[2].Content)
}

func TestChatValidatesRequest(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  ChatRequest
	}{
		{
			name: "missing organization",
			req:  ChatRequest{AgentID: "agent-1", Message: "hi"},
		},
		{
			name: "missing message",
			req:  ChatRequest{OrganizationID: "org-1", AgentID: "agent-1"},
		},
		{
			name: "new session without agent",
			req:  ChatRequest{OrganizationID: "org-1", Message: "hi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.chat(t, tt.req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestChatRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader([]byte("{not json")))
	env.server.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatUnknownSessionIsNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.chat(t, ChatRequest{
		SessionID:      "sess_does-not-exist",
		OrganizationID: "org-1",
		Message:        "hi",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, env.runner.turns)
}

func TestChatGuardrailViolationIsUnprocessable(t *testing.T) {
	env := newTestEnv(t)
	env.runner.err = fmt.Errorf("input rejected: %w",
		fmt.Errorf("length-limit: %w", guardrails.ErrViolation))

	w := env.chat(t, ChatRequest{
		OrganizationID: "org-1",
		AgentID:        "agent-1",
		Message:        "hi",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestChatMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	env.server.Handler().ServeHTTP(w, r)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	env.server.Handler().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}
