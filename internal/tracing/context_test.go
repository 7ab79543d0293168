package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithOrganizationID(ctx, "org-1")
	ctx = WithAgentID(ctx, "agent-1")
	ctx = WithConversationID(ctx, "conv-1")
	ctx = WithSessionID(ctx, "sess-1")

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "org-1", GetOrganizationID(ctx))
	assert.Equal(t, "agent-1", GetAgentID(ctx))
	assert.Equal(t, "conv-1", GetConversationID(ctx))
	assert.Equal(t, "sess-1", GetSessionID(ctx))
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetOrganizationID(ctx))
	assert.Empty(t, GetAgentID(ctx))
	assert.Empty(t, GetConversationID(ctx))
	assert.Empty(t, GetSessionID(ctx))
}

func TestFromContextAndNewContext(t *testing.T) {
	tc := &TraceContext{
		RequestID:      "req-2",
		OrganizationID: "org-2",
		SessionID:      "sess-2",
	}

	ctx := NewContext(context.Background(), tc)
	got := FromContext(ctx)

	assert.Equal(t, tc.RequestID, got.RequestID)
	assert.Equal(t, tc.OrganizationID, got.OrganizationID)
	assert.Equal(t, tc.SessionID, got.SessionID)
	assert.Empty(t, got.AgentID)
	assert.Empty(t, got.ConversationID)
}

func TestNewTurnContext(t *testing.T) {
	ctx := NewTurnContext(context.Background(), "org-3", "sess-3")

	require.NotEmpty(t, GetRequestID(ctx))
	assert.Equal(t, "org-3", GetOrganizationID(ctx))
	assert.Equal(t, "sess-3", GetSessionID(ctx))

	// Each turn gets a distinct request ID.
	other := NewTurnContext(context.Background(), "org-3", "sess-3")
	assert.NotEqual(t, GetRequestID(ctx), GetRequestID(other))
}

func TestNewRequestID(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
