package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// RequestIDKey is the context key for the inbound request ID
	RequestIDKey ContextKey = "request_id"
	// OrganizationIDKey is the context key for the organization ID
	OrganizationIDKey ContextKey = "organization_id"
	// AgentIDKey is the context key for the agent ID
	AgentIDKey ContextKey = "agent_id"
	// ConversationIDKey is the context key for the conversation ID
	ConversationIDKey ContextKey = "conversation_id"
	// SessionIDKey is the context key for the session ID
	SessionIDKey ContextKey = "session_id"
)

// TraceContext holds the identifiers a chat turn is tagged with. Callers
// pass it explicitly; no ambient/thread-local state is consulted.
type TraceContext struct {
	RequestID      string
	OrganizationID string
	AgentID        string
	ConversationID string
	SessionID      string
}

// NewRequestID generates a new request ID
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithOrganizationID adds an organization ID to the context
func WithOrganizationID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrganizationIDKey, orgID)
}

// WithAgentID adds an agent ID to the context
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// WithConversationID adds a conversation ID to the context
func WithConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetOrganizationID retrieves the organization ID from the context
func GetOrganizationID(ctx context.Context) string {
	if v, ok := ctx.Value(OrganizationIDKey).(string); ok {
		return v
	}
	return ""
}

// GetAgentID retrieves the agent ID from the context
func GetAgentID(ctx context.Context) string {
	if v, ok := ctx.Value(AgentIDKey).(string); ok {
		return v
	}
	return ""
}

// GetConversationID retrieves the conversation ID from the context
func GetConversationID(ctx context.Context) string {
	if v, ok := ctx.Value(ConversationIDKey).(string); ok {
		return v
	}
	return ""
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(SessionIDKey).(string); ok {
		return v
	}
	return ""
}

// FromContext extracts all turn identifiers from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		RequestID:      GetRequestID(ctx),
		OrganizationID: GetOrganizationID(ctx),
		AgentID:        GetAgentID(ctx),
		ConversationID: GetConversationID(ctx),
		SessionID:      GetSessionID(ctx),
	}
}

// NewContext creates a new context carrying the given turn identifiers
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.RequestID != "" {
		ctx = WithRequestID(ctx, tc.RequestID)
	}
	if tc.OrganizationID != "" {
		ctx = WithOrganizationID(ctx, tc.OrganizationID)
	}
	if tc.AgentID != "" {
		ctx = WithAgentID(ctx, tc.AgentID)
	}
	if tc.ConversationID != "" {
		ctx = WithConversationID(ctx, tc.ConversationID)
	}
	if tc.SessionID != "" {
		ctx = WithSessionID(ctx, tc.SessionID)
	}
	return ctx
}

// NewTurnContext creates the context for one inbound chat turn with a fresh
// request ID.
func NewTurnContext(ctx context.Context, orgID, sessionID string) context.Context {
	ctx = WithRequestID(ctx, NewRequestID())
	ctx = WithOrganizationID(ctx, orgID)
	return WithSessionID(ctx, sessionID)
}
