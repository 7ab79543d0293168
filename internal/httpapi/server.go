// Package httpapi exposes the chat turn API: one POST endpoint that runs
// a turn against a cached or freshly rebuilt session, plus health and
// metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaydesk/relaydesk/internal/observability"
	"github.com/relaydesk/relaydesk/internal/tracing"
	"github.com/relaydesk/relaydesk/pkg/agent"
	"github.com/relaydesk/relaydesk/pkg/conversation"
	"github.com/relaydesk/relaydesk/pkg/guardrails"
	"github.com/relaydesk/relaydesk/pkg/session"
)

// ServerOptions configures the chat API server
type ServerOptions struct {
	Host string
	Port int
	// TurnTimeout bounds one chat turn end to end
	TurnTimeout time.Duration
}

// TurnRunner executes one chat turn. *agent.Runner is the production
// implementation.
type TurnRunner interface {
	RunTurn(ctx context.Context, assembled *agent.AssembledAgent, thread []agent.Message, userInput string) (*agent.TurnResult, error)
}

// ConversationCreator opens a durable conversation for a new session.
// *conversation.Store is the production implementation.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, organizationID, agentID, sessionID string) (*conversation.Conversation, error)
}

// Server is the chat API HTTP server
type Server struct {
	options       ServerOptions
	server        *http.Server
	sessions      *session.Store
	conversations ConversationCreator
	factory       session.AgentBuilder
	loadConfig    session.ConfigLoader
	runner        TurnRunner
	logger        zerolog.Logger
	startTime     time.Time

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlightReqs   sync.WaitGroup
}

// NewServer creates a new chat API server
func NewServer(options ServerOptions, sessions *session.Store, conversations ConversationCreator, factory session.AgentBuilder, loadConfig session.ConfigLoader, runner TurnRunner, logger zerolog.Logger) (*Server, error) {
	if options.Port == 0 {
		options.Port = 8080
	}
	if options.Host == "" {
		options.Host = "0.0.0.0"
	}
	if options.TurnTimeout == 0 {
		options.TurnTimeout = 2 * time.Minute
	}

	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if conversations == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}

	return &Server{
		options:       options,
		sessions:      sessions,
		conversations: conversations,
		factory:       factory,
		loadConfig:    loadConfig,
		runner:        runner,
		logger:        logger,
		startTime:     time.Now(),
	}, nil
}

// Handler returns the server's route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/v1/chat", s.handleChat)
	return mux
}

// Start starts the chat API server and blocks until shutdown
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.options.Host, s.options.Port),
		Handler: s.Handler(),
	}

	s.logger.Info().
		Str("host", s.options.Host).
		Int("port", s.options.Port).
		Msg("Starting chat API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start chat API server: %w", err)
	}

	return nil
}

// Stop gracefully stops the server, waiting for in-flight turns
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down chat API server")

	done := make(chan struct{})
	go func() {
		s.inFlightReqs.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight turns completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown chat API server: %w", err)
	}

	s.logger.Info().Msg("Chat API server stopped")
	return nil
}

// ChatRequest is one inbound chat turn. SessionID absent means "start a
// new session", which requires AgentID.
type ChatRequest struct {
	SessionID      string `json:"session_id,omitempty"`
	OrganizationID string `json:"organization_id"`
	AgentID        string `json:"agent_id,omitempty"`
	Message        string `json:"message"`
}

// ChatResponse is the turn outcome returned to the caller
type ChatResponse struct {
	SessionID      string           `json:"session_id"`
	ConversationID string           `json:"conversation_id"`
	Response       string           `json:"response"`
	Usage          agent.TokenUsage `json:"usage"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(s.startTime).Seconds(),
		"sessions":  s.sessions.Len(),
		"timestamp": time.Now().UnixMilli(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OrganizationID == "" {
		s.writeError(w, http.StatusBadRequest, "organization_id is required")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	newSession := req.SessionID == ""
	if newSession {
		if req.AgentID == "" {
			s.writeError(w, http.StatusBadRequest, "agent_id is required to start a session")
			return
		}
		req.SessionID = session.NewSessionID()
	}

	ctx := tracing.NewTurnContext(r.Context(), req.OrganizationID, req.SessionID)
	ctx, cancel := context.WithTimeout(ctx, s.options.TurnTimeout)
	defer cancel()

	logger := tracing.LoggerFromContext(ctx, s.logger)

	var (
		rec *session.Record
		err error
	)
	if newSession {
		rec, err = s.openSession(ctx, req)
	} else {
		rec, err = s.sessions.Get(ctx, req.SessionID, req.OrganizationID)
		if err == nil && rec == nil {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
	}
	if err != nil {
		logger.Error().
			Err(err).
			Str("session_id", req.SessionID).
			Msg("Failed to resolve session")
		s.writeError(w, s.statusForError(err), "failed to resolve session")
		return
	}

	// One writer per session: concurrent turns against the same session
	// serialize here.
	rec.Lock()
	defer rec.Unlock()

	result, err := s.runner.RunTurn(ctx, rec.Agent, rec.Thread, req.Message)

	duration := time.Since(startTime).Milliseconds()

	if err != nil {
		logger.Error().
			Err(err).
			Str("session_id", req.SessionID).
			Int64("duration", duration).
			Msg("Chat turn failed")
		if errors.Is(err, guardrails.ErrViolation) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "chat turn failed")
		return
	}

	// Durable append first, message by message, in turn order. A durable
	// write failure fails the turn even though the model already answered.
	for _, msg := range result.NewMessages {
		if err := s.sessions.AddMessage(ctx, req.SessionID, req.OrganizationID, rec.ConversationID, msg); err != nil {
			logger.Error().
				Err(err).
				Str("session_id", req.SessionID).
				Str("conversation_id", rec.ConversationID).
				Msg("Failed to persist turn message")
			s.writeError(w, http.StatusInternalServerError, "failed to persist turn")
			return
		}
	}

	logger.Info().
		Str("session_id", req.SessionID).
		Str("conversation_id", rec.ConversationID).
		Int("new_messages", len(result.NewMessages)).
		Int64("duration", duration).
		Msg("Chat turn completed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ChatResponse{
		SessionID:      req.SessionID,
		ConversationID: rec.ConversationID,
		Response:       result.Response,
		Usage:          result.Usage,
	})
}

// openSession creates the durable conversation, assembles the agent and
// caches the new session record.
func (s *Server) openSession(ctx context.Context, req ChatRequest) (*session.Record, error) {
	ctx = tracing.WithAgentID(ctx, req.AgentID)

	conv, err := s.conversations.CreateConversation(ctx, req.OrganizationID, req.AgentID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	cfg, err := s.loadConfig(ctx, req.OrganizationID, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("loading agent configuration: %w", err)
	}

	assembled, err := s.factory.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rec := &session.Record{
		SessionID:      req.SessionID,
		OrganizationID: req.OrganizationID,
		AgentID:        req.AgentID,
		ConversationID: conv.ID,
		Agent:          assembled,
	}
	s.sessions.Set(ctx, rec)

	return rec, nil
}

func (s *Server) statusForError(err error) int {
	switch {
	case errors.Is(err, agent.ErrAgentInactive), errors.Is(err, agent.ErrNotRunnable):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
