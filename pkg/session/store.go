package session

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/relaydesk/internal/observability"
	"github.com/relaydesk/relaydesk/internal/tracing"
	"github.com/relaydesk/relaydesk/pkg/agent"
	"github.com/relaydesk/relaydesk/pkg/conversation"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// AgentBuilder produces the live agent on a cache miss.
// *agent.Factory is the production implementation.
type AgentBuilder interface {
	Create(ctx context.Context, cfg agent.Configuration) (*agent.AssembledAgent, error)
}

// ConfigLoader resolves the persisted agent configuration backing a
// conversation, so a session can be rebuilt purely from durable state.
type ConfigLoader func(ctx context.Context, organizationID, agentID string) (agent.Configuration, error)

// ConversationStore is the durable backend the cache derives from.
// *conversation.Store is the production implementation.
type ConversationStore interface {
	GetConversations(ctx context.Context, organizationID string, opts conversation.QueryOptions) ([]*conversation.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]agent.Message, error)
	CreateMessage(ctx context.Context, conversationID string, msg agent.Message) error
	UpdateConversation(ctx context.Context, id string) error
}

// Options tunes the cache.
type Options struct {
	// IdleTTL is how long a session may sit untouched before eviction
	IdleTTL time.Duration
	// SweepInterval is how often the background eviction timer fires
	SweepInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.IdleTTL <= 0 {
		o.IdleTTL = defaultIdleTTL
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = defaultSweepInterval
	}
	return o
}

// Store is the TTL-evicted session cache. At most one live Record exists
// per session id process-wide; a record's tool sources are fully closed
// before it leaves the cache.
type Store struct {
	conversations ConversationStore
	factory       AgentBuilder
	loadConfig    ConfigLoader
	opts          Options

	mu      sync.Mutex
	records map[string]*Record
	byAge   activityHeap

	done      chan struct{}
	closeOnce sync.Once
}

// NewStore creates the session store and starts its eviction sweeper.
func NewStore(conversations ConversationStore, factory AgentBuilder, loadConfig ConfigLoader, opts Options) *Store {
	s := &Store{
		conversations: conversations,
		factory:       factory,
		loadConfig:    loadConfig,
		opts:          opts.withDefaults(),
		records:       make(map[string]*Record),
		done:          make(chan struct{}),
	}
	go s.sweeper()
	return s
}

// Get returns the session for the id, rebuilding it from durable state on
// a cache miss. A nil record with a nil error means no conversation exists
// for the session.
func (s *Store) Get(ctx context.Context, sessionID, organizationID string) (*Record, error) {
	now := time.Now()

	s.mu.Lock()
	if rec, ok := s.records[sessionID]; ok && !rec.evicting {
		if now.Sub(rec.LastActivity) > s.opts.IdleTTL {
			// Idle past the TTL: never hand out stale in-memory state.
			// Close it out and fall through to the rebuild path.
			s.beginEvictLocked(rec)
			s.mu.Unlock()
			s.finishEvict(rec, "idle")
		} else {
			rec.LastActivity = now
			heap.Fix(&s.byAge, rec.heapIndex)
			s.mu.Unlock()
			observability.RecordSessionLookup("hit")
			return rec, nil
		}
	} else {
		s.mu.Unlock()
	}

	return s.rebuild(ctx, sessionID, organizationID)
}

// rebuild loads the latest matching conversation and reconstructs an
// equivalent live session from persisted state only.
func (s *Store) rebuild(ctx context.Context, sessionID, organizationID string) (*Record, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	convs, err := s.conversations.GetConversations(ctx, organizationID,
		conversation.QueryOptions{SessionID: sessionID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		observability.RecordSessionLookup("absent")
		return nil, nil
	}
	conv := convs[0]

	thread, err := s.conversations.GetMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	cfg, err := s.loadConfig(ctx, organizationID, conv.AgentID)
	if err != nil {
		return nil, fmt.Errorf("loading agent configuration: %w", err)
	}

	assembled, err := s.factory.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		SessionID:      sessionID,
		OrganizationID: organizationID,
		AgentID:        conv.AgentID,
		ConversationID: conv.ID,
		Thread:         thread,
		Agent:          assembled,
		LastActivity:   time.Now(),
		heapIndex:      -1,
	}

	s.mu.Lock()
	if existing, ok := s.records[sessionID]; ok && !existing.evicting {
		// Lost a rebuild race; only one live record per session id.
		s.mu.Unlock()
		assembled.Cleanup()
		return existing, nil
	}
	s.records[sessionID] = rec
	heap.Push(&s.byAge, rec)
	observability.SetCachedSessions(len(s.records))
	s.mu.Unlock()

	observability.RecordSessionLookup("miss")
	logger.Debug().
		Str("session_id", sessionID).
		Str("conversation_id", conv.ID).
		Int("thread_len", len(thread)).
		Msg("Session rebuilt from durable store")

	return rec, nil
}

// Set inserts a session explicitly, replacing (and closing) any live
// record under the same id.
func (s *Store) Set(ctx context.Context, rec *Record) {
	rec.LastActivity = time.Now()
	rec.heapIndex = -1

	s.mu.Lock()
	old, replacing := s.records[rec.SessionID]
	if replacing && !old.evicting {
		s.beginEvictLocked(old)
	} else {
		replacing = false
	}
	s.records[rec.SessionID] = rec
	heap.Push(&s.byAge, rec)
	observability.SetCachedSessions(len(s.records))
	s.mu.Unlock()

	if replacing {
		s.finishEvict(old, "explicit")
	}
}

// AddMessage appends one message to the session's thread. The durable
// store is written first; a durable-write failure is fatal to the turn and
// propagates. The in-memory append afterwards never independently fails.
func (s *Store) AddMessage(ctx context.Context, sessionID, organizationID, conversationID string, msg agent.Message) error {
	if err := s.conversations.CreateMessage(ctx, conversationID, msg); err != nil {
		return err
	}
	if err := s.conversations.UpdateConversation(ctx, conversationID); err != nil {
		// The message itself is durable; a failed activity bump only skews
		// retention ordering.
		logger := tracing.LoggerFromContext(ctx, log.Logger)
		logger.Warn().
			Err(err).
			Str("conversation_id", conversationID).
			Msg("Failed to bump conversation activity")
	}

	s.mu.Lock()
	if rec, ok := s.records[sessionID]; ok && !rec.evicting {
		rec.AppendMessages(msg)
		rec.LastActivity = time.Now()
		heap.Fix(&s.byAge, rec.heapIndex)
	}
	s.mu.Unlock()

	return nil
}

// Delete evicts a session explicitly, closing its tool sources.
func (s *Store) Delete(ctx context.Context, sessionID string) {
	s.mu.Lock()
	rec, ok := s.records[sessionID]
	if !ok || rec.evicting {
		s.mu.Unlock()
		return
	}
	s.beginEvictLocked(rec)
	s.mu.Unlock()

	s.finishEvict(rec, "explicit")
}

// Close stops the sweeper and evicts every cached session, closing all
// tool sources. Used at process shutdown.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })

	s.mu.Lock()
	var all []*Record
	for _, rec := range s.records {
		if !rec.evicting {
			s.beginEvictLocked(rec)
			all = append(all, rec)
		}
	}
	s.mu.Unlock()

	for _, rec := range all {
		s.finishEvict(rec, "shutdown")
	}
}

// beginEvictLocked marks a record as leaving the cache and removes it from
// the eviction heap. Callers hold s.mu.
func (s *Store) beginEvictLocked(rec *Record) {
	rec.evicting = true
	if rec.heapIndex >= 0 {
		heap.Remove(&s.byAge, rec.heapIndex)
	}
}

// finishEvict closes the record's tool sources, then removes it from the
// map. The per-session turn lock is taken so an in-flight turn finishes
// before its transport handles close.
func (s *Store) finishEvict(rec *Record, reason string) {
	rec.Lock()
	if rec.Agent != nil {
		rec.Agent.Cleanup()
	}
	rec.Unlock()

	s.mu.Lock()
	if current, ok := s.records[rec.SessionID]; ok && current == rec {
		delete(s.records, rec.SessionID)
	}
	observability.SetCachedSessions(len(s.records))
	s.mu.Unlock()

	observability.RecordEviction(reason)
	log.Debug().
		Str("session_id", rec.SessionID).
		Str("reason", reason).
		Msg("Session evicted")
}

func (s *Store) sweeper() {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep pops expired records off the activity heap. The heap keeps the
// scan proportional to the number of expired sessions, not the cache
// size; source teardown happens outside the store lock.
func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.opts.IdleTTL)

	var expired []*Record
	s.mu.Lock()
	for len(s.byAge) > 0 && s.byAge[0].LastActivity.Before(cutoff) {
		rec := heap.Pop(&s.byAge).(*Record)
		rec.evicting = true
		expired = append(expired, rec)
	}
	s.mu.Unlock()

	for _, rec := range expired {
		s.finishEvict(rec, "idle")
	}
}

// Len reports the number of cached sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
