// Package session sustains multi-turn conversation state across stateless
// requests: a TTL-evicted in-memory cache of live sessions backed by the
// durable conversation store. The cache is a connection-reuse
// optimization, never the source of truth.
package session

import (
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/relaydesk/relaydesk/pkg/agent"
)

// NewSessionID generates a fresh session identifier.
func NewSessionID() string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the system entropy source does.
		panic(err)
	}
	return "sess_" + id
}

// Record is one live cached session: the derived conversation thread plus
// the non-serializable runtime objects (assembled agent, live transport
// handles) that cannot be persisted.
type Record struct {
	SessionID      string
	OrganizationID string
	AgentID        string
	ConversationID string

	// Thread is a rebuildable copy of the persisted conversation
	Thread []agent.Message
	// Agent is this session's live runtime
	Agent *agent.AssembledAgent

	// LastActivity orders the record in the eviction heap; guarded by the
	// store's lock
	LastActivity time.Time

	// turnMu serializes turns on this session: two requests racing to
	// append to one thread take it in order
	turnMu sync.Mutex

	// heapIndex is maintained by the eviction heap; -1 when not enqueued
	heapIndex int
	// evicting marks a record whose sources are being closed; lookups
	// treat it as absent
	evicting bool
}

// Lock acquires the per-session turn lock.
func (r *Record) Lock() { r.turnMu.Lock() }

// Unlock releases the per-session turn lock.
func (r *Record) Unlock() { r.turnMu.Unlock() }

// AppendMessages extends the in-memory thread. The durable store has
// already been written by the time this runs.
func (r *Record) AppendMessages(messages ...agent.Message) {
	r.Thread = append(r.Thread, messages...)
}
