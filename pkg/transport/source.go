package transport

import (
	"context"

	"github.com/relaydesk/relaydesk/pkg/tools"
)

// SourceKind distinguishes hosted tool references from connected server
// handles.
type SourceKind string

const (
	// SourceKindHosted is a reference delegated entirely to a remote
	// provider; it holds no local connection
	SourceKindHosted SourceKind = "hosted"
	// SourceKindServer is a live connection to a tool server
	SourceKindServer SourceKind = "server"
)

// ToolSource is the runtime artifact produced by a transport adapter. A
// source is exclusively owned by the orchestrator that created it and is
// released via Close. Close is idempotent for every implementation.
type ToolSource interface {
	// Integration returns the name of the integration this source serves
	Integration() string

	// Kind reports whether this is a hosted reference or a server handle
	Kind() SourceKind

	// Connect establishes the underlying connection. It is a no-op for
	// hosted sources. For server sources it is the last step of a
	// successful construction; a source that fails to connect is closed
	// and discarded, never kept half-connected.
	Connect(ctx context.Context) error

	// Tools enumerates the tools the source exposes, with handlers bound
	// to this source. Hosted sources return ErrHostedNotEnumerable.
	Tools(ctx context.Context) ([]tools.ToolDefinition, error)

	// Close releases the source. Closing twice is a benign no-op.
	Close() error
}

// HostedSource is a hosted-tool reference: the model provider connects to
// the remote endpoint itself, authenticated with a short-lived minted
// bearer token. It is not independently enumerable and holds no local
// connection.
type HostedSource struct {
	integration string

	// RemoteURL is the provider-managed proxy endpoint
	RemoteURL string
	// Label identifies the remote server to the provider
	Label string
	// AuthToken is the minted bearer token, empty when minting is not
	// configured
	AuthToken string

	// selectedTools is carried for reporting only; hosted transports
	// cannot filter individual tools
	selectedTools []string
}

// Integration returns the integration name
func (s *HostedSource) Integration() string { return s.integration }

// Kind returns SourceKindHosted
func (s *HostedSource) Kind() SourceKind { return SourceKindHosted }

// Connect is a no-op; hosted sources hold no local connection
func (s *HostedSource) Connect(ctx context.Context) error { return nil }

// Tools returns ErrHostedNotEnumerable: the tool catalog lives with the
// remote provider.
func (s *HostedSource) Tools(ctx context.Context) ([]tools.ToolDefinition, error) {
	return nil, ErrHostedNotEnumerable
}

// Close is a no-op
func (s *HostedSource) Close() error { return nil }

// IgnoredToolSelection reports the selected-tools list that has no runtime
// effect on this transport, so callers can surface the limitation instead
// of hiding it.
func (s *HostedSource) IgnoredToolSelection() []string { return s.selectedTools }
