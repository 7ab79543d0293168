package transport

import (
	"context"
	"time"
)

// Adapter turns one integration descriptor into a tool source. Create
// validates the descriptor and constructs the source without connecting;
// connecting is the caller's final step so a failed connect never leaves a
// half-built source behind.
type Adapter interface {
	// Type returns the transport type this adapter serves
	Type() TransportType

	// Create builds an unconnected tool source from a descriptor with
	// already-resolved credentials
	Create(ctx context.Context, desc *IntegrationDescriptor) (ToolSource, error)
}

// ReconnectPolicy bounds reconnection attempts for streaming transports.
// The zero value disables reconnection.
type ReconnectPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Enabled reports whether the policy allows any reconnection.
func (p ReconnectPolicy) Enabled() bool { return p.MaxAttempts > 0 }

// BackoffFor returns the delay before the given attempt (1-based),
// doubling from the initial delay and capped at the max.
func (p ReconnectPolicy) BackoffFor(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// AdapterSet holds one adapter per server transport type.
type AdapterSet struct {
	hosted *HostedAdapter
	http   *HTTPAdapter
	stdio  *StdioAdapter
}

// AdapterSetOptions configures the adapter set.
type AdapterSetOptions struct {
	// Minter signs hosted-transport bearer tokens; nil disables minting
	Minter *TokenMinter
	// Reconnect bounds HTTP transport reconnection
	Reconnect ReconnectPolicy
}

// NewAdapterSet creates the full set of transport adapters.
func NewAdapterSet(opts AdapterSetOptions) *AdapterSet {
	return &AdapterSet{
		hosted: NewHostedAdapter(opts.Minter),
		http:   NewHTTPAdapter(opts.Reconnect),
		stdio:  NewStdioAdapter(),
	}
}

// ForType dispatches to the adapter for a transport type. The switch is
// exhaustive over the closed TransportType set; vendor-builtin
// integrations have no transport (their tools come from the universal
// registry) and report ok=false.
func (s *AdapterSet) ForType(t TransportType) (Adapter, bool) {
	switch t {
	case TransportHosted:
		return s.hosted, true
	case TransportHTTP:
		return s.http, true
	case TransportStdio:
		return s.stdio, true
	case TransportVendorBuiltin:
		return nil, false
	default:
		return nil, false
	}
}
