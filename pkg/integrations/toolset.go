package integrations

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/relaydesk/internal/observability"
	"github.com/relaydesk/relaydesk/pkg/tools"
	"github.com/relaydesk/relaydesk/pkg/transport"
)

// ToolSet holds the tool sources produced by one orchestration pass. The
// set exclusively owns its sources; they are released together via
// Cleanup.
type ToolSet struct {
	sources []transport.ToolSource

	cleanupOnce sync.Once
}

// NewToolSet wraps already-constructed sources into a set. The
// orchestrator is the usual producer; direct construction exists for
// composing a set out-of-band.
func NewToolSet(sources []transport.ToolSource) *ToolSet {
	return &ToolSet{sources: sources}
}

// Sources returns every tool source in the set.
func (ts *ToolSet) Sources() []transport.ToolSource {
	return ts.sources
}

// Hosted returns the hosted references in the set; the model provider
// connects to these directly.
func (ts *ToolSet) Hosted() []*transport.HostedSource {
	var hosted []*transport.HostedSource
	for _, source := range ts.sources {
		if h, ok := source.(*transport.HostedSource); ok {
			hosted = append(hosted, h)
		}
	}
	return hosted
}

// Tools enumerates the tools of every server-type source. Hosted sources
// are skipped: their catalogs live with the remote provider. An
// enumeration failure drops that source's tools, never the whole set.
func (ts *ToolSet) Tools(ctx context.Context) []tools.ToolDefinition {
	var defs []tools.ToolDefinition
	for _, source := range ts.sources {
		if source.Kind() != transport.SourceKindServer {
			continue
		}
		sourceTools, err := source.Tools(ctx)
		if err != nil {
			log.Warn().
				Err(err).
				Str("integration", source.Integration()).
				Msg("Failed to enumerate tools")
			continue
		}
		defs = append(defs, sourceTools...)
	}
	return defs
}

// Cleanup closes every tool source concurrently. Close failures are
// logged and collected, never propagated: one failed close must not block
// the others. Calling Cleanup twice is a no-op.
func (ts *ToolSet) Cleanup() {
	ts.cleanupOnce.Do(func() {
		var wg sync.WaitGroup
		for _, source := range ts.sources {
			wg.Add(1)
			go func(source transport.ToolSource) {
				defer wg.Done()
				if err := source.Close(); err != nil {
					log.Warn().
						Err(err).
						Str("integration", source.Integration()).
						Msg("Failed to close tool source")
				}
			}(source)
		}
		wg.Wait()

		observability.AddToolSourcesOpen(-len(ts.sources))
	})
}
