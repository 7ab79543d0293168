// Package integrations turns an agent's configured integration list into
// the union of available tool sources, tolerating individual failures. A
// single malformed or unreachable integration never prevents construction
// with the remaining healthy ones.
package integrations

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/relaydesk/relaydesk/internal/observability"
	"github.com/relaydesk/relaydesk/internal/tracing"
	"github.com/relaydesk/relaydesk/pkg/credentials"
	"github.com/relaydesk/relaydesk/pkg/transport"
)

// Integration is a persisted third-party integration record.
type Integration struct {
	ID          string                 `json:"id"`
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Credentials map[string]interface{} `json:"credentials"`
	IsActive    bool                   `json:"is_active"`
}

// AgentIntegration joins an agent to one integration with per-agent
// settings.
type AgentIntegration struct {
	IntegrationID string                 `json:"integration_id"`
	Integration   *Integration           `json:"integration"`
	IsEnabled     bool                   `json:"is_enabled"`
	SelectedTools []string               `json:"selected_tools"`
	Config        map[string]interface{} `json:"config"`
}

// BuildReport summarizes one orchestration pass for observability.
type BuildReport struct {
	// Attempted counts integrations that were enabled, active and
	// dispatched to an adapter
	Attempted int
	// Succeeded counts integrations that produced a connected tool source
	Succeeded int
	// Failed counts integrations dropped for configuration, credential or
	// connection reasons
	Failed int
	// Warnings carries configuration that was accepted but has no runtime
	// effect, so callers can surface it instead of hiding it
	Warnings []string
}

// Orchestrator dispatches integrations to transport adapters and
// aggregates the resulting tool sources.
type Orchestrator struct {
	adapters *transport.AdapterSet
	resolver credentials.Resolver
}

// NewOrchestrator creates an orchestrator over the given adapter set. A
// nil resolver falls back to plaintext passthrough.
func NewOrchestrator(adapters *transport.AdapterSet, resolver credentials.Resolver) *Orchestrator {
	if resolver == nil {
		resolver = credentials.PassthroughResolver{}
	}
	return &Orchestrator{adapters: adapters, resolver: resolver}
}

type buildOutcome struct {
	transportType string
	source        transport.ToolSource
	warning       string
	failed        bool
}

// Build constructs tool sources for every enabled integration
// concurrently. Per-integration failures are absorbed here: logged,
// counted in the report, and omitted from the tool set. Server-type
// sources are connected before they are collected; a source that fails to
// connect is closed and dropped.
func (o *Orchestrator) Build(ctx context.Context, agentIntegrations []AgentIntegration) (*ToolSet, BuildReport) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	report := BuildReport{}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []buildOutcome
	)

	for _, ai := range agentIntegrations {
		if !ai.IsEnabled {
			continue
		}
		if ai.Integration == nil || !ai.Integration.IsActive {
			logger.Debug().
				Str("integration_id", ai.IntegrationID).
				Msg("Skipping inactive integration")
			continue
		}

		transportType, err := transport.ParseTransportType(ai.Integration.Type)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("integration", ai.Integration.Name).
				Msg("Skipping integration with unknown transport type")
			report.Attempted++
			report.Failed++
			observability.RecordIntegrationBuild(ai.Integration.Type, "failed")
			continue
		}

		adapter, ok := o.adapters.ForType(transportType)
		if !ok {
			// Vendor-builtin integrations carry no transport; their tools
			// come from the universal registry.
			continue
		}

		report.Attempted++
		ai := ai

		wg.Add(1)
		go func() {
			defer wg.Done()
			out := o.buildOne(ctx, logger, adapter, ai)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}()
	}

	wg.Wait()

	sources := make([]transport.ToolSource, 0, len(outcomes))
	for _, out := range outcomes {
		if out.failed {
			report.Failed++
			observability.RecordIntegrationBuild(out.transportType, "failed")
			continue
		}
		report.Succeeded++
		observability.RecordIntegrationBuild(out.transportType, "succeeded")
		sources = append(sources, out.source)
		if out.warning != "" {
			report.Warnings = append(report.Warnings, out.warning)
		}
	}

	observability.AddToolSourcesOpen(len(sources))

	logger.Info().
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("Integration orchestration complete")

	return NewToolSet(sources), report
}

// buildOne resolves credentials, creates the source and connects it. Every
// failure path returns a failed outcome instead of an error so the caller
// aggregates without unwinding.
func (o *Orchestrator) buildOne(ctx context.Context, logger zerolog.Logger, adapter transport.Adapter, ai AgentIntegration) buildOutcome {
	out := buildOutcome{transportType: ai.Integration.Type}

	creds, err := o.resolver.Resolve(ai.Integration.Credentials)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("integration", ai.Integration.Name).
			Msg("Skipping integration with unresolvable credentials")
		out.failed = true
		return out
	}

	desc := &transport.IntegrationDescriptor{
		Type:          adapter.Type(),
		Name:          ai.Integration.Name,
		Credentials:   creds,
		SelectedTools: ai.SelectedTools,
		Enabled:       ai.IsEnabled,
	}

	source, err := adapter.Create(ctx, desc)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("integration", ai.Integration.Name).
			Str("transport", string(adapter.Type())).
			Msg("Failed to create tool source")
		out.failed = true
		return out
	}

	if err := source.Connect(ctx); err != nil {
		logger.Warn().
			Err(err).
			Str("integration", ai.Integration.Name).
			Str("transport", string(adapter.Type())).
			Msg("Failed to connect tool source")
		source.Close()
		out.failed = true
		return out
	}

	if hosted, ok := source.(*transport.HostedSource); ok {
		if ignored := hosted.IgnoredToolSelection(); len(ignored) > 0 {
			out.warning = fmt.Sprintf(
				"integration %s: tool selection %v has no effect on hosted transports",
				ai.Integration.Name, ignored)
		}
	}

	out.source = source
	return out
}
