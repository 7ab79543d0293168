package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaydesk/relaydesk/internal/observability"
	"github.com/relaydesk/relaydesk/internal/tracing"
	"github.com/relaydesk/relaydesk/pkg/guardrails"
	"github.com/relaydesk/relaydesk/pkg/integrations"
	"github.com/relaydesk/relaydesk/pkg/tools"
)

// factoryComputedKeys are stripped from the agent's free-form rules before
// merging, so stored configuration cannot silently override
// runtime-computed values.
var factoryComputedKeys = []string{"tools", "guardrails"}

// Factory is the single entry point producing a runnable agent from
// persisted configuration.
type Factory struct {
	orchestrator *integrations.Orchestrator
	guardrails   *guardrails.Registry
	tools        *tools.Registry
}

// NewFactory creates an agent factory.
func NewFactory(orchestrator *integrations.Orchestrator, guardrailRegistry *guardrails.Registry, toolRegistry *tools.Registry) *Factory {
	return &Factory{
		orchestrator: orchestrator,
		guardrails:   guardrailRegistry,
		tools:        toolRegistry,
	}
}

// Create assembles the agent. Fatal conditions are an inactive agent and
// missing instructions or model; everything integration- or
// guardrail-related is non-fatal and independently logged, so a single
// broken integration never prevents a runnable agent.
func (f *Factory) Create(ctx context.Context, cfg Configuration) (*AssembledAgent, error) {
	ctx, span := tracing.StartSpan(ctx, "agent", "factory.create")
	defer span.End()

	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if !cfg.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrAgentInactive, cfg.ID)
	}
	if cfg.Instructions == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotRunnable, cfg.ID)
	}

	// Partial integration failures proceed: the agent runs with whatever
	// sources came up.
	toolSet, report := f.orchestrator.Build(ctx, cfg.Integrations)
	for _, warning := range report.Warnings {
		logger.Warn().Str("agent_id", cfg.ID).Msg(warning)
	}

	bundle := f.tools.GetAllTools(cfg.SelectedTools)

	merged := make([]tools.ToolDefinition, 0, len(bundle.CustomTools))
	merged = append(merged, bundle.CustomTools...)
	merged = append(merged, toolSet.Tools(ctx)...)

	var inputPipeline, outputPipeline guardrails.Pipeline
	if cfg.Guardrails != nil {
		opts := guardrails.Options{
			Thresholds:         cfg.Guardrails.Thresholds,
			CustomInstructions: cfg.Guardrails.CustomInstructions,
		}
		inputPipeline = f.guardrails.InputGuardrails(cfg.Guardrails.Input, opts)
		outputPipeline = f.guardrails.OutputGuardrails(cfg.Guardrails.Output, opts)
	}

	assembled := &AssembledAgent{
		Instructions:         cfg.Instructions,
		Model:                cfg.Model,
		Tools:                merged,
		BuiltinProviderTools: bundle.BuiltinProviderTools,
		HostedServers:        toolSet.Hosted(),
		InputGuardrails:      inputPipeline,
		OutputGuardrails:     outputPipeline,
		Overrides:            stripComputedKeys(cfg.Rules),
		BuildReport:          report,
		ToolSources:          toolSet,
	}

	observability.RecordAgentBuild(time.Since(start))

	logger.Info().
		Str("agent_id", cfg.ID).
		Str("model", cfg.Model).
		Int("tools", len(assembled.Tools)).
		Int("hosted_servers", len(assembled.HostedServers)).
		Int("integrations_failed", report.Failed).
		Msg("Agent assembled")

	return assembled, nil
}

func stripComputedKeys(rules map[string]interface{}) map[string]interface{} {
	if rules == nil {
		return nil
	}
	overrides := make(map[string]interface{}, len(rules))
	for key, value := range rules {
		overrides[key] = value
	}
	for _, key := range factoryComputedKeys {
		delete(overrides, key)
	}
	return overrides
}
