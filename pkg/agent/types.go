// Package agent assembles declarative agent configuration into a live,
// tool-augmented runnable agent and executes chat turns against it.
package agent

import (
	"errors"
	"sync"

	"github.com/relaydesk/relaydesk/pkg/guardrails"
	"github.com/relaydesk/relaydesk/pkg/integrations"
	"github.com/relaydesk/relaydesk/pkg/tools"
	"github.com/relaydesk/relaydesk/pkg/transport"
)

var (
	// ErrAgentInactive is returned when assembly is requested for a
	// deactivated agent configuration. It is fatal to the whole
	// construction: no partial agent is ever produced.
	ErrAgentInactive = errors.New("agent is inactive")

	// ErrNotRunnable is returned when the configuration resolves to no
	// usable instructions or model
	ErrNotRunnable = errors.New("agent has no resolvable instructions or model")
)

// GuardrailSettings declares the guardrail pipelines an agent wants, by
// builtin name. A nil settings block yields empty pipelines.
type GuardrailSettings struct {
	Input              []string           `json:"input"`
	Output             []string           `json:"output"`
	Thresholds         map[string]float64 `json:"thresholds,omitempty"`
	CustomInstructions string             `json:"custom_instructions,omitempty"`
}

// Configuration is the persisted agent configuration consumed from the
// dashboard side of the platform.
type Configuration struct {
	ID           string                          `json:"id"`
	Name         string                          `json:"name"`
	Instructions string                          `json:"instructions"`
	Model        string                          `json:"model"`
	IsActive     bool                            `json:"is_active"`
	// Rules is free-form configuration merged into the assembled agent;
	// keys computed by the factory (tools, guardrails) are stripped before
	// merging
	Rules        map[string]interface{}          `json:"rules,omitempty"`
	// SelectedTools filters the universal tool registry for this agent
	SelectedTools []string                       `json:"selected_tools,omitempty"`
	Guardrails   *GuardrailSettings              `json:"guardrails,omitempty"`
	Integrations []integrations.AgentIntegration `json:"integrations,omitempty"`
}

// Message is one turn entry in a conversation thread.
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption across a turn.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AssembledAgent is one session's live runtime: instructions, model,
// merged tools and guardrail pipelines, plus the transport sources that
// back the integration tools. Immutable once built.
type AssembledAgent struct {
	Instructions string
	Model        string

	// Tools is the ordered merged tool list: universal custom tools first,
	// then integration tools
	Tools []tools.ToolDefinition
	// BuiltinProviderTools are provider-native tools enabled for the agent
	BuiltinProviderTools []tools.BuiltinProviderTool
	// HostedServers are remote tool endpoints the model provider connects
	// to directly
	HostedServers []*transport.HostedSource

	InputGuardrails  guardrails.Pipeline
	OutputGuardrails guardrails.Pipeline

	// Overrides is the agent's free-form rules JSON with factory-computed
	// keys stripped
	Overrides map[string]interface{}

	// BuildReport records how integration orchestration went
	BuildReport integrations.BuildReport

	// ToolSources owns the transport sources backing the integration
	// tools; released via Cleanup
	ToolSources *integrations.ToolSet

	cleanupOnce sync.Once
}

// Cleanup closes every transport source opened during assembly. Calling it
// twice is safe.
func (a *AssembledAgent) Cleanup() {
	a.cleanupOnce.Do(func() {
		if a.ToolSources != nil {
			a.ToolSources.Cleanup()
		}
	})
}

// ToolByName returns the tool definition with the given name.
func (a *AssembledAgent) ToolByName(name string) (tools.ToolDefinition, bool) {
	for _, def := range a.Tools {
		if def.Name == name {
			return def, true
		}
	}
	return tools.ToolDefinition{}, false
}
