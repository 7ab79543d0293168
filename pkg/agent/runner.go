package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaydesk/relaydesk/internal/observability"
	"github.com/relaydesk/relaydesk/internal/tracing"
	"github.com/relaydesk/relaydesk/pkg/tools"
)

const defaultMaxToolIterations = 8

// RunnerOptions tunes turn execution.
type RunnerOptions struct {
	// MaxToolIterations caps model/tool round trips within one turn
	MaxToolIterations int
	Temperature       float64
	MaxTokens         int
}

// ProviderSelector picks the model provider backing a turn.
// *ProviderFactory is the production implementation.
type ProviderSelector interface {
	ProviderForModel(model string) (LLMProvider, error)
}

// Runner executes chat turns against an assembled agent: it loops the
// model call, executes requested tools, and stops at the first final
// assistant message.
type Runner struct {
	providers ProviderSelector
	opts      RunnerOptions
}

// NewRunner creates a turn runner.
func NewRunner(providers ProviderSelector, opts RunnerOptions) *Runner {
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = defaultMaxToolIterations
	}
	return &Runner{providers: providers, opts: opts}
}

// TurnResult is the outcome of one executed chat turn.
type TurnResult struct {
	// Response is the final assistant text, after output guardrails
	Response string
	// NewMessages are the messages this turn appended to the thread, in
	// order: the user message, any tool exchange, the final assistant
	// message
	NewMessages []Message
	Usage       TokenUsage
}

// RunTurn executes one turn. Input guardrails run before the model sees
// the text; output guardrails run on the final assistant message. A
// guardrail violation fails the turn.
func (r *Runner) RunTurn(ctx context.Context, assembled *AssembledAgent, thread []Message, userInput string) (*TurnResult, error) {
	ctx, span := tracing.StartSpan(ctx, "agent", "agent.turn",
		attribute.String("model", assembled.Model))
	defer span.End()

	start := time.Now()
	defer func() { observability.RecordTurnDuration(time.Since(start)) }()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	input, err := assembled.InputGuardrails.Run(ctx, userInput)
	if err != nil {
		return nil, fmt.Errorf("input rejected: %w", err)
	}

	provider, err := r.providers.ProviderForModel(assembled.Model)
	if err != nil {
		return nil, err
	}

	newMessages := []Message{{Role: "user", Content: input}}
	toolSpecs := buildToolSpecs(assembled.Tools)

	var usage TokenUsage
	for iteration := 0; iteration < r.opts.MaxToolIterations; iteration++ {
		messages := make([]Message, 0, len(thread)+len(newMessages))
		messages = append(messages, thread...)
		messages = append(messages, newMessages...)

		resp, err := provider.Call(ctx, LLMRequest{
			Model:        assembled.Model,
			Messages:     messages,
			Tools:        toolSpecs,
			Temperature:  r.opts.Temperature,
			MaxTokens:    r.opts.MaxTokens,
			SystemPrompt: assembled.Instructions,
		})
		if err != nil {
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		if resp.Usage != nil {
			usage.InputTokens += resp.Usage.InputTokens
			usage.OutputTokens += resp.Usage.OutputTokens
		}

		if len(resp.ToolCalls) == 0 {
			output, err := assembled.OutputGuardrails.Run(ctx, resp.Content)
			if err != nil {
				return nil, fmt.Errorf("output rejected: %w", err)
			}
			newMessages = append(newMessages, Message{Role: "assistant", Content: output})
			return &TurnResult{
				Response:    output,
				NewMessages: newMessages,
				Usage:       usage,
			}, nil
		}

		newMessages = append(newMessages, Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			newMessages = append(newMessages, r.executeTool(ctx, logger, assembled, call))
		}
	}

	return nil, fmt.Errorf("turn exceeded %d tool iterations", r.opts.MaxToolIterations)
}

// executeTool runs one requested tool and wraps the outcome as a tool
// message. Execution failures become tool-visible error text, never a turn
// failure.
func (r *Runner) executeTool(ctx context.Context, logger zerolog.Logger, assembled *AssembledAgent, call ToolCall) Message {
	def, ok := assembled.ToolByName(call.Name)
	if !ok {
		logger.Warn().
			Str("tool", call.Name).
			Msg("Model requested unknown tool")
		return Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("error: unknown tool %q", call.Name),
		}
	}

	result, err := def.Handler(ctx, call.Parameters)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("tool", call.Name).
			Str("integration", def.Integration).
			Msg("Tool execution failed")
		return Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("error: %v", err),
		}
	}

	return Message{
		Role:       "tool",
		ToolCallID: call.ID,
		Content:    marshalToolResult(result),
	}
}

func buildToolSpecs(defs []tools.ToolDefinition) []map[string]interface{} {
	specs := make([]map[string]interface{}, 0, len(defs))
	for _, def := range defs {
		properties := map[string]interface{}{}
		var required []string
		for _, param := range def.Parameters {
			prop := map[string]interface{}{"type": param.Type}
			if param.Description != "" {
				prop["description"] = param.Description
			}
			properties[param.Name] = prop
			if param.Required {
				required = append(required, param.Name)
			}
		}

		schema := map[string]interface{}{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			schema["required"] = required
		}

		specs = append(specs, map[string]interface{}{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": schema,
		})
	}
	return specs
}

func marshalToolResult(result interface{}) string {
	if s, ok := result.(string); ok {
		return s
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(data)
}
