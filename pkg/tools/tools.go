package tools

import "context"

// ToolParameter describes one parameter of a callable tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	Integration string          `json:"integration,omitempty"` // integration name for transport-provided tools
}

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// BuiltinProviderTool marks a tool executed inside the model provider
// itself (e.g. web search). It carries no handler; it is forwarded to the
// provider by name.
type BuiltinProviderTool struct {
	Name string `json:"name"`
}

// ToolBundle is the result of resolving the universal tool registry.
type ToolBundle struct {
	CustomTools          []ToolDefinition
	BuiltinProviderTools []BuiltinProviderTool
}
