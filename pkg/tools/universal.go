package tools

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Registry holds the universal tools that are available to every agent
// regardless of configured integrations.
type Registry struct {
	mu       sync.RWMutex
	custom   map[string]ToolDefinition
	builtins map[string]BuiltinProviderTool
}

// NewRegistry creates a registry pre-populated with the universal tools.
func NewRegistry() *Registry {
	r := &Registry{
		custom:   make(map[string]ToolDefinition),
		builtins: make(map[string]BuiltinProviderTool),
	}

	for _, def := range universalTools() {
		r.custom[def.Name] = def
	}
	r.builtins["web_search"] = BuiltinProviderTool{Name: "web_search"}

	return r
}

// Register adds or replaces a custom universal tool.
func (r *Registry) Register(def ToolDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.custom[def.Name] = def
	return nil
}

// GetAllTools resolves the universal tool set. A nil or empty selection
// returns everything; otherwise only the named tools are returned, and
// unknown names are logged and skipped.
func (r *Registry) GetAllTools(selected []string) ToolBundle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var bundle ToolBundle

	if len(selected) == 0 {
		for _, def := range r.custom {
			bundle.CustomTools = append(bundle.CustomTools, def)
		}
		for _, b := range r.builtins {
			bundle.BuiltinProviderTools = append(bundle.BuiltinProviderTools, b)
		}
		sortBundle(&bundle)
		return bundle
	}

	for _, name := range selected {
		if def, ok := r.custom[name]; ok {
			bundle.CustomTools = append(bundle.CustomTools, def)
			continue
		}
		if b, ok := r.builtins[name]; ok {
			bundle.BuiltinProviderTools = append(bundle.BuiltinProviderTools, b)
			continue
		}
		log.Debug().Str("tool", name).Msg("Unknown universal tool selected, skipping")
	}

	sortBundle(&bundle)
	return bundle
}

func sortBundle(b *ToolBundle) {
	sort.Slice(b.CustomTools, func(i, j int) bool {
		return b.CustomTools[i].Name < b.CustomTools[j].Name
	})
	sort.Slice(b.BuiltinProviderTools, func(i, j int) bool {
		return b.BuiltinProviderTools[i].Name < b.BuiltinProviderTools[j].Name
	})
}

func universalTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "current_time",
			Description: "Return the current date and time in UTC.",
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				return map[string]interface{}{
					"utc": time.Now().UTC().Format(time.RFC3339),
				}, nil
			},
		},
		{
			Name:        "calculator",
			Description: "Evaluate a basic arithmetic expression with two operands.",
			Parameters: []ToolParameter{
				{Name: "left", Type: "number", Description: "Left operand", Required: true},
				{Name: "operator", Type: "string", Description: "One of + - * /", Required: true},
				{Name: "right", Type: "number", Description: "Right operand", Required: true},
			},
			Handler: calculatorHandler,
		},
	}
}

func calculatorHandler(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	left, err := toFloat(params["left"])
	if err != nil {
		return nil, fmt.Errorf("left operand: %w", err)
	}
	right, err := toFloat(params["right"])
	if err != nil {
		return nil, fmt.Errorf("right operand: %w", err)
	}
	op, _ := params["operator"].(string)

	var result float64
	switch op {
	case "+":
		result = left + right
	case "-":
		result = left - right
	case "*":
		result = left * right
	case "/":
		if right == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		result = left / right
	default:
		return nil, fmt.Errorf("unsupported operator: %q", op)
	}

	return map[string]interface{}{"result": result}, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
