package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetAllTools_NoSelection(t *testing.T) {
	r := NewRegistry()
	bundle := r.GetAllTools(nil)

	names := make([]string, 0, len(bundle.CustomTools))
	for _, def := range bundle.CustomTools {
		names = append(names, def.Name)
	}
	assert.Contains(t, names, "current_time")
	assert.Contains(t, names, "calculator")

	require.Len(t, bundle.BuiltinProviderTools, 1)
	assert.Equal(t, "web_search", bundle.BuiltinProviderTools[0].Name)
}

func TestRegistry_GetAllTools_Selection(t *testing.T) {
	r := NewRegistry()

	bundle := r.GetAllTools([]string{"calculator", "web_search", "nonexistent"})
	require.Len(t, bundle.CustomTools, 1)
	assert.Equal(t, "calculator", bundle.CustomTools[0].Name)
	require.Len(t, bundle.BuiltinProviderTools, 1)
	assert.Equal(t, "web_search", bundle.BuiltinProviderTools[0].Name)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	err := r.Register(ToolDefinition{
		Name: "echo",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return params["text"], nil
		},
	})
	require.NoError(t, err)

	bundle := r.GetAllTools([]string{"echo"})
	require.Len(t, bundle.CustomTools, 1)

	out, err := bundle.CustomTools[0].Handler(context.Background(), map[string]interface{}{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(ToolDefinition{Name: ""}))
	assert.Error(t, r.Register(ToolDefinition{Name: "no-handler"}))
}

func TestCalculator(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]interface{}
		want    float64
		wantErr bool
	}{
		{"add", map[string]interface{}{"left": 2.0, "operator": "+", "right": 3.0}, 5, false},
		{"subtract", map[string]interface{}{"left": 2.0, "operator": "-", "right": 3.0}, -1, false},
		{"multiply", map[string]interface{}{"left": 4.0, "operator": "*", "right": 2.5}, 10, false},
		{"divide", map[string]interface{}{"left": 9.0, "operator": "/", "right": 3.0}, 3, false},
		{"divide by zero", map[string]interface{}{"left": 1.0, "operator": "/", "right": 0.0}, 0, true},
		{"bad operator", map[string]interface{}{"left": 1.0, "operator": "^", "right": 2.0}, 0, true},
		{"string operand", map[string]interface{}{"left": "6", "operator": "+", "right": 1.0}, 7, false},
		{"garbage operand", map[string]interface{}{"left": true, "operator": "+", "right": 1.0}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := calculatorHandler(context.Background(), tt.params)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			result := out.(map[string]interface{})["result"].(float64)
			assert.InDelta(t, tt.want, result, 1e-9)
		})
	}
}
