package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// LLMProvider is one model API backend.
type LLMProvider interface {
	// Call makes one model API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the parameters for one model call.
type LLMRequest struct {
	Model        string
	Messages     []Message
	// Tools are function-tool specs in the common map shape
	// {name, description, input_schema}
	Tools        []map[string]interface{}
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse is the model's reply for one call.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ModelProfile carries credentials for one model provider account.
type ModelProfile struct {
	ID       string `json:"id"`
	Provider string `json:"provider"` // "anthropic" or "openai"
	APIKey   string `json:"api_key"`
	Priority int    `json:"priority"`
}

// ProviderFactory creates model providers from configured profiles.
type ProviderFactory struct {
	profiles []ModelProfile
}

// NewProviderFactory creates a factory over the configured profiles.
func NewProviderFactory(profiles []ModelProfile) *ProviderFactory {
	sorted := make([]ModelProfile, len(profiles))
	copy(sorted, profiles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &ProviderFactory{profiles: sorted}
}

// NewProvider creates a provider from one profile.
func (f *ProviderFactory) NewProvider(profile ModelProfile) (LLMProvider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}

// ProviderForModel picks the highest-priority profile matching the model's
// provider family and builds its provider.
func (f *ProviderFactory) ProviderForModel(model string) (LLMProvider, error) {
	family := providerFamily(model)
	for _, profile := range f.profiles {
		if profile.Provider == family {
			return f.NewProvider(profile)
		}
	}
	return nil, fmt.Errorf("no configured provider for model %q", model)
}

func providerFamily(model string) string {
	if strings.HasPrefix(model, "claude") {
		return "anthropic"
	}
	return "openai"
}
