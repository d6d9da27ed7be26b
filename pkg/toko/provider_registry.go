package toko

import (
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/toko/pkg/configutil"
	"github.com/harunnryd/toko/pkg/llm"
	"github.com/harunnryd/toko/pkg/metrics"
	"github.com/harunnryd/toko/pkg/providers/mock"
	"github.com/harunnryd/toko/pkg/providers/openai"
	"github.com/harunnryd/toko/pkg/resilience"
)

type LLMFactory func(cfg Config) (llm.LLMAdapter, error)

// ProviderRegistry maps provider names to adapter factories. Factories
// validate and decode their own settings maps.
type ProviderRegistry struct {
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		llm: make(map[string]LLMFactory),
	}
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.LLMAdapter, error) {
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

type openAISettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int    `mapstructure:"circuit_cooldown_ms"`
}

type mockLLMSettings struct {
	ResponseText string         `mapstructure:"response_text"`
	ToolCalls    []mockToolCall `mapstructure:"tool_calls"`
}

type mockToolCall struct {
	ID        string         `mapstructure:"id"`
	Name      string         `mapstructure:"name"`
	Arguments map[string]any `mapstructure:"arguments"`
}

// RegisterDefaultProviders wires the built-in providers. The observer is
// handed to the circuit breaker so breaker events land in the event stream.
func RegisterDefaultProviders(reg *ProviderRegistry, obs metrics.Observer) {
	reg.RegisterLLM("openai", func(cfg Config) (llm.LLMAdapter, error) {
		if err := validateSettings("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Required: []string{"api_key", "model"},
			Optional: []string{"base_url", "use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms"},
		}); err != nil {
			return nil, err
		}
		var settings openAISettings
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.Model, "vendors.llm.settings.model"); err != nil {
			return nil, err
		}
		adapter := openai.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		if !configutil.BoolValue(settings.UseCircuitBreaker, true) {
			return adapter, nil
		}
		threshold := settings.CircuitThreshold
		if threshold == 0 {
			threshold = 3
		}
		cooldown := settings.CircuitCooldownMs
		if cooldown == 0 {
			cooldown = 30000
		}
		breaker := resilience.NewCircuitBreaker(threshold, time.Duration(cooldown)*time.Millisecond)
		wrapped := llm.NewCircuitBreakerAdapter(adapter, breaker)
		if obs != nil {
			wrapped.SetObserver(obs)
		}
		return wrapped, nil
	})

	reg.RegisterLLM("mock", func(cfg Config) (llm.LLMAdapter, error) {
		// The default settings map always carries api_key and model; the
		// mock accepts and ignores them so `provider: mock` works without
		// an explicit settings block.
		if err := validateSettings("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
			Optional: []string{"response_text", "tool_calls", "api_key", "model"},
		}); err != nil {
			return nil, err
		}
		var settings mockLLMSettings
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
			return nil, err
		}
		toolCalls := make([]llm.ToolCall, 0, len(settings.ToolCalls))
		for i, tc := range settings.ToolCalls {
			id := strings.TrimSpace(tc.ID)
			if id == "" {
				id = fmt.Sprintf("mock-tool-%d", i+1)
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:        id,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		return mock.NewLLMAdapter(mock.LLMConfig{
			ResponseText: settings.ResponseText,
			ToolCalls:    toolCalls,
		}), nil
	})
}

func validateSettings(path string, input map[string]any, schema configutil.Schema) error {
	if err := configutil.ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
