package toko

import (
	"fmt"
	"os"
	"reflect"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
}

type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"`
	Seed          bool   `mapstructure:"seed"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	LLM VendorConfig `mapstructure:"llm"`
}

type AgentConfig struct {
	BasePrompt    string `mapstructure:"base_prompt"`
	Persona       string `mapstructure:"persona"`
	Style         string `mapstructure:"style"`
	MaxToolRounds int    `mapstructure:"max_tool_rounds"`
	MaxHistory    int    `mapstructure:"max_history"`
}

type ObservabilityConfig struct {
	MetricsPath string  `mapstructure:"metrics_path"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

// LoadConfig reads the YAML config at path. Every key has a default, so an
// empty path runs on defaults alone; an explicit path must exist. `${VAR}`
// strings are expanded from the environment after unmarshal.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("database.path", "toko.db")
	v.SetDefault("database.busy_timeout_ms", 5000)
	v.SetDefault("database.seed", true)
	v.SetDefault("vendors.llm.provider", "openai")
	v.SetDefault("vendors.llm.settings", map[string]any{
		"api_key": "${OPENAI_API_KEY}",
		"model":   "gpt-4o-mini",
	})
	v.SetDefault("agent.base_prompt", "")
	v.SetDefault("agent.persona", "")
	v.SetDefault("agent.style", "")
	v.SetDefault("agent.max_tool_rounds", 5)
	v.SetDefault("agent.max_history", 24)
	v.SetDefault("observability.metrics_path", "")
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("privacy.redact_pii", true)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Vendors.LLM.Provider == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if c.Agent.MaxToolRounds < 1 || c.Agent.MaxToolRounds > 20 {
		return fmt.Errorf("agent.max_tool_rounds must be between 1 and 20, got %d", c.Agent.MaxToolRounds)
	}
	if c.Agent.MaxHistory < 1 {
		return fmt.Errorf("agent.max_history must be positive, got %d", c.Agent.MaxHistory)
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		return fmt.Errorf("observability.sample_rate must be within [0, 1], got %v", c.Observability.SampleRate)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
