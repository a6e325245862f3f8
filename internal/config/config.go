package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Triage  TriageConfig
	Storage StorageConfig
	Policy  PolicyConfig
	Audit   AuditConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int

	// APIToken guards the HTTP API when set. Environment-only, like
	// provider credentials; an empty token leaves the API open for
	// local use.
	APIToken string
}

type GatewayConfig struct {
	// ProviderOrder is the comma-separated fallback order, highest
	// priority first, e.g. "openai,anthropic,gemini".
	ProviderOrder  string
	OpenAIModel    string
	AnthropicModel string
	GeminiModel    string
	TimeoutSeconds int

	// Credentials are environment-only; a provider without a key is
	// dropped from the fallback chain without error.
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
}

type TriageConfig struct {
	// RulesPath points at a JSON rule table overriding the built-in one.
	RulesPath        string
	RepeatWindowDays int
}

type StorageConfig struct {
	DataDir string
}

type PolicyConfig struct {
	// RulesPath points at the agent policy JSON produced by
	// `aftercare policies import`; empty means built-in defaults.
	RulesPath string
}

type AuditConfig struct {
	// Path of the append-only JSONL turn log; empty means
	// <data dir>/turns.jsonl.
	Path string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4700,
		},
		Gateway: GatewayConfig{
			ProviderOrder:  "openai,anthropic,gemini",
			OpenAIModel:    "gpt-4o-mini",
			AnthropicModel: "claude-3-5-sonnet-20241022",
			GeminiModel:    "gemini-pro",
			TimeoutSeconds: 15,
		},
		Triage: TriageConfig{
			RepeatWindowDays: 7,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/aftercare/config.json, then applies AFTERCARE_*
// environment overrides. Provider API keys are environment-only and
// never persisted to the backend.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Triage.RepeatWindowDays <= 0 {
		return fmt.Errorf("triage repeat window must be positive, got %d", cfg.Triage.RepeatWindowDays)
	}
	for _, name := range strings.Split(cfg.Gateway.ProviderOrder, ",") {
		switch strings.TrimSpace(name) {
		case "openai", "anthropic", "gemini", "":
		default:
			return fmt.Errorf("unknown provider %q in gateway.provider_order", name)
		}
	}
	return nil
}

// ProviderNames returns the configured fallback order with whitespace
// and empty entries removed.
func (g GatewayConfig) ProviderNames() []string {
	var names []string
	for _, n := range strings.Split(g.ProviderOrder, ",") {
		n = strings.TrimSpace(n)
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}
