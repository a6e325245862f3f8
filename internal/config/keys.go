package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "AFTERCARE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "AFTERCARE_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "gateway.provider_order", typ: kString, env: "AFTERCARE_GATEWAY_PROVIDER_ORDER",
		apply:   func(cfg *Config, v any) { cfg.Gateway.ProviderOrder = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.ProviderOrder },
	},
	{
		key: "gateway.openai_model", typ: kString, env: "AFTERCARE_GATEWAY_OPENAI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.OpenAIModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.OpenAIModel },
	},
	{
		key: "gateway.anthropic_model", typ: kString, env: "AFTERCARE_GATEWAY_ANTHROPIC_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.AnthropicModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.AnthropicModel },
	},
	{
		key: "gateway.gemini_model", typ: kString, env: "AFTERCARE_GATEWAY_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Gateway.GeminiModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.GeminiModel },
	},
	{
		key: "gateway.timeout_seconds", typ: kInt, env: "AFTERCARE_GATEWAY_TIMEOUT_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Gateway.TimeoutSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Gateway.TimeoutSeconds },
	},
	{
		key: "gateway.openai_api_key", typ: kString, env: "AFTERCARE_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gateway.OpenAIAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.OpenAIAPIKey },
	},
	{
		key: "gateway.anthropic_api_key", typ: kString, env: "AFTERCARE_ANTHROPIC_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gateway.AnthropicAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.AnthropicAPIKey },
	},
	{
		key: "gateway.gemini_api_key", typ: kString, env: "AFTERCARE_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Gateway.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Gateway.GeminiAPIKey },
	},
	{
		key: "triage.rules_path", typ: kString, env: "AFTERCARE_TRIAGE_RULES_PATH",
		apply:   func(cfg *Config, v any) { cfg.Triage.RulesPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Triage.RulesPath },
	},
	{
		key: "triage.repeat_window_days", typ: kInt, env: "AFTERCARE_TRIAGE_REPEAT_WINDOW_DAYS",
		apply:   func(cfg *Config, v any) { cfg.Triage.RepeatWindowDays = v.(int) },
		extract: func(cfg Config) any { return cfg.Triage.RepeatWindowDays },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AFTERCARE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "policy.rules_path", typ: kString, env: "AFTERCARE_POLICY_RULES_PATH",
		apply:   func(cfg *Config, v any) { cfg.Policy.RulesPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Policy.RulesPath },
	},
	{
		key: "audit.path", typ: kString, env: "AFTERCARE_AUDIT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Audit.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Audit.Path },
	},
	{
		key: "log.level", typ: kString, env: "AFTERCARE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			// Secrets never live in the file backend.
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, ok := os.LookupEnv(s.env)
		if !ok || raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			}
		}
	}
}

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all non-secret config key/value pairs.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:    s.key,
			EnvVar: s.env,
			Value:  fmt.Sprintf("%v", s.extract(cfg)),
		})
	}
	return result
}

// SetKey writes a config key to the file backend.
func SetKey(key, value string) error {
	b := newPlatformBackend()

	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		switch s.typ {
		case kString:
			return b.SetString(key, value)
		case kInt:
			i, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid integer value for %s: %w", key, err)
			}
			return b.SetInt(key, i)
		}
	}

	return fmt.Errorf("unknown config key: %q", key)
}
