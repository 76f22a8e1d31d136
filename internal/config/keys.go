package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	default:
		return "string"
	}
}

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
		key: "server.port", typ: kInt, env: "REDACTOR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "REDACTOR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "company.profile_path", typ: kString, env: "REDACTOR_COMPANY_PROFILE_PATH",
		apply:   func(cfg *Config, v any) { cfg.Company.ProfilePath = v.(string) },
		extract: func(cfg Config) any { return cfg.Company.ProfilePath },
	},
	{
		key: "llm.provider", typ: kString, env: "REDACTOR_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "REDACTOR_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.temperature", typ: kFloat, env: "REDACTOR_LLM_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.LLM.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.Temperature },
	},
	{
		key: "llm.max_words", typ: kInt, env: "REDACTOR_LLM_MAX_WORDS",
		apply:   func(cfg *Config, v any) { cfg.LLM.MaxWords = v.(int) },
		extract: func(cfg Config) any { return cfg.LLM.MaxWords },
	},
	{
		key: "llm.request_timeout", typ: kString, env: "REDACTOR_LLM_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.RequestTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.RequestTimeout },
	},
	{
		key: "ollama.base_url", typ: kString, env: "REDACTOR_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "log.level", typ: kString, env: "REDACTOR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "openai.api_key", typ: kString, env: "REDACTOR_OPENAI_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Keys.OpenAI = v.(string) },
		extract: func(cfg Config) any { return cfg.Keys.OpenAI },
	},
	{
		key: "gemini.api_key", typ: kString, env: "REDACTOR_GEMINI_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Keys.Gemini = v.(string) },
		extract: func(cfg Config) any { return cfg.Keys.Gemini },
	},
	{
		key: "anthropic.api_key", typ: kString, env: "REDACTOR_ANTHROPIC_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Keys.Anthropic = v.(string) },
		extract: func(cfg Config) any { return cfg.Keys.Anthropic },
	},
	{
		key: "openrouter.api_key", typ: kString, env: "REDACTOR_OPENROUTER_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Keys.OpenRouter = v.(string) },
		extract: func(cfg Config) any { return cfg.Keys.OpenRouter },
	},
	{
		key: "server.api_token", typ: kString, env: "REDACTOR_SERVER_API_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text into the Go type the key's apply func expects.
func parseValue(typ keyType, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		var (
			v   any
			ok  bool
			err error
		)
		switch s.typ {
		case kInt:
			v, ok, err = b.GetInt(s.key)
		case kFloat:
			v, ok, err = b.GetFloat(s.key)
		default:
			var raw string
			raw, ok, err = b.GetString(s.key)
			if ok && err == nil {
				if s.typ != kString && raw == "" {
					continue
				}
				if v, err = parseValue(s.typ, raw); err != nil {
					slog.Warn("ignoring unparsable config value", "key", s.key, "value", raw, "type", s.typ.String(), "error", err)
					continue
				}
			}
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, v)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			slog.Warn("ignoring unparsable environment value", "env", s.env, "value", raw, "type", s.typ.String(), "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}
