package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// secretService is the keychain service (or secrets.json section) holding
// API keys.
const secretService = "redactor"

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Company CompanyConfig
	LLM     LLMConfig
	Ollama  OllamaConfig
	Log     LogConfig
	Keys    APIKeys
}

type ServerConfig struct {
	Port int
	// APIToken enables bearer auth on the HTTP API when set.
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type CompanyConfig struct {
	// ProfilePath defaults to <data_dir>/empresa_config.json.
	ProfilePath string
}

type LLMConfig struct {
	Provider    string
	Model       string
	Temperature float64
	// MaxWords of 0 uses the per-action default.
	MaxWords       int
	RequestTimeout string
}

type OllamaConfig struct {
	BaseURL string
}

type LogConfig struct {
	Level string
}

// APIKeys are fallbacks for the provider environment variables.
type APIKeys struct {
	OpenAI     string
	Gemini     string
	Anthropic  string
	OpenRouter string
}

// ByProvider maps provider names to their configured keys.
func (k APIKeys) ByProvider() map[string]string {
	return map[string]string{
		"openai":     k.OpenAI,
		"gemini":     k.Gemini,
		"anthropic":  k.Anthropic,
		"openrouter": k.OpenRouter,
	}
}

// ProfilePath returns the company profile location.
func (c Config) ProfilePath() string {
	if c.Company.ProfilePath != "" {
		return c.Company.ProfilePath
	}
	return filepath.Join(c.Storage.DataDir, "empresa_config.json")
}

// RequestTimeout parses llm.request_timeout, falling back to 120s.
func (c Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.RequestTimeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// LogLevel maps log.level to a slog level. Unknown values mean info.
func (c Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		LLM: LLMConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			Temperature:    0.7,
			RequestTimeout: "120s",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.redactor.app) and
// secrets fall back to the Keychain. Elsewhere the backend is a JSON file
// at $XDG_CONFIG_HOME/redactor/config.json and secrets fall back to
// $XDG_DATA_HOME/redactor/secrets.json.
//
// Environment variables (REDACTOR_*) override backend values on all
// platforms. Missing API keys are not an error here; a provider reports
// them when it is constructed.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b Backend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	applySecrets(&cfg, kc)

	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return Config{}, fmt.Errorf("llm.temperature %.2f out of range [0, 2]", cfg.LLM.Temperature)
	}
	return cfg, nil
}

// applySecrets fills secrets still empty after env overrides from the
// platform secret store.
func applySecrets(cfg *Config, kc keychain) {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		if v, _ := s.extract(*cfg).(string); v != "" {
			continue
		}
		if val, err := kc.Get(secretService, secretAccount(s.key)); err == nil && val != "" {
			s.apply(cfg, val)
		}
	}
}

// secretAccount turns "openai.api_key" into "openai_api_key".
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
