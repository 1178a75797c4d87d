package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/leofalp/polychat/providers/ai"
	"github.com/leofalp/polychat/providers/ratelimit"
)

// Provider names understood by the CLI.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderBridge = "bridge"
)

// Cache backends.
const (
	CacheNone     = "none"
	CacheMemory   = "memory"
	CacheSQLite   = "sqlite"
	CachePostgres = "postgres"
	CacheMongo    = "mongo"
)

// BridgeCredential is the rate limiter credential used by the bridge
// adapter, which has no API key.
const BridgeCredential = "bridge"

// Config is the full polychat configuration.
type Config struct {
	DefaultProvider string        `toml:"default_provider"`
	DefaultModel    string        `toml:"default_model"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	// MaxRetries enables the retry middleware when positive. Provider
	// errors are surfaced as-is by default.
	MaxRetries int `toml:"max_retries"`

	OpenAI ProviderConfig `toml:"openai"`
	Gemini ProviderConfig `toml:"gemini"`
	Bridge BridgeConfig   `toml:"bridge"`

	Cache   CacheConfig   `toml:"cache"`
	History HistoryConfig `toml:"history"`

	Generation ai.GenerationOptions `toml:"generation"`
}

// ProviderConfig holds the connection settings of an HTTP provider.
type ProviderConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	// Cooldown is the minimum spacing between two requests for the same
	// model. ModelCooldowns overrides it per model.
	Cooldown       time.Duration            `toml:"cooldown"`
	ModelCooldowns map[string]time.Duration `toml:"model_cooldowns"`
}

// BridgeConfig configures the websocket hub a browser client connects to.
type BridgeConfig struct {
	Listen         string                   `toml:"listen"`
	Cooldown       time.Duration            `toml:"cooldown"`
	ModelCooldowns map[string]time.Duration `toml:"model_cooldowns"`
}

// CacheConfig selects the response cache backend. DSN is a file path for
// sqlite and a connection URI for postgres and mongo.
type CacheConfig struct {
	Backend  string `toml:"backend"`
	DSN      string `toml:"dsn"`
	Database string `toml:"database"`
}

// HistoryConfig points at the MongoDB deployment storing session histories.
// An empty URI disables persistence.
type HistoryConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		DefaultProvider: ProviderOpenAI,
		DefaultModel:    "gpt-4o-mini",
		RequestTimeout:  2 * time.Minute,
		Bridge:          BridgeConfig{Listen: "127.0.0.1:8765"},
		Cache:           CacheConfig{Backend: CacheMemory, Database: "polychat"},
		History:         HistoryConfig{Database: "polychat"},
	}
}

// DefaultPath is the config file read when Load gets no explicit path.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine config directory: %w", err)
	}
	return filepath.Join(dir, "polychat", "config.toml"), nil
}

// Load builds a Config from defaults, the TOML file at path, the env files
// and the environment. With an empty path the default file is read if it
// exists. Without env files, ./.env is read if it exists. Variables already
// present in the environment are never overwritten by env files.
func Load(path string, envFiles ...string) (*Config, error) {
	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			path = ""
		}
	}
	if path != "" {
		if err := LoadTOML(cfg, path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes the file at path over cfg. Keys missing from the file
// keep their current value.
func LoadTOML(cfg *Config, path string) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return ai.NewConfigurationError("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("loading env files %v: %w", files, err)
	}
	return nil
}

// ApplyEnvOverrides copies the recognised environment variables over cfg.
func (c *Config) ApplyEnvOverrides() {
	overrides := []struct {
		key    string
		target *string
	}{
		{"OPENAI_API_KEY", &c.OpenAI.APIKey},
		{"OPENAI_API_BASE_URL", &c.OpenAI.BaseURL},
		{"GEMINI_API_KEY", &c.Gemini.APIKey},
		{"GEMINI_API_BASE_URL", &c.Gemini.BaseURL},
		{"POLYCHAT_PROVIDER", &c.DefaultProvider},
		{"POLYCHAT_MODEL", &c.DefaultModel},
		{"POLYCHAT_BRIDGE_LISTEN", &c.Bridge.Listen},
		{"POLYCHAT_CACHE_BACKEND", &c.Cache.Backend},
		{"POLYCHAT_CACHE_DSN", &c.Cache.DSN},
		{"POLYCHAT_HISTORY_URI", &c.History.URI},
	}
	for _, o := range overrides {
		if value := os.Getenv(o.key); value != "" {
			*o.target = value
		}
	}

	if value := os.Getenv("POLYCHAT_REQUEST_TIMEOUT"); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			c.RequestTimeout = d
		} else {
			fmt.Fprintf(os.Stderr, "warning: ignoring POLYCHAT_REQUEST_TIMEOUT=%q: %v\n", value, err)
		}
	}
}

// Validate checks values that cannot be fixed up silently.
func (c *Config) Validate() error {
	if !slices.Contains([]string{ProviderOpenAI, ProviderGemini, ProviderBridge}, c.DefaultProvider) {
		return ai.NewConfigurationError("unknown default provider %q", c.DefaultProvider)
	}
	switch c.Cache.Backend {
	case "", CacheNone, CacheMemory:
	case CacheSQLite, CachePostgres, CacheMongo:
		if c.Cache.DSN == "" {
			return ai.NewConfigurationError("cache backend %s requires a dsn", c.Cache.Backend)
		}
	default:
		return ai.NewConfigurationError("unknown cache backend %q", c.Cache.Backend)
	}
	if c.RequestTimeout < 0 {
		return ai.NewConfigurationError("request_timeout must not be negative")
	}
	if c.MaxRetries < 0 {
		return ai.NewConfigurationError("max_retries must not be negative")
	}
	for name, cooldowns := range map[string]map[string]time.Duration{
		ProviderOpenAI: c.OpenAI.ModelCooldowns,
		ProviderGemini: c.Gemini.ModelCooldowns,
		ProviderBridge: c.Bridge.ModelCooldowns,
	} {
		for model, d := range cooldowns {
			if d < 0 {
				return ai.NewConfigurationError("%s: negative cooldown for %s", name, model)
			}
		}
	}
	return nil
}

// RequireCredentials fails when provider cannot be used as configured.
func (c *Config) RequireCredentials(provider string) error {
	switch provider {
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return ai.NewConfigurationError("openai: no API key, set OPENAI_API_KEY or [openai] api_key")
		}
	case ProviderGemini:
		if c.Gemini.APIKey == "" {
			return ai.NewConfigurationError("gemini: no API key, set GEMINI_API_KEY or [gemini] api_key")
		}
	case ProviderBridge:
		if c.Bridge.Listen == "" {
			return ai.NewConfigurationError("bridge: no listen address")
		}
	default:
		return ai.NewConfigurationError("unknown provider %q", provider)
	}
	return nil
}

// Intervals returns the rate limiter spacing for every configured
// credential. Adapters identify themselves by API key, the bridge by
// BridgeCredential. Unknown credentials are not limited.
func (c *Config) Intervals() ratelimit.IntervalFunc {
	type cooldowns struct {
		base     time.Duration
		perModel map[string]time.Duration
	}
	byCredential := map[string]cooldowns{
		BridgeCredential: {c.Bridge.Cooldown, c.Bridge.ModelCooldowns},
	}
	if c.OpenAI.APIKey != "" {
		byCredential[c.OpenAI.APIKey] = cooldowns{c.OpenAI.Cooldown, c.OpenAI.ModelCooldowns}
	}
	if c.Gemini.APIKey != "" {
		byCredential[c.Gemini.APIKey] = cooldowns{c.Gemini.Cooldown, c.Gemini.ModelCooldowns}
	}

	return func(credential, model string) time.Duration {
		entry, ok := byCredential[credential]
		if !ok {
			return 0
		}
		if d, ok := entry.perModel[model]; ok {
			return d
		}
		return entry.base
	}
}
