// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Quota     QuotaConfig     `yaml:"quota"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Assistant AssistantConfig `yaml:"assistant"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	CORS      CORSConfig      `yaml:"cors"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	EnableUsage     bool          `yaml:"enable_usage"` // Mount GET /usage/{userID}
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig configures automatic HTTPS via Let's Encrypt.
type TLSConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Domains  []string `yaml:"domains"`
	Email    string   `yaml:"email"`
	CacheDir string   `yaml:"cache_dir"`
	Staging  bool     `yaml:"staging"`
	HTTPAddr string   `yaml:"http_addr"` // ACME challenge and redirect listener (default: ":80")
}

// QuotaConfig configures the per-user daily limits.
type QuotaConfig struct {
	MaxMessagesPerDay int           `yaml:"max_messages_per_day"`
	MaxCostPerDay     float64       `yaml:"max_cost_per_day"` // dollars
	Cooldown          time.Duration `yaml:"cooldown"`
	// ReservationTTL drops an unsettled in-flight reservation after this long.
	// Must exceed the provider's maximum wait (default: max wait + 30s).
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
}

// PricingConfig configures cost estimation.
type PricingConfig struct {
	InputPerToken  float64 `yaml:"input_per_token"`
	OutputPerToken float64 `yaml:"output_per_token"`
	Estimator      string  `yaml:"estimator"` // "words" or "tiktoken"
	Encoding       string  `yaml:"encoding"`  // tiktoken encoding (default: cl100k_base)
}

// AssistantConfig configures the completion provider.
type AssistantConfig struct {
	Provider       string       `yaml:"provider"` // "openai" or "gemini"
	Instructions   string       `yaml:"instructions"`
	SupportContact string       `yaml:"support_contact"`
	OpenAI         OpenAIConfig `yaml:"openai"`
	Gemini         GeminiConfig `yaml:"gemini"`
}

// MaxWait returns how long the selected provider may take for one turn.
func (a AssistantConfig) MaxWait() time.Duration {
	if a.Provider == "gemini" {
		return a.Gemini.Timeout
	}
	return a.OpenAI.MaxWait
}

// OpenAIConfig configures the Assistants API client.
type OpenAIConfig struct {
	APIKey      string        `yaml:"api_key"`
	AssistantID string        `yaml:"assistant_id"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	PollInitial time.Duration `yaml:"poll_initial"`
	PollMax     time.Duration `yaml:"poll_max"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// LedgerConfig configures the usage ledger backend.
type LedgerConfig struct {
	Driver        string        `yaml:"driver"` // "memory", "sqlite", "redis" or "postgres"
	DSN           string        `yaml:"dsn"`    // file path, redis URL or postgres URL
	KeyPrefix     string        `yaml:"key_prefix,omitempty"`
	Table         string        `yaml:"table,omitempty"`
	Shards        int           `yaml:"shards,omitempty"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format     string `yaml:"format"` // "json" or "console"
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"` // Enable /metrics endpoint
}

// CORSConfig configures cross-origin access for the chat widget.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
// This is useful for container deployments where no config file is needed.
//
// Environment variables:
//
//	CHATGATE_PROVIDER              - Completion provider: openai or gemini (default: openai)
//	CHATGATE_OPENAI_API_KEY        - OpenAI API key (falls back to OPENAI_API_KEY)
//	CHATGATE_OPENAI_ASSISTANT_ID   - Assistant to run
//	CHATGATE_GEMINI_API_KEY        - Gemini API key (falls back to GEMINI_API_KEY)
//	CHATGATE_INSTRUCTIONS          - Assistant instructions
//	CHATGATE_LEDGER_DRIVER         - memory, sqlite, redis or postgres (default: memory)
//	CHATGATE_LEDGER_DSN            - Ledger connection string
//	CHATGATE_SERVER_PORT           - Server port (default: 8080)
//	CHATGATE_MAX_MESSAGES_PER_DAY  - Daily message cap (default: 20)
//	CHATGATE_MAX_COST_PER_DAY      - Daily cost cap in dollars (default: 0.50)
//	CHATGATE_COOLDOWN              - Minimum gap between messages (default: 15s)
//	CHATGATE_RESERVATION_TTL       - Age at which unsettled reservations expire
//	CHATGATE_LOG_LEVEL             - Log level: debug, info, warn, error (default: info)
//	CHATGATE_LOG_FORMAT            - Log format: json or console (default: json)
//	CHATGATE_METRICS_ENABLED       - Enable /metrics endpoint
//	CHATGATE_CORS_ORIGINS          - Comma-separated widget origins
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falls back to environment variables.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide a config file or set CHATGATE_OPENAI_API_KEY / CHATGATE_GEMINI_API_KEY")
}

// HasEnvConfig returns true if a provider credential is present in the environment.
func HasEnvConfig() bool {
	for _, k := range []string{"CHATGATE_OPENAI_API_KEY", "OPENAI_API_KEY", "CHATGATE_GEMINI_API_KEY", "GEMINI_API_KEY"} {
		if os.Getenv(k) != "" {
			return true
		}
	}
	return false
}

// applyEnvOverrides applies CHATGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("CHATGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CHATGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CHATGATE_ENABLE_USAGE"); v != "" {
		cfg.Server.EnableUsage = parseBool(v)
	}
	if v := os.Getenv("CHATGATE_TLS_DOMAINS"); v != "" {
		cfg.Server.TLS.Enabled = true
		cfg.Server.TLS.Domains = splitList(v)
	}
	if v := os.Getenv("CHATGATE_TLS_EMAIL"); v != "" {
		cfg.Server.TLS.Email = v
	}

	// Quota configuration
	if v := os.Getenv("CHATGATE_MAX_MESSAGES_PER_DAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quota.MaxMessagesPerDay = n
		}
	}
	if v := os.Getenv("CHATGATE_MAX_COST_PER_DAY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Quota.MaxCostPerDay = f
		}
	}
	if v := os.Getenv("CHATGATE_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Quota.Cooldown = d
		}
	}
	if v := os.Getenv("CHATGATE_RESERVATION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Quota.ReservationTTL = d
		}
	}

	// Pricing configuration
	if v := os.Getenv("CHATGATE_PRICE_INPUT_PER_TOKEN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pricing.InputPerToken = f
		}
	}
	if v := os.Getenv("CHATGATE_PRICE_OUTPUT_PER_TOKEN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Pricing.OutputPerToken = f
		}
	}
	if v := os.Getenv("CHATGATE_ESTIMATOR"); v != "" {
		cfg.Pricing.Estimator = v
	}

	// Assistant configuration
	if v := os.Getenv("CHATGATE_PROVIDER"); v != "" {
		cfg.Assistant.Provider = v
	}
	if v := os.Getenv("CHATGATE_INSTRUCTIONS"); v != "" {
		cfg.Assistant.Instructions = v
	}
	if v := os.Getenv("CHATGATE_SUPPORT_CONTACT"); v != "" {
		cfg.Assistant.SupportContact = v
	}
	if v := firstEnv("CHATGATE_OPENAI_API_KEY", "OPENAI_API_KEY"); v != "" {
		cfg.Assistant.OpenAI.APIKey = v
	}
	if v := firstEnv("CHATGATE_OPENAI_ASSISTANT_ID", "ASSISTANT_ID"); v != "" {
		cfg.Assistant.OpenAI.AssistantID = v
	}
	if v := os.Getenv("CHATGATE_OPENAI_BASE_URL"); v != "" {
		cfg.Assistant.OpenAI.BaseURL = v
	}
	if v := os.Getenv("CHATGATE_OPENAI_MAX_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Assistant.OpenAI.MaxWait = d
		}
	}
	if v := firstEnv("CHATGATE_GEMINI_API_KEY", "GEMINI_API_KEY"); v != "" {
		cfg.Assistant.Gemini.APIKey = v
	}
	if v := os.Getenv("CHATGATE_GEMINI_MODEL"); v != "" {
		cfg.Assistant.Gemini.Model = v
	}

	// Ledger configuration
	if v := os.Getenv("CHATGATE_LEDGER_DRIVER"); v != "" {
		cfg.Ledger.Driver = v
	}
	if v := os.Getenv("CHATGATE_LEDGER_DSN"); v != "" {
		cfg.Ledger.DSN = v
	}

	// Logging configuration
	if v := os.Getenv("CHATGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHATGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CHATGATE_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	// Metrics configuration
	if v := os.Getenv("CHATGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	// CORS configuration
	if v := os.Getenv("CHATGATE_CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 90 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = cfg.Server.RequestTimeout + 5*time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Server.TLS.Enabled {
		if cfg.Server.TLS.CacheDir == "" {
			cfg.Server.TLS.CacheDir = "certs"
		}
		if cfg.Server.TLS.HTTPAddr == "" {
			cfg.Server.TLS.HTTPAddr = ":80"
		}
	}

	if cfg.Quota.MaxMessagesPerDay == 0 {
		cfg.Quota.MaxMessagesPerDay = 20
	}
	if cfg.Quota.MaxCostPerDay == 0 {
		cfg.Quota.MaxCostPerDay = 0.50
	}
	if cfg.Quota.Cooldown == 0 {
		cfg.Quota.Cooldown = 15 * time.Second
	}

	if cfg.Pricing.InputPerToken == 0 {
		cfg.Pricing.InputPerToken = 0.00001
	}
	if cfg.Pricing.OutputPerToken == 0 {
		cfg.Pricing.OutputPerToken = 0.00003
	}
	if cfg.Pricing.Estimator == "" {
		cfg.Pricing.Estimator = "words"
	}

	if cfg.Assistant.Provider == "" {
		cfg.Assistant.Provider = "openai"
	}
	if cfg.Assistant.OpenAI.MaxWait == 0 {
		cfg.Assistant.OpenAI.MaxWait = 60 * time.Second
	}
	if cfg.Assistant.Gemini.Timeout == 0 {
		cfg.Assistant.Gemini.Timeout = 60 * time.Second
	}
	if cfg.Quota.ReservationTTL == 0 {
		cfg.Quota.ReservationTTL = cfg.Assistant.MaxWait() + 30*time.Second
	}

	if cfg.Ledger.Driver == "" {
		cfg.Ledger.Driver = "memory"
	}
	if cfg.Ledger.Driver == "sqlite" && cfg.Ledger.DSN == "" {
		cfg.Ledger.DSN = "chatgate.db"
	}
	if cfg.Ledger.SweepInterval == 0 {
		cfg.Ledger.SweepInterval = 10 * time.Minute
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.MaxSizeMB == 0 {
			cfg.Logging.MaxSizeMB = 100
		}
		if cfg.Logging.MaxBackups == 0 {
			cfg.Logging.MaxBackups = 5
		}
		if cfg.Logging.MaxAgeDays == 0 {
			cfg.Logging.MaxAgeDays = 28
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Quota.MaxMessagesPerDay < 0 {
		return fmt.Errorf("quota.max_messages_per_day must be positive, got %d", cfg.Quota.MaxMessagesPerDay)
	}
	if cfg.Quota.MaxCostPerDay < 0 {
		return fmt.Errorf("quota.max_cost_per_day must be positive, got %g", cfg.Quota.MaxCostPerDay)
	}
	if cfg.Quota.Cooldown < 0 {
		return fmt.Errorf("quota.cooldown must not be negative, got %s", cfg.Quota.Cooldown)
	}
	if wait := cfg.Assistant.MaxWait(); cfg.Quota.ReservationTTL <= wait {
		return fmt.Errorf("quota.reservation_ttl (%s) must exceed the assistant max wait (%s)", cfg.Quota.ReservationTTL, wait)
	}
	if cfg.Pricing.InputPerToken < 0 || cfg.Pricing.OutputPerToken < 0 {
		return fmt.Errorf("pricing rates must not be negative")
	}

	validEstimators := map[string]bool{"words": true, "tiktoken": true}
	if !validEstimators[cfg.Pricing.Estimator] {
		return fmt.Errorf("pricing.estimator must be 'words' or 'tiktoken', got %q", cfg.Pricing.Estimator)
	}

	switch cfg.Assistant.Provider {
	case "openai":
		if cfg.Assistant.OpenAI.APIKey == "" {
			return fmt.Errorf("assistant.openai.api_key is required when provider is 'openai'")
		}
		if cfg.Assistant.OpenAI.AssistantID == "" {
			return fmt.Errorf("assistant.openai.assistant_id is required when provider is 'openai'")
		}
	case "gemini":
		if cfg.Assistant.Gemini.APIKey == "" {
			return fmt.Errorf("assistant.gemini.api_key is required when provider is 'gemini'")
		}
	default:
		return fmt.Errorf("assistant.provider must be 'openai' or 'gemini', got %q", cfg.Assistant.Provider)
	}

	switch cfg.Ledger.Driver {
	case "memory", "sqlite":
	case "redis", "postgres":
		if cfg.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required when ledger.driver is %q", cfg.Ledger.Driver)
		}
	default:
		return fmt.Errorf("ledger.driver must be one of: memory, sqlite, redis, postgres")
	}

	if cfg.Server.TLS.Enabled && len(cfg.Server.TLS.Domains) == 0 {
		return fmt.Errorf("server.tls.domains is required when tls is enabled")
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	return nil
}
