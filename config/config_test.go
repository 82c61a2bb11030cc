package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/chatgate/config"
)

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)
	content := `
server:
  host: "127.0.0.1"
  port: 9090
  enable_usage: true

quota:
  max_messages_per_day: 30
  max_cost_per_day: 1.25
  cooldown: 20s

pricing:
  input_per_token: 0.00002
  output_per_token: 0.00004
  estimator: tiktoken
  encoding: o200k_base

assistant:
  provider: openai
  instructions: "Responda em português."
  support_contact: "suporte@example.com"
  openai:
    api_key: "sk-test"
    assistant_id: "asst_123"
    max_wait: 45s

ledger:
  driver: sqlite
  dsn: ":memory:"
  sweep_interval: 1m

cors:
  allowed_origins:
    - "https://carnivoros.example"
`

	cfg := writeAndLoad(t, content)

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if !cfg.Server.EnableUsage {
		t.Error("EnableUsage = false, want true")
	}
	if cfg.Quota.MaxMessagesPerDay != 30 {
		t.Errorf("MaxMessagesPerDay = %d, want 30", cfg.Quota.MaxMessagesPerDay)
	}
	if cfg.Quota.MaxCostPerDay != 1.25 {
		t.Errorf("MaxCostPerDay = %v, want 1.25", cfg.Quota.MaxCostPerDay)
	}
	if cfg.Quota.Cooldown != 20*time.Second {
		t.Errorf("Cooldown = %v, want 20s", cfg.Quota.Cooldown)
	}
	if cfg.Pricing.Estimator != "tiktoken" || cfg.Pricing.Encoding != "o200k_base" {
		t.Errorf("Pricing = %+v", cfg.Pricing)
	}
	if cfg.Assistant.OpenAI.AssistantID != "asst_123" {
		t.Errorf("AssistantID = %s, want asst_123", cfg.Assistant.OpenAI.AssistantID)
	}
	if cfg.Assistant.OpenAI.MaxWait != 45*time.Second {
		t.Errorf("MaxWait = %v, want 45s", cfg.Assistant.OpenAI.MaxWait)
	}
	if cfg.Assistant.SupportContact != "suporte@example.com" {
		t.Errorf("SupportContact = %s", cfg.Assistant.SupportContact)
	}
	if cfg.Ledger.Driver != "sqlite" || cfg.Ledger.DSN != ":memory:" {
		t.Errorf("Ledger = %+v", cfg.Ledger)
	}
	if cfg.Ledger.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v, want 1m", cfg.Ledger.SweepInterval)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 {
		t.Errorf("len(AllowedOrigins) = %d, want 1", len(cfg.CORS.AllowedOrigins))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := writeAndLoad(t, minimalConfig())

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Host = %s, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout <= cfg.Server.RequestTimeout {
		t.Errorf("WriteTimeout = %v, want more than RequestTimeout %v", cfg.Server.WriteTimeout, cfg.Server.RequestTimeout)
	}
	if cfg.Quota.MaxMessagesPerDay != 20 {
		t.Errorf("MaxMessagesPerDay = %d, want 20", cfg.Quota.MaxMessagesPerDay)
	}
	if cfg.Quota.MaxCostPerDay != 0.50 {
		t.Errorf("MaxCostPerDay = %v, want 0.50", cfg.Quota.MaxCostPerDay)
	}
	if cfg.Quota.Cooldown != 15*time.Second {
		t.Errorf("Cooldown = %v, want 15s", cfg.Quota.Cooldown)
	}
	if cfg.Quota.ReservationTTL != 90*time.Second {
		t.Errorf("ReservationTTL = %v, want 90s", cfg.Quota.ReservationTTL)
	}
	if cfg.Pricing.InputPerToken != 0.00001 {
		t.Errorf("InputPerToken = %v, want 0.00001", cfg.Pricing.InputPerToken)
	}
	if cfg.Pricing.OutputPerToken != 0.00003 {
		t.Errorf("OutputPerToken = %v, want 0.00003", cfg.Pricing.OutputPerToken)
	}
	if cfg.Pricing.Estimator != "words" {
		t.Errorf("Estimator = %s, want words", cfg.Pricing.Estimator)
	}
	if cfg.Ledger.Driver != "memory" {
		t.Errorf("Ledger.Driver = %s, want memory", cfg.Ledger.Driver)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %s, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %s, want json", cfg.Logging.Format)
	}
	if cfg.Logging.MaxSizeMB != 0 {
		t.Errorf("MaxSizeMB = %d, want 0 without a log file", cfg.Logging.MaxSizeMB)
	}
}

func TestLoad_SQLiteDefaultDSN(t *testing.T) {
	clearEnv(t)
	cfg := writeAndLoad(t, minimalConfig()+`
ledger:
  driver: sqlite
`)
	if cfg.Ledger.DSN != "chatgate.db" {
		t.Errorf("Ledger.DSN = %s, want chatgate.db", cfg.Ledger.DSN)
	}
}

func TestLoad_LogFileDefaults(t *testing.T) {
	clearEnv(t)
	cfg := writeAndLoad(t, minimalConfig()+`
logging:
  file: /var/log/chatgate.log
`)
	if cfg.Logging.MaxSizeMB != 100 || cfg.Logging.MaxBackups != 5 || cfg.Logging.MaxAgeDays != 28 {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_ASSISTANT_KEY", "sk-expanded")

	cfg := writeAndLoad(t, `
assistant:
  openai:
    api_key: "${TEST_ASSISTANT_KEY}"
    assistant_id: "asst_1"
`)

	if cfg.Assistant.OpenAI.APIKey != "sk-expanded" {
		t.Errorf("APIKey = %s, want sk-expanded", cfg.Assistant.OpenAI.APIKey)
	}
}

func TestLoad_Gemini(t *testing.T) {
	clearEnv(t)
	cfg := writeAndLoad(t, `
assistant:
  provider: gemini
  gemini:
    api_key: "g-key"
    model: "gemini-2.5-pro"
`)
	if cfg.Assistant.Provider != "gemini" {
		t.Errorf("Provider = %s, want gemini", cfg.Assistant.Provider)
	}
	if cfg.Assistant.Gemini.Timeout != 60*time.Second {
		t.Errorf("Gemini.Timeout = %v, want 60s", cfg.Assistant.Gemini.Timeout)
	}
}

func TestLoad_ReservationTTLFollowsProviderWait(t *testing.T) {
	clearEnv(t)
	cfg := writeAndLoad(t, `
assistant:
  provider: gemini
  gemini:
    api_key: "g-key"
    timeout: 2m
`)
	if cfg.Assistant.MaxWait() != 2*time.Minute {
		t.Errorf("MaxWait() = %v, want 2m", cfg.Assistant.MaxWait())
	}
	if cfg.Quota.ReservationTTL != 150*time.Second {
		t.Errorf("ReservationTTL = %v, want 2m30s", cfg.Quota.ReservationTTL)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing openai key", `
assistant:
  openai:
    assistant_id: "asst_1"
`},
		{"missing assistant id", `
assistant:
  openai:
    api_key: "sk-test"
`},
		{"missing gemini key", `
assistant:
  provider: gemini
`},
		{"unknown provider", `
assistant:
  provider: anthropic
`},
		{"unknown ledger driver", minimalConfig() + `
ledger:
  driver: mongo
`},
		{"redis without dsn", minimalConfig() + `
ledger:
  driver: redis
`},
		{"postgres without dsn", minimalConfig() + `
ledger:
  driver: postgres
`},
		{"negative message cap", minimalConfig() + `
quota:
  max_messages_per_day: -1
`},
		{"negative cost cap", minimalConfig() + `
quota:
  max_cost_per_day: -0.5
`},
		{"reservation ttl within max wait", minimalConfig() + `
quota:
  reservation_ttl: 30s
`},
		{"negative price", minimalConfig() + `
pricing:
  output_per_token: -1
`},
		{"unknown estimator", minimalConfig() + `
pricing:
  estimator: chars
`},
		{"unknown log format", minimalConfig() + `
logging:
  format: xml
`},
		{"tls without domains", minimalConfig() + `
server:
  tls:
    enabled: true
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := writeAndLoadErr(t, tt.content); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoad_TLSDefaults(t *testing.T) {
	clearEnv(t)
	cfg := writeAndLoad(t, minimalConfig()+`
server:
  tls:
    enabled: true
    domains: ["chat.example.com"]
`)
	if cfg.Server.TLS.CacheDir != "certs" {
		t.Errorf("TLS.CacheDir = %s, want certs", cfg.Server.TLS.CacheDir)
	}
	if cfg.Server.TLS.HTTPAddr != ":80" {
		t.Errorf("TLS.HTTPAddr = %s, want :80", cfg.Server.TLS.HTTPAddr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATGATE_OPENAI_API_KEY", "sk-env")
	t.Setenv("CHATGATE_OPENAI_ASSISTANT_ID", "asst_env")
	t.Setenv("CHATGATE_SERVER_PORT", "9999")
	t.Setenv("CHATGATE_MAX_MESSAGES_PER_DAY", "5")
	t.Setenv("CHATGATE_MAX_COST_PER_DAY", "0.10")
	t.Setenv("CHATGATE_COOLDOWN", "30s")
	t.Setenv("CHATGATE_LOG_LEVEL", "debug")
	t.Setenv("CHATGATE_METRICS_ENABLED", "yes")
	t.Setenv("CHATGATE_CORS_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}

	if cfg.Assistant.OpenAI.APIKey != "sk-env" {
		t.Errorf("APIKey = %s, want sk-env", cfg.Assistant.OpenAI.APIKey)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Quota.MaxMessagesPerDay != 5 {
		t.Errorf("MaxMessagesPerDay = %d, want 5", cfg.Quota.MaxMessagesPerDay)
	}
	if cfg.Quota.MaxCostPerDay != 0.10 {
		t.Errorf("MaxCostPerDay = %v, want 0.10", cfg.Quota.MaxCostPerDay)
	}
	if cfg.Quota.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want 30s", cfg.Quota.Cooldown)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(cfg.CORS.AllowedOrigins) != len(want) {
		t.Fatalf("AllowedOrigins = %v, want %v", cfg.CORS.AllowedOrigins, want)
	}
	for i := range want {
		if cfg.CORS.AllowedOrigins[i] != want[i] {
			t.Errorf("AllowedOrigins[%d] = %s, want %s", i, cfg.CORS.AllowedOrigins[i], want[i])
		}
	}
}

func TestLoadFromEnv_FallbackKeyNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-plain")
	t.Setenv("ASSISTANT_ID", "asst_plain")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.Assistant.OpenAI.APIKey != "sk-plain" || cfg.Assistant.OpenAI.AssistantID != "asst_plain" {
		t.Errorf("OpenAI = %+v", cfg.Assistant.OpenAI)
	}
}

func TestLoadFromEnv_MissingRequired(t *testing.T) {
	clearEnv(t)

	if _, err := config.LoadFromEnv(); err == nil {
		t.Error("expected error without provider credentials")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATGATE_SERVER_PORT", "7777")
	t.Setenv("CHATGATE_MAX_MESSAGES_PER_DAY", "3")
	t.Setenv("CHATGATE_LEDGER_DRIVER", "redis")
	t.Setenv("CHATGATE_LEDGER_DSN", "redis://localhost:6379/0")

	cfg := writeAndLoad(t, minimalConfig()+`
server:
  port: 8000
quota:
  max_messages_per_day: 50
`)

	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want 7777 (env override)", cfg.Server.Port)
	}
	if cfg.Quota.MaxMessagesPerDay != 3 {
		t.Errorf("MaxMessagesPerDay = %d, want 3 (env override)", cfg.Quota.MaxMessagesPerDay)
	}
	if cfg.Ledger.Driver != "redis" {
		t.Errorf("Ledger.Driver = %s, want redis", cfg.Ledger.Driver)
	}
}

func TestEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATGATE_SERVER_PORT", "not-a-port")
	t.Setenv("CHATGATE_COOLDOWN", "soon")
	t.Setenv("CHATGATE_MAX_COST_PER_DAY", "cheap")

	cfg := writeAndLoad(t, minimalConfig())

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Quota.Cooldown != 15*time.Second {
		t.Errorf("Cooldown = %v, want default 15s", cfg.Quota.Cooldown)
	}
	if cfg.Quota.MaxCostPerDay != 0.50 {
		t.Errorf("MaxCostPerDay = %v, want default 0.50", cfg.Quota.MaxCostPerDay)
	}
}

func TestLoadWithFallback_FileExists(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, minimalConfig())

	cfg, err := config.LoadWithFallback(path)
	if err != nil {
		t.Fatalf("LoadWithFallback error: %v", err)
	}
	if cfg.Assistant.OpenAI.AssistantID != "asst_1" {
		t.Errorf("AssistantID = %s, want asst_1", cfg.Assistant.OpenAI.AssistantID)
	}
}

func TestLoadWithFallback_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHATGATE_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "g-env")

	cfg, err := config.LoadWithFallback(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadWithFallback error: %v", err)
	}
	if cfg.Assistant.Gemini.APIKey != "g-env" {
		t.Errorf("Gemini.APIKey = %s, want g-env", cfg.Assistant.Gemini.APIKey)
	}
}

func TestLoadWithFallback_NoConfig(t *testing.T) {
	clearEnv(t)

	if _, err := config.LoadWithFallback(""); err == nil {
		t.Error("expected error with no file and no env")
	}
}

func TestHasEnvConfig(t *testing.T) {
	clearEnv(t)
	if config.HasEnvConfig() {
		t.Error("HasEnvConfig = true with empty env")
	}

	t.Setenv("CHATGATE_GEMINI_API_KEY", "g")
	if !config.HasEnvConfig() {
		t.Error("HasEnvConfig = false with gemini key set")
	}
}

func TestParseBoolValues(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"off", false},
		{"nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("CHATGATE_METRICS_ENABLED", tt.value)
			cfg := writeAndLoad(t, minimalConfig())
			if cfg.Metrics.Enabled != tt.want {
				t.Errorf("Metrics.Enabled for %q = %v, want %v", tt.value, cfg.Metrics.Enabled, tt.want)
			}
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	if _, err := writeAndLoadErr(t, "quota: [unterminated"); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReloadableFields(t *testing.T) {
	reloadable := map[string]bool{}
	for _, f := range config.ReloadableFields() {
		reloadable[f] = true
	}
	for _, f := range config.NonReloadableFields() {
		if reloadable[f] {
			t.Errorf("%s listed as both reloadable and non-reloadable", f)
		}
	}
	if !reloadable["quota.max_messages_per_day"] {
		t.Error("quota limits should be reloadable")
	}
}

// clearEnv blanks every variable the loader reads so the host
// environment cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHATGATE_SERVER_HOST", "CHATGATE_SERVER_PORT", "CHATGATE_ENABLE_USAGE",
		"CHATGATE_TLS_DOMAINS", "CHATGATE_TLS_EMAIL",
		"CHATGATE_MAX_MESSAGES_PER_DAY", "CHATGATE_MAX_COST_PER_DAY", "CHATGATE_COOLDOWN", "CHATGATE_RESERVATION_TTL",
		"CHATGATE_PRICE_INPUT_PER_TOKEN", "CHATGATE_PRICE_OUTPUT_PER_TOKEN", "CHATGATE_ESTIMATOR",
		"CHATGATE_PROVIDER", "CHATGATE_INSTRUCTIONS", "CHATGATE_SUPPORT_CONTACT",
		"CHATGATE_OPENAI_API_KEY", "OPENAI_API_KEY", "CHATGATE_OPENAI_ASSISTANT_ID", "ASSISTANT_ID",
		"CHATGATE_OPENAI_BASE_URL", "CHATGATE_OPENAI_MAX_WAIT",
		"CHATGATE_GEMINI_API_KEY", "GEMINI_API_KEY", "CHATGATE_GEMINI_MODEL",
		"CHATGATE_LEDGER_DRIVER", "CHATGATE_LEDGER_DSN",
		"CHATGATE_LOG_LEVEL", "CHATGATE_LOG_FORMAT", "CHATGATE_LOG_FILE",
		"CHATGATE_METRICS_ENABLED", "CHATGATE_CORS_ORIGINS",
	} {
		t.Setenv(k, "")
	}
}

func minimalConfig() string {
	return `
assistant:
  openai:
    api_key: "sk-test"
    assistant_id: "asst_1"
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatgate.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	cfg, err := writeAndLoadErr(t, content)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cfg
}

func writeAndLoadErr(t *testing.T, content string) (*config.Config, error) {
	t.Helper()
	return config.Load(writeConfig(t, content))
}
