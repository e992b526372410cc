package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mixaill76/token_meter/internal/metering"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  port: 9090
  max_body_size_mb: 4
  request_timeout: 15s
  logging_level: DEBUG
  logging_format: json
  master_key: "sk-test-master-key"

metering:
  chars_per_token: 4
  symbol_weight: 0.5
  fixed_overhead: 10
  default_generation_cap: 800
  output_utilization_ratio: 0.6
  billing_divisor: 1000
  provider_rate: 0.000003
  user_rate: 0.0058

default_tier: Pro
tiers:
  - name: " PRO "
    billing_divisor: 500
  - name: free
    user_rate: 0

ledger:
  enabled: true
  driver: sqlite
  sqlite_path: /tmp/ledger.db
  batch_size: 50
  flush_interval: 2s

counters:
  cache_ttl: 1m
  providers:
    - type: anthropic
      model: claude-sonnet-4-5
      api_key: sk-ant-xxxx
    - name: vertex-flash
      type: vertex
      model: gemini-2.5-flash
      project_id: my-project
      credentials_file: /etc/sa.json

monitoring:
  prometheus_enabled: true
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.MaxBodySizeMB)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "debug", cfg.Server.LoggingLevel)
	assert.Equal(t, "json", cfg.Server.LoggingFormat)
	assert.Equal(t, "sk-test-master-key", cfg.Server.MasterKey)

	assert.Equal(t, metering.DefaultConfig(), cfg.Metering)

	assert.Equal(t, "pro", cfg.DefaultTier)
	require.Len(t, cfg.Tiers, 2)
	assert.Equal(t, "pro", cfg.Tiers[0].Name)
	assert.Equal(t, int64(500), cfg.Tiers[0].BillingDivisor)
	require.NotNil(t, cfg.Tiers[1].UserRate)
	assert.Zero(t, *cfg.Tiers[1].UserRate)

	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, LedgerDriverSQLite, cfg.Ledger.Driver)
	assert.Equal(t, 50, cfg.Ledger.BatchSize)
	assert.Equal(t, 10000, cfg.Ledger.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Ledger.FlushInterval)

	assert.Equal(t, 10000, cfg.Counters.CacheSize)
	assert.Equal(t, time.Minute, cfg.Counters.CacheTTL)
	require.Len(t, cfg.Counters.Providers, 2)
	assert.Equal(t, "anthropic", cfg.Counters.Providers[0].Name)
	assert.Equal(t, "vertex-flash", cfg.Counters.Providers[1].Name)

	assert.True(t, cfg.Monitoring.PrometheusEnabled)
	assert.Equal(t, "/health", cfg.Monitoring.HealthCheckPath)
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  master_key: sk-test
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 1, cfg.Server.MaxBodySizeMB)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "info", cfg.Server.LoggingLevel)
	assert.Equal(t, "text", cfg.Server.LoggingFormat)
	assert.Equal(t, metering.DefaultConfig(), cfg.Metering)
	assert.Empty(t, cfg.Tiers)
	assert.False(t, cfg.Ledger.Enabled)
	assert.Equal(t, LedgerDriverPostgres, cfg.Ledger.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Counters.CacheTTL)
}

func TestLoad_PartialMeteringKeepsDefaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  master_key: sk-test
metering:
  billing_divisor: 250
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, int64(250), cfg.Metering.BillingDivisor)
	assert.Equal(t, metering.DefaultCharsPerToken, cfg.Metering.CharsPerToken)
	assert.Equal(t, metering.DefaultUserRate, cfg.Metering.UserRate)
}

func TestLoad_EnvResolution(t *testing.T) {
	t.Setenv("TM_MASTER_KEY", "sk-from-env")
	t.Setenv("TM_PORT", "7070")
	t.Setenv("TM_ANTHROPIC_KEY", "sk-ant-env")

	configPath := writeConfig(t, `
server:
  port: os.environ/TM_PORT
  master_key: os.environ/TM_MASTER_KEY
counters:
  providers:
    - type: anthropic
      model: claude-haiku-4-5
      api_key: os.environ/TM_ANTHROPIC_KEY
`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sk-from-env", cfg.Server.MasterKey)
	assert.Equal(t, "sk-ant-env", cfg.Counters.Providers[0].APIKey)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "server:\n  port: [invalid\n")

	_, err := Load(configPath)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestParse_InvalidFieldValue(t *testing.T) {
	_, err := Parse([]byte(`
server:
  master_key: sk-test
  request_timeout: soon
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server.request_timeout")
}

func validConfig() Config {
	cfg := Default()
	cfg.Server.MasterKey = "sk-test"
	cfg.Normalize()
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"body size", func(c *Config) { c.Server.MaxBodySizeMB = 0 }, "invalid max_body_size_mb"},
		{"logging level", func(c *Config) { c.Server.LoggingLevel = "verbose" }, "invalid logging_level"},
		{"logging format", func(c *Config) { c.Server.LoggingFormat = "xml" }, "invalid logging_format"},
		{"master key", func(c *Config) { c.Server.MasterKey = "" }, "master_key is required"},
		{"divisor", func(c *Config) { c.Metering.BillingDivisor = -1 }, "billing divisor"},
		{"ratio", func(c *Config) { c.Metering.OutputUtilizationRatio = 1.5 }, "output_utilization_ratio"},
		{"watch remote tiers", func(c *Config) {
			c.WatchTiers = true
			c.TiersLink = "https://example.com/tiers.yaml"
		}, "watch_tiers requires"},
		{"ledger postgres without url", func(c *Config) {
			c.Ledger.Enabled = true
			c.Ledger.Driver = LedgerDriverPostgres
		}, "database_url is required"},
		{"ledger sqlite without path", func(c *Config) {
			c.Ledger.Enabled = true
			c.Ledger.Driver = LedgerDriverSQLite
		}, "sqlite_path is required"},
		{"ledger unknown driver", func(c *Config) {
			c.Ledger.Enabled = true
			c.Ledger.Driver = "mysql"
		}, "unknown driver"},
		{"ledger batch too large", func(c *Config) {
			c.Ledger.Enabled = true
			c.Ledger.Driver = LedgerDriverSQLite
			c.Ledger.SQLitePath = "/tmp/ledger.db"
			c.Ledger.BatchSize = 3000
		}, "exceeds maximum"},
		{"heuristic counter needs no model", func(c *Config) {
			c.Counters.Providers = []CounterConfig{{Name: "heuristic", Type: CounterTypeHeuristic, Tier: "pro"}}
		}, ""},
		{"counter unknown type", func(c *Config) {
			c.Counters.Providers = []CounterConfig{{Name: "x", Type: "openai", Model: "gpt"}}
		}, "unknown type"},
		{"counter missing model", func(c *Config) {
			c.Counters.Providers = []CounterConfig{{Name: "x", Type: CounterTypeAnthropic, APIKey: "k"}}
		}, "model is required"},
		{"counter missing key", func(c *Config) {
			c.Counters.Providers = []CounterConfig{{Name: "x", Type: CounterTypeGemini, Model: "gemini-2.5-flash"}}
		}, "api_key is required"},
		{"vertex missing credentials", func(c *Config) {
			c.Counters.Providers = []CounterConfig{{Name: "v", Type: CounterTypeVertex, Model: "m", ProjectID: "p"}}
		}, "credentials_file or credentials_json"},
		{"counter bad base url", func(c *Config) {
			c.Counters.Providers = []CounterConfig{{Name: "x", Type: CounterTypeAnthropic, Model: "m", APIKey: "k", BaseURL: "ftp://host"}}
		}, "http or https"},
		{"duplicate counters", func(c *Config) {
			c.Counters.Providers = []CounterConfig{
				{Name: "x", Type: CounterTypeAnthropic, Model: "m", APIKey: "k"},
				{Name: "x", Type: CounterTypeGemini, Model: "m", APIKey: "k"},
			}
		}, "duplicate name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Normalize(t *testing.T) {
	cfg := Default()
	cfg.Ledger.SQLitePath = "/tmp/x.db"
	cfg.Counters.Providers = []CounterConfig{{Type: " Gemini ", BaseURL: "https://example.com/"}}
	cfg.Normalize()

	assert.Equal(t, LedgerDriverSQLite, cfg.Ledger.Driver)
	assert.Equal(t, CounterTypeGemini, cfg.Counters.Providers[0].Type)
	assert.Equal(t, "gemini", cfg.Counters.Providers[0].Name)
	assert.Equal(t, "https://example.com", cfg.Counters.Providers[0].BaseURL)
}
