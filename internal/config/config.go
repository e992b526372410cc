package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mixaill76/token_meter/internal/ledger"
	"github.com/mixaill76/token_meter/internal/metering"
	"github.com/mixaill76/token_meter/internal/pricing"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Metering    metering.Config  `yaml:"metering"`
	DefaultTier string           `yaml:"default_tier"`
	Tiers       []pricing.Tier   `yaml:"tiers"`
	TiersLink   string           `yaml:"tiers_link"`
	WatchTiers  bool             `yaml:"watch_tiers"`
	Ledger      LedgerConfig     `yaml:"ledger"`
	Counters    CountersConfig   `yaml:"counters"`
	Monitoring  MonitoringConfig `yaml:"monitoring"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	MaxBodySizeMB  int           `yaml:"max_body_size_mb"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	LoggingLevel   string        `yaml:"logging_level"`
	LoggingFormat  string        `yaml:"logging_format"`
	MasterKey      string        `yaml:"master_key"`
}

// LedgerConfig selects and tunes the usage ledger
type LedgerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	IsRequired bool   `yaml:"is_required"` // Fail startup when the store is unreachable
	Driver     string `yaml:"driver"`      // "postgres" or "sqlite"

	DatabaseURL    string        `yaml:"database_url"`
	SQLitePath     string        `yaml:"sqlite_path"`
	MaxConns       int32         `yaml:"max_conns"`
	MinConns       int32         `yaml:"min_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	HealthCheck    time.Duration `yaml:"health_check_interval"`

	QueueSize     int           `yaml:"queue_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	EnqueueWait   time.Duration `yaml:"enqueue_wait"`
}

// CountersConfig configures the exact token counters
type CountersConfig struct {
	CacheSize int             `yaml:"cache_size"`
	CacheTTL  time.Duration   `yaml:"cache_ttl"`
	Providers []CounterConfig `yaml:"providers"`
}

// CounterConfig is one provider counter
type CounterConfig struct {
	Name            string `yaml:"name"`
	Type            string `yaml:"type"` // "anthropic", "gemini", "vertex" or "heuristic"
	Model           string `yaml:"model"`
	Tier            string `yaml:"tier"` // heuristic only; empty follows default_tier
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url"`
	ProjectID       string `yaml:"project_id"`
	Location        string `yaml:"location"`
	CredentialsFile string `yaml:"credentials_file"`
	CredentialsJSON string `yaml:"credentials_json"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	HealthCheckPath   string `yaml:"health_check_path"`
}

// Counter types
const (
	CounterTypeAnthropic = "anthropic"
	CounterTypeGemini    = "gemini"
	CounterTypeVertex    = "vertex"
	CounterTypeHeuristic = "heuristic"
)

// Ledger drivers
const (
	LedgerDriverPostgres = "postgres"
	LedgerDriverSQLite   = "sqlite"
)

// UnmarshalYAML implements custom unmarshaling for ServerConfig.
// Every field accepts os.environ/VAR; durations use time.ParseDuration syntax.
func (s *ServerConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		Port           string `yaml:"port"`
		MaxBodySizeMB  string `yaml:"max_body_size_mb"`
		RequestTimeout string `yaml:"request_timeout"`
		ReadTimeout    string `yaml:"read_timeout"`
		WriteTimeout   string `yaml:"write_timeout"`
		IdleTimeout    string `yaml:"idle_timeout"`
		LoggingLevel   string `yaml:"logging_level"`
		LoggingFormat  string `yaml:"logging_format"`
		MasterKey      string `yaml:"master_key"`
	}

	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	var err error
	if s.Port, err = parseField(temp.Port, 8080, strconv.Atoi, "server.port"); err != nil {
		return err
	}
	if s.MaxBodySizeMB, err = parseField(temp.MaxBodySizeMB, 1, strconv.Atoi, "server.max_body_size_mb"); err != nil {
		return err
	}
	if s.RequestTimeout, err = parseField(temp.RequestTimeout, 30*time.Second, time.ParseDuration, "server.request_timeout"); err != nil {
		return err
	}
	if s.ReadTimeout, err = parseField(temp.ReadTimeout, 10*time.Second, time.ParseDuration, "server.read_timeout"); err != nil {
		return err
	}
	if s.WriteTimeout, err = parseField(temp.WriteTimeout, 35*time.Second, time.ParseDuration, "server.write_timeout"); err != nil {
		return err
	}
	if s.IdleTimeout, err = parseField(temp.IdleTimeout, 120*time.Second, time.ParseDuration, "server.idle_timeout"); err != nil {
		return err
	}

	s.LoggingLevel = strings.ToLower(resolveEnvString(temp.LoggingLevel))
	s.LoggingFormat = strings.ToLower(resolveEnvString(temp.LoggingFormat))
	s.MasterKey = resolveEnvString(temp.MasterKey)
	return nil
}

// UnmarshalYAML implements custom unmarshaling for LedgerConfig
func (l *LedgerConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		Enabled        bool   `yaml:"enabled"`
		IsRequired     bool   `yaml:"is_required"`
		Driver         string `yaml:"driver"`
		DatabaseURL    string `yaml:"database_url"`
		SQLitePath     string `yaml:"sqlite_path"`
		MaxConns       string `yaml:"max_conns"`
		MinConns       string `yaml:"min_conns"`
		ConnectTimeout string `yaml:"connect_timeout"`
		HealthCheck    string `yaml:"health_check_interval"`
		QueueSize      string `yaml:"queue_size"`
		BatchSize      string `yaml:"batch_size"`
		FlushInterval  string `yaml:"flush_interval"`
		EnqueueWait    string `yaml:"enqueue_wait"`
	}

	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	l.Enabled = temp.Enabled
	l.IsRequired = temp.IsRequired
	l.Driver = strings.ToLower(resolveEnvString(temp.Driver))
	l.DatabaseURL = resolveEnvString(temp.DatabaseURL)
	l.SQLitePath = resolveEnvString(temp.SQLitePath)

	parseInt32 := func(s string) (int32, error) {
		v, err := strconv.ParseInt(s, 10, 32)
		return int32(v), err
	}

	var err error
	if l.MaxConns, err = parseField(temp.MaxConns, 10, parseInt32, "ledger.max_conns"); err != nil {
		return err
	}
	if l.MinConns, err = parseField(temp.MinConns, 2, parseInt32, "ledger.min_conns"); err != nil {
		return err
	}
	if l.ConnectTimeout, err = parseField(temp.ConnectTimeout, 5*time.Second, time.ParseDuration, "ledger.connect_timeout"); err != nil {
		return err
	}
	if l.HealthCheck, err = parseField(temp.HealthCheck, 10*time.Second, time.ParseDuration, "ledger.health_check_interval"); err != nil {
		return err
	}
	if l.QueueSize, err = parseField(temp.QueueSize, 10000, strconv.Atoi, "ledger.queue_size"); err != nil {
		return err
	}
	if l.BatchSize, err = parseField(temp.BatchSize, 100, strconv.Atoi, "ledger.batch_size"); err != nil {
		return err
	}
	if l.FlushInterval, err = parseField(temp.FlushInterval, 5*time.Second, time.ParseDuration, "ledger.flush_interval"); err != nil {
		return err
	}
	if l.EnqueueWait, err = parseField(temp.EnqueueWait, 5*time.Second, time.ParseDuration, "ledger.enqueue_wait"); err != nil {
		return err
	}
	return nil
}

// UnmarshalYAML implements custom unmarshaling for CountersConfig
func (c *CountersConfig) UnmarshalYAML(value *yaml.Node) error {
	type tempConfig struct {
		CacheSize string          `yaml:"cache_size"`
		CacheTTL  string          `yaml:"cache_ttl"`
		Providers []CounterConfig `yaml:"providers"`
	}

	var temp tempConfig
	if err := value.Decode(&temp); err != nil {
		return err
	}

	var err error
	if c.CacheSize, err = parseField(temp.CacheSize, 10000, strconv.Atoi, "counters.cache_size"); err != nil {
		return err
	}
	if c.CacheTTL, err = parseField(temp.CacheTTL, 5*time.Minute, time.ParseDuration, "counters.cache_ttl"); err != nil {
		return err
	}

	c.Providers = temp.Providers
	for i := range c.Providers {
		p := &c.Providers[i]
		p.APIKey = resolveEnvString(p.APIKey)
		p.BaseURL = resolveEnvString(p.BaseURL)
		p.ProjectID = resolveEnvString(p.ProjectID)
		p.CredentialsFile = resolveEnvString(p.CredentialsFile)
		p.CredentialsJSON = resolveEnvString(p.CredentialsJSON)
	}
	return nil
}

// Default returns a config with every section at its default value
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			MaxBodySizeMB:  1,
			RequestTimeout: 30 * time.Second,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   35 * time.Second,
			IdleTimeout:    120 * time.Second,
		},
		Metering: metering.DefaultConfig(),
		Ledger: LedgerConfig{
			MaxConns:       10,
			MinConns:       2,
			ConnectTimeout: 5 * time.Second,
			HealthCheck:    10 * time.Second,
			QueueSize:      10000,
			BatchSize:      100,
			FlushInterval:  5 * time.Second,
			EnqueueWait:    5 * time.Second,
		},
		Counters: CountersConfig{
			CacheSize: 10000,
			CacheTTL:  5 * time.Minute,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, normalizes and validates a YAML config document
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Normalize cleans up configuration values
func (c *Config) Normalize() {
	if c.Server.LoggingLevel == "" {
		c.Server.LoggingLevel = "info"
	}
	if c.Server.LoggingFormat == "" {
		c.Server.LoggingFormat = "text"
	}
	if c.Monitoring.HealthCheckPath == "" {
		c.Monitoring.HealthCheckPath = "/health"
	}

	c.Metering.ApplyDefaults()

	c.DefaultTier = pricing.NormalizeTierName(c.DefaultTier)
	for i := range c.Tiers {
		c.Tiers[i].Name = pricing.NormalizeTierName(c.Tiers[i].Name)
	}
	c.TiersLink = strings.TrimSpace(resolveEnvString(c.TiersLink))

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = LedgerDriverPostgres
		if c.Ledger.DatabaseURL == "" && c.Ledger.SQLitePath != "" {
			c.Ledger.Driver = LedgerDriverSQLite
		}
	}

	for i := range c.Counters.Providers {
		p := &c.Counters.Providers[i]
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))
		p.BaseURL = strings.TrimRight(p.BaseURL, "/")
		p.Tier = pricing.NormalizeTierName(p.Tier)
		if p.Name == "" {
			p.Name = p.Type
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MaxBodySizeMB <= 0 {
		return fmt.Errorf("invalid max_body_size_mb: %d", c.Server.MaxBodySizeMB)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request_timeout: %v", c.Server.RequestTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Server.LoggingLevel] {
		return fmt.Errorf("invalid logging_level: %s (must be debug, info, warn, or error)", c.Server.LoggingLevel)
	}
	if c.Server.LoggingFormat != "text" && c.Server.LoggingFormat != "json" {
		return fmt.Errorf("invalid logging_format: %s (must be text or json)", c.Server.LoggingFormat)
	}

	if c.Server.MasterKey == "" {
		return fmt.Errorf("master_key is required")
	}

	if err := c.Metering.Validate(); err != nil {
		return err
	}

	if c.WatchTiers && pricing.FilePath(c.TiersLink) == "" {
		return fmt.Errorf("watch_tiers requires tiers_link to be a local file")
	}

	if err := c.validateLedger(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, p := range c.Counters.Providers {
		if err := validateCounter(p); err != nil {
			return fmt.Errorf("counter %d: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("counter %s: duplicate name", p.Name)
		}
		seen[p.Name] = true
	}

	return nil
}

func (c *Config) validateLedger() error {
	if !c.Ledger.Enabled {
		return nil
	}
	switch c.Ledger.Driver {
	case LedgerDriverPostgres:
		if c.Ledger.DatabaseURL == "" {
			return fmt.Errorf("ledger: database_url is required for the postgres driver")
		}
	case LedgerDriverSQLite:
		if c.Ledger.SQLitePath == "" {
			return fmt.Errorf("ledger: sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("ledger: unknown driver %q (must be postgres or sqlite)", c.Ledger.Driver)
	}
	if c.Ledger.BatchSize <= 0 || c.Ledger.QueueSize <= 0 {
		return fmt.Errorf("ledger: queue_size and batch_size must be positive")
	}
	if c.Ledger.BatchSize > ledger.MaxBatchSize {
		return fmt.Errorf("ledger: batch_size %d exceeds maximum %d", c.Ledger.BatchSize, ledger.MaxBatchSize)
	}
	return nil
}

func validateCounter(p CounterConfig) error {
	if p.Type == CounterTypeHeuristic {
		return nil
	}
	if p.Model == "" {
		return fmt.Errorf("%s: model is required", p.Name)
	}
	switch p.Type {
	case CounterTypeAnthropic, CounterTypeGemini:
		if p.APIKey == "" {
			return fmt.Errorf("%s: api_key is required", p.Name)
		}
	case CounterTypeVertex:
		if p.ProjectID == "" {
			return fmt.Errorf("%s: project_id is required", p.Name)
		}
		if p.CredentialsFile == "" && p.CredentialsJSON == "" {
			return fmt.Errorf("%s: credentials_file or credentials_json is required", p.Name)
		}
	default:
		return fmt.Errorf("%s: unknown type %q (must be anthropic, gemini, vertex or heuristic)", p.Name, p.Type)
	}
	if p.BaseURL != "" {
		if err := validateBaseURL(p.Name, p.BaseURL); err != nil {
			return err
		}
	}
	return nil
}
