package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/mixaill76/token_meter/internal/security"
)

// resolveEnvString resolves environment variable if value is in format "os.environ/VAR_NAME"
func resolveEnvString(value string) string {
	const prefix = "os.environ/"
	if strings.HasPrefix(value, prefix) {
		envVar := strings.TrimPrefix(value, prefix)
		if envValue := os.Getenv(envVar); envValue != "" {
			return envValue
		}
		slog.Warn("environment variable not set, returning empty string",
			"env_var", envVar,
			"pattern", value,
		)
		return ""
	}
	return value
}

// parseFunc is a function type that parses a string value into the desired type
type parseFunc[T any] func(string) (T, error)

// parseField resolves env variable and parses value with proper error context
func parseField[T any](tempValue string, defaultValue T, parser parseFunc[T], fieldPath string) (T, error) {
	if tempValue == "" {
		return defaultValue, nil
	}

	resolved := resolveEnvString(tempValue)
	parsed, err := parser(resolved)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid %s: %w", fieldPath, err)
	}
	return parsed, nil
}

// validateBaseURL validates that a URL is properly formed with http/https scheme
func validateBaseURL(name, baseURL string) error {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("%s: invalid base_url: %w", name, err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s: base_url must use http or https scheme, got: %s", name, parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("%s: base_url must have a host", name)
	}
	return nil
}

// PrintConfig outputs the configuration in a structured, readable format to the logger
func PrintConfig(logger *slog.Logger, cfg *Config) {
	logger.Info("=== Configuration Loaded ===")

	// Server config
	logger.Info("server",
		"port", cfg.Server.Port,
		"max_body_size_mb", cfg.Server.MaxBodySizeMB,
		"request_timeout", cfg.Server.RequestTimeout.String(),
		"read_timeout", cfg.Server.ReadTimeout.String(),
		"write_timeout", cfg.Server.WriteTimeout.String(),
		"idle_timeout", cfg.Server.IdleTimeout.String(),
		"logging_level", cfg.Server.LoggingLevel,
		"logging_format", cfg.Server.LoggingFormat,
		"master_key", "***REDACTED***",
	)

	logger.Info("metering",
		"chars_per_token", cfg.Metering.CharsPerToken,
		"symbol_weight", cfg.Metering.SymbolWeight,
		"fixed_overhead", cfg.Metering.FixedOverhead,
		"default_generation_cap", cfg.Metering.DefaultGenerationCap,
		"output_utilization_ratio", cfg.Metering.OutputUtilizationRatio,
		"billing_divisor", cfg.Metering.BillingDivisor,
		"provider_rate", cfg.Metering.ProviderRate,
		"user_rate", cfg.Metering.UserRate,
	)

	// Tiers
	logger.Info("tiers",
		"default_tier", cfg.DefaultTier,
		"total_count", len(cfg.Tiers),
		"tiers_link", cfg.TiersLink,
		"watch_tiers", cfg.WatchTiers,
	)
	if len(cfg.Tiers) > 0 && len(cfg.Tiers) <= 10 {
		for i, tier := range cfg.Tiers {
			logger.Info(fmt.Sprintf("  [%d] tier", i),
				"name", tier.Name,
				"billing_divisor", tier.BillingDivisor,
			)
		}
	}

	// Ledger config
	if cfg.Ledger.Enabled {
		attrs := []any{
			"driver", cfg.Ledger.Driver,
			"is_required", cfg.Ledger.IsRequired,
			"queue_size", cfg.Ledger.QueueSize,
			"batch_size", cfg.Ledger.BatchSize,
			"flush_interval", cfg.Ledger.FlushInterval.String(),
			"enqueue_wait", cfg.Ledger.EnqueueWait.String(),
		}
		if cfg.Ledger.Driver == LedgerDriverPostgres {
			attrs = append(attrs,
				"database_url", security.MaskDatabaseURL(cfg.Ledger.DatabaseURL),
				"max_conns", cfg.Ledger.MaxConns,
				"min_conns", cfg.Ledger.MinConns,
				"connect_timeout", cfg.Ledger.ConnectTimeout.String(),
				"health_check_interval", cfg.Ledger.HealthCheck.String(),
			)
		} else {
			attrs = append(attrs, "sqlite_path", cfg.Ledger.SQLitePath)
		}
		logger.Info("ledger (ENABLED)", attrs...)
	} else {
		logger.Info("ledger", "status", "DISABLED")
	}

	// Counters
	logger.Info("counters",
		"total_count", len(cfg.Counters.Providers),
		"cache_size", cfg.Counters.CacheSize,
		"cache_ttl", cfg.Counters.CacheTTL.String(),
	)
	for i, p := range cfg.Counters.Providers {
		logger.Info(fmt.Sprintf("  [%d] counter", i),
			"name", p.Name,
			"type", p.Type,
			"model", p.Model,
			"tier", p.Tier,
			"api_key", security.MaskAPIKey(p.APIKey),
		)
	}

	// Monitoring config
	logger.Info("monitoring",
		"prometheus_enabled", cfg.Monitoring.PrometheusEnabled,
		"health_check_path", cfg.Monitoring.HealthCheckPath,
	)

	logger.Info("=== Configuration Ready ===")
}
