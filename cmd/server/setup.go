package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mixaill76/token_meter/internal/auth"
	"github.com/mixaill76/token_meter/internal/config"
	"github.com/mixaill76/token_meter/internal/ledger"
	"github.com/mixaill76/token_meter/internal/metering"
	"github.com/mixaill76/token_meter/internal/pricing"
	"github.com/mixaill76/token_meter/internal/tokencount"
)

// buildCatalog creates the tier catalog from the inline tiers, then
// replaces them with tiers_link when one is configured.
func buildCatalog(ctx context.Context, cfg *config.Config, log *slog.Logger) (*pricing.Catalog, error) {
	catalog, err := pricing.NewCatalog(cfg.Metering, nil, cfg.DefaultTier, cfg.Tiers)
	if err != nil {
		return nil, fmt.Errorf("failed to build tier catalog: %w", err)
	}

	if cfg.TiersLink == "" {
		return catalog, nil
	}

	file, err := pricing.LoadTiers(ctx, cfg.TiersLink)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiers from %s: %w", cfg.TiersLink, err)
	}
	if err := catalog.Replace(file.DefaultTier, file.Tiers); err != nil {
		return nil, fmt.Errorf("invalid tiers in %s: %w", cfg.TiersLink, err)
	}

	log.Info("Loaded pricing tiers",
		"link", cfg.TiersLink,
		"count", len(file.Tiers),
		"default_tier", catalog.DefaultTier(),
	)
	return catalog, nil
}

// buildCounters creates one counter per configured provider. Provider
// counters are cached; the heuristic counter reads the catalog on each call.
func buildCounters(cfg config.CountersConfig, catalog *pricing.Catalog, tokens *auth.TokenManager) (*tokencount.Registry, error) {
	registry := tokencount.NewRegistry()

	for _, p := range cfg.Providers {
		var counter tokencount.Counter
		var err error

		switch p.Type {
		case config.CounterTypeHeuristic:
			tier := p.Tier
			registry.Add(tokencount.NewResolvedEngineCounter(p.Name, func() (*metering.Engine, error) {
				engine, _, err := catalog.Engine(tier)
				return engine, err
			}))
			continue
		case config.CounterTypeAnthropic:
			counter, err = tokencount.NewAnthropicCounter(tokencount.AnthropicConfig{
				Name:    p.Name,
				APIKey:  p.APIKey,
				BaseURL: p.BaseURL,
				Model:   p.Model,
			})
		case config.CounterTypeGemini:
			counter, err = tokencount.NewGeminiCounter(tokencount.GeminiConfig{
				Name:    p.Name,
				Model:   p.Model,
				APIKey:  p.APIKey,
				BaseURL: p.BaseURL,
			})
		case config.CounterTypeVertex:
			counter, err = tokencount.NewGeminiCounter(tokencount.GeminiConfig{
				Name:            p.Name,
				Model:           p.Model,
				BaseURL:         p.BaseURL,
				ProjectID:       p.ProjectID,
				Location:        p.Location,
				CredentialsFile: p.CredentialsFile,
				CredentialsJSON: p.CredentialsJSON,
				Tokens:          tokens,
			})
		default:
			err = fmt.Errorf("%w: type %q", tokencount.ErrUnknownCounter, p.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", p.Name, err)
		}

		cached, err := tokencount.NewCachedCounter(counter, cfg.CacheSize, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", p.Name, err)
		}
		registry.Add(cached)
	}

	return registry, nil
}

// openLedgerStore connects the configured ledger backend
func openLedgerStore(ctx context.Context, cfg config.LedgerConfig, log *slog.Logger) (ledger.Store, error) {
	switch cfg.Driver {
	case config.LedgerDriverPostgres:
		store, err := ledger.NewPostgresStore(ctx, &ledger.PostgresConfig{
			DatabaseURL:    cfg.DatabaseURL,
			MaxConns:       cfg.MaxConns,
			MinConns:       cfg.MinConns,
			HealthCheck:    cfg.HealthCheck,
			ConnectTimeout: cfg.ConnectTimeout,
			Logger:         log,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.LedgerDriverSQLite:
		store, err := ledger.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("Ledger store ready", "driver", cfg.Driver, "path", cfg.SQLitePath)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
