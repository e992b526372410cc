// Package pricing keeps the set of named pricing tiers and one metering
// engine per tier, so several billing divisors and rate pairs can coexist.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mixaill76/token_meter/internal/metering"
)

// DefaultTierName is used when no tiers are configured
const DefaultTierName = "default"

var (
	// ErrUnknownTier is returned when a tier name is not in the catalog
	ErrUnknownTier = errors.New("pricing: unknown tier")

	// ErrNoTiers is returned when a tier set is empty
	ErrNoTiers = errors.New("pricing: no tiers")
)

// Tier overrides the billing part of the base metering config.
// Nil rates and a zero divisor inherit the base value, so a tier can still
// set a rate to exactly zero.
type Tier struct {
	Name           string   `yaml:"name" json:"name"`
	BillingDivisor int64    `yaml:"billing_divisor" json:"billing_divisor,omitempty"`
	ProviderRate   *float64 `yaml:"provider_rate" json:"provider_rate,omitempty"`
	UserRate       *float64 `yaml:"user_rate" json:"user_rate,omitempty"`
}

// Config overlays the tier on base
func (t Tier) Config(base metering.Config) metering.Config {
	cfg := base
	if t.BillingDivisor != 0 {
		cfg.BillingDivisor = t.BillingDivisor
	}
	if t.ProviderRate != nil {
		cfg.ProviderRate = *t.ProviderRate
	}
	if t.UserRate != nil {
		cfg.UserRate = *t.UserRate
	}
	return cfg
}

// NormalizeTierName trims and lowercases a tier name
func NormalizeTierName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TierInfo is the resolved view of a tier returned by Catalog.Tiers
type TierInfo struct {
	Name           string  `json:"name"`
	BillingDivisor int64   `json:"billing_divisor"`
	ProviderRate   float64 `json:"provider_rate"`
	UserRate       float64 `json:"user_rate"`
	Default        bool    `json:"default"`
}

// Catalog maps tier names to engines. Thread-safe.
type Catalog struct {
	mu          sync.RWMutex
	base        metering.Config
	estimator   metering.Estimator
	engines     map[string]*metering.Engine
	defaultTier string
}

// NewCatalog builds a catalog. With no tiers a single tier named
// DefaultTierName uses the base config unchanged.
func NewCatalog(base metering.Config, estimator metering.Estimator, defaultTier string, tiers []Tier) (*Catalog, error) {
	base.ApplyDefaults()
	if err := base.Validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		base:      base,
		estimator: estimator,
	}

	if len(tiers) == 0 {
		tiers = []Tier{{Name: DefaultTierName}}
	}
	if err := c.replace(defaultTier, tiers); err != nil {
		return nil, err
	}
	return c, nil
}

// Engine returns the engine for a tier; an empty name selects the default tier.
// The resolved tier name is returned alongside.
func (c *Catalog) Engine(name string) (*metering.Engine, string, error) {
	name = NormalizeTierName(name)

	c.mu.RLock()
	defer c.mu.RUnlock()

	if name == "" {
		name = c.defaultTier
	}
	engine, ok := c.engines[name]
	if !ok {
		return nil, name, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return engine, name, nil
}

// DefaultTier returns the default tier name
func (c *Catalog) DefaultTier() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultTier
}

// Tiers returns all tiers sorted by name
func (c *Catalog) Tiers() []TierInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	infos := make([]TierInfo, 0, len(c.engines))
	for name, engine := range c.engines {
		cfg := engine.Config()
		infos = append(infos, TierInfo{
			Name:           name,
			BillingDivisor: cfg.BillingDivisor,
			ProviderRate:   cfg.ProviderRate,
			UserRate:       cfg.UserRate,
			Default:        name == c.defaultTier,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Replace swaps the whole tier set. Every tier is validated first; on error
// the previous set stays in place. An empty defaultTier keeps the current one.
func (c *Catalog) Replace(defaultTier string, tiers []Tier) error {
	if len(tiers) == 0 {
		return ErrNoTiers
	}
	if NormalizeTierName(defaultTier) == "" {
		defaultTier = c.DefaultTier()
	}
	return c.replace(defaultTier, tiers)
}

func (c *Catalog) replace(defaultTier string, tiers []Tier) error {
	engines := make(map[string]*metering.Engine, len(tiers))
	for i, tier := range tiers {
		name := NormalizeTierName(tier.Name)
		if name == "" {
			return fmt.Errorf("pricing: tier %d: name is required", i)
		}
		if _, dup := engines[name]; dup {
			return fmt.Errorf("pricing: duplicate tier %q", name)
		}

		engine, err := metering.NewEngine(tier.Config(c.base), c.estimator)
		if err != nil {
			return fmt.Errorf("pricing: tier %q: %w", name, err)
		}
		engines[name] = engine
	}

	defaultTier = NormalizeTierName(defaultTier)
	if defaultTier == "" {
		if len(tiers) != 1 {
			return errors.New("pricing: default_tier is required when more than one tier is configured")
		}
		defaultTier = NormalizeTierName(tiers[0].Name)
	}
	if _, ok := engines[defaultTier]; !ok {
		return fmt.Errorf("%w: default tier %q", ErrUnknownTier, defaultTier)
	}

	c.mu.Lock()
	c.engines = engines
	c.defaultTier = defaultTier
	c.mu.Unlock()
	return nil
}
