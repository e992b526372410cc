package metering

import (
	"errors"
	"fmt"
)

// Errors returned by the engine. Callers should treat them as input
// validation failures and reject the request rather than bill an unknown amount.
var (
	// ErrInvalidDivisor is returned when a billing divisor is below 1
	ErrInvalidDivisor = errors.New("metering: billing divisor must be >= 1")

	// ErrNegativeTokens is returned for negative token counts
	ErrNegativeTokens = errors.New("metering: token count must not be negative")

	// ErrInvalidGenerationCap is returned for a negative generation cap
	ErrInvalidGenerationCap = errors.New("metering: generation cap must be positive")

	// ErrInvalidConfig is returned by Config.Validate
	ErrInvalidConfig = errors.New("metering: invalid config")
)

// Defaults used when a Config field is left at zero.
const (
	DefaultCharsPerToken          = 4
	DefaultSymbolWeight           = 0.5
	DefaultFixedOverhead          = 10
	DefaultGenerationCap          = 800
	DefaultOutputUtilizationRatio = 0.6
	DefaultBillingDivisor         = 1000
	DefaultProviderRate           = 0.000003
	DefaultUserRate               = 0.0058 // 0.0000058 per provider-token equivalent at the default divisor
)

// Config holds the tunable constants of an Engine.
// CharsPerToken, SymbolWeight and OutputUtilizationRatio are empirical
// approximations, not properties of any particular tokenizer.
type Config struct {
	// Estimator
	CharsPerToken int     `yaml:"chars_per_token" json:"chars_per_token"`
	SymbolWeight  float64 `yaml:"symbol_weight" json:"symbol_weight"`

	// Request sizer
	FixedOverhead          int     `yaml:"fixed_overhead" json:"fixed_overhead"`
	DefaultGenerationCap   int     `yaml:"default_generation_cap" json:"default_generation_cap"`
	OutputUtilizationRatio float64 `yaml:"output_utilization_ratio" json:"output_utilization_ratio"`

	// Billing and cost
	BillingDivisor int64   `yaml:"billing_divisor" json:"billing_divisor"`
	ProviderRate   float64 `yaml:"provider_rate" json:"provider_rate"` // currency per provider token
	UserRate       float64 `yaml:"user_rate" json:"user_rate"`         // currency per billed user token
}

// DefaultConfig returns configuration with default values
func DefaultConfig() Config {
	return Config{
		CharsPerToken:          DefaultCharsPerToken,
		SymbolWeight:           DefaultSymbolWeight,
		FixedOverhead:          DefaultFixedOverhead,
		DefaultGenerationCap:   DefaultGenerationCap,
		OutputUtilizationRatio: DefaultOutputUtilizationRatio,
		BillingDivisor:         DefaultBillingDivisor,
		ProviderRate:           DefaultProviderRate,
		UserRate:               DefaultUserRate,
	}
}

// ApplyDefaults fills zero fields with default values.
// FixedOverhead and the two rates are left alone: zero is a legal setting for them.
func (c *Config) ApplyDefaults() {
	if c.CharsPerToken == 0 {
		c.CharsPerToken = DefaultCharsPerToken
	}
	if c.SymbolWeight == 0 {
		c.SymbolWeight = DefaultSymbolWeight
	}
	if c.DefaultGenerationCap == 0 {
		c.DefaultGenerationCap = DefaultGenerationCap
	}
	if c.OutputUtilizationRatio == 0 {
		c.OutputUtilizationRatio = DefaultOutputUtilizationRatio
	}
	if c.BillingDivisor == 0 {
		c.BillingDivisor = DefaultBillingDivisor
	}
}

// Validate checks configuration validity
func (c Config) Validate() error {
	if c.CharsPerToken < 1 {
		return fmt.Errorf("%w: chars_per_token must be >= 1, got %d", ErrInvalidConfig, c.CharsPerToken)
	}
	if c.SymbolWeight < 0 {
		return fmt.Errorf("%w: symbol_weight must not be negative, got %v", ErrInvalidConfig, c.SymbolWeight)
	}
	if c.FixedOverhead < 0 {
		return fmt.Errorf("%w: fixed_overhead must not be negative, got %d", ErrInvalidConfig, c.FixedOverhead)
	}
	if c.DefaultGenerationCap < 1 {
		return fmt.Errorf("%w: default_generation_cap must be >= 1, got %d", ErrInvalidConfig, c.DefaultGenerationCap)
	}
	if c.OutputUtilizationRatio <= 0 || c.OutputUtilizationRatio > 1 {
		return fmt.Errorf("%w: output_utilization_ratio must be in (0, 1], got %v", ErrInvalidConfig, c.OutputUtilizationRatio)
	}
	if c.BillingDivisor < 1 {
		return fmt.Errorf("%w: %w, got %d", ErrInvalidConfig, ErrInvalidDivisor, c.BillingDivisor)
	}
	if c.ProviderRate < 0 {
		return fmt.Errorf("%w: provider_rate must not be negative, got %v", ErrInvalidConfig, c.ProviderRate)
	}
	if c.UserRate < 0 {
		return fmt.Errorf("%w: user_rate must not be negative, got %v", ErrInvalidConfig, c.UserRate)
	}
	return nil
}
