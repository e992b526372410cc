package metering

import "fmt"

// ToUserTokens converts provider tokens into billed user tokens, rounding up
// so a fractional remainder is always billed.
func ToUserTokens(providerTokens, divisor int64) (int64, error) {
	if divisor < 1 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidDivisor, divisor)
	}
	if providerTokens < 0 {
		return 0, fmt.Errorf("%w: got %d", ErrNegativeTokens, providerTokens)
	}

	// Quotient plus remainder check avoids the overflow of (p + d - 1) / d
	userTokens := providerTokens / divisor
	if providerTokens%divisor != 0 {
		userTokens++
	}
	return userTokens, nil
}

// ToUserTokens converts with an explicit divisor
func (e *Engine) ToUserTokens(providerTokens, divisor int64) (int64, error) {
	return ToUserTokens(providerTokens, divisor)
}

// ToUserTokensDefault converts with the configured billing divisor
func (e *Engine) ToUserTokensDefault(providerTokens int64) (int64, error) {
	return ToUserTokens(providerTokens, e.cfg.BillingDivisor)
}
