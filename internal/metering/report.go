package metering

import "encoding/json"

// Breakdown pairs what the provider charged with what the customer is billed
// for one token volume. It is a value type; copies never share state.
type Breakdown struct {
	ProviderTokens int64   `json:"provider_tokens"`
	UserTokens     int64   `json:"user_tokens"`
	Divisor        int64   `json:"divisor"`
	ProviderCost   float64 `json:"provider_cost"`
	UserCost       float64 `json:"user_cost"`

	// ProfitMarginPercent is nil when ProviderCost is zero, where the
	// margin has no defined value. It marshals as JSON null.
	ProfitMarginPercent *float64 `json:"profit_margin_percent"`
}

// MarginDefined reports whether ProfitMarginPercent carries a value
func (b Breakdown) MarginDefined() bool {
	return b.ProfitMarginPercent != nil
}

// Margin returns the profit margin, or 0 when it is undefined
func (b Breakdown) Margin() float64 {
	if b.ProfitMarginPercent == nil {
		return 0
	}
	return *b.ProfitMarginPercent
}

// Profit returns UserCost - ProviderCost
func (b Breakdown) Profit() float64 {
	return b.UserCost - b.ProviderCost
}

// MarshalJSON adds the derived profit field
func (b Breakdown) MarshalJSON() ([]byte, error) {
	type plain Breakdown
	return json.Marshal(struct {
		plain
		Profit float64 `json:"profit"`
	}{plain: plain(b), Profit: b.Profit()})
}

// CostBreakdown converts providerTokens with divisor and prices both sides
func (e *Engine) CostBreakdown(providerTokens, divisor int64) (Breakdown, error) {
	userTokens, err := ToUserTokens(providerTokens, divisor)
	if err != nil {
		return Breakdown{}, err
	}

	b := Breakdown{
		ProviderTokens: providerTokens,
		UserTokens:     userTokens,
		Divisor:        divisor,
		ProviderCost:   float64(providerTokens) * e.cfg.ProviderRate,
		UserCost:       float64(userTokens) * e.cfg.UserRate,
	}

	if b.ProviderCost > 0 {
		margin := (b.UserCost - b.ProviderCost) / b.ProviderCost * 100
		b.ProfitMarginPercent = &margin
	}

	return b, nil
}

// CostBreakdownDefault uses the configured billing divisor
func (e *Engine) CostBreakdownDefault(providerTokens int64) (Breakdown, error) {
	return e.CostBreakdown(providerTokens, e.cfg.BillingDivisor)
}
