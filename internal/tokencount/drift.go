package tokencount

// Drift compares a heuristic estimate to an exact count
type Drift struct {
	Estimate int `json:"estimate"`
	Exact    int `json:"exact"`
	// Diff is Estimate - Exact; positive means the estimate over-counts
	Diff int `json:"diff"`
	// Percent is Diff relative to Exact; nil when Exact is zero
	Percent *float64 `json:"percent"`
}

// EstimatorDrift computes the drift of estimate against exact
func EstimatorDrift(estimate, exact int) Drift {
	d := Drift{Estimate: estimate, Exact: exact, Diff: estimate - exact}
	if exact != 0 {
		p := float64(d.Diff) / float64(exact) * 100
		d.Percent = &p
	}
	return d
}
