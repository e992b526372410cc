// Package metering estimates provider token usage for LLM requests and
// converts provider token counts into billed user tokens with a
// cost/profit breakdown.
//
// All operations are pure: an Engine is immutable after construction, keeps
// no caches and is safe for concurrent use without locking.
package metering

import "fmt"

// Engine combines an Estimator with a pricing configuration
type Engine struct {
	cfg       Config
	estimator Estimator
}

// NewEngine creates an engine. Zero config fields get defaults.
// A nil estimator selects the heuristic estimator configured by cfg.
func NewEngine(cfg Config, estimator Estimator) (*Engine, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if estimator == nil {
		estimator = NewHeuristicEstimator(cfg)
	}

	return &Engine{
		cfg:       cfg,
		estimator: estimator,
	}, nil
}

// NewDefaultEngine returns an engine with DefaultConfig and the heuristic estimator
func NewDefaultEngine() *Engine {
	cfg := DefaultConfig()
	return &Engine{cfg: cfg, estimator: NewHeuristicEstimator(cfg)}
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Estimate returns the estimated provider-token count of text
func (e *Engine) Estimate(text string) int {
	n := e.estimator.Estimate(text)
	if n < 0 {
		return 0
	}
	return n
}

// CountInputTokens estimates the prompt side of a chat request:
// both prompts plus the fixed per-message formatting overhead.
func (e *Engine) CountInputTokens(systemPrompt, userPrompt string) int {
	return e.Estimate(systemPrompt) + e.Estimate(userPrompt) + e.cfg.FixedOverhead
}

// EstimateOutputTokens estimates how much of generationCap a generation
// actually uses. Zero means "not set" and selects the configured default cap.
func (e *Engine) EstimateOutputTokens(generationCap int) (int, error) {
	limit, err := e.resolveCap(generationCap)
	if err != nil {
		return 0, err
	}

	out := int(float64(limit) * e.cfg.OutputUtilizationRatio)
	return min(out, limit), nil
}

// EstimateTotalTokens is the pre-flight estimate of a whole request
func (e *Engine) EstimateTotalTokens(systemPrompt, userPrompt string, generationCap int) (int, error) {
	output, err := e.EstimateOutputTokens(generationCap)
	if err != nil {
		return 0, err
	}
	return e.CountInputTokens(systemPrompt, userPrompt) + output, nil
}

func (e *Engine) resolveCap(generationCap int) (int, error) {
	switch {
	case generationCap == 0:
		return e.cfg.DefaultGenerationCap, nil
	case generationCap < 0:
		return 0, fmt.Errorf("%w: got %d", ErrInvalidGenerationCap, generationCap)
	default:
		return generationCap, nil
	}
}
