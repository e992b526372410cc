package metering

import (
	"math"
	"unicode"
	"unicode/utf8"
)

// Estimator maps text to a provider-token count.
//
// Implementations must return a non-negative value, return 0 for empty
// text, and never decrease when characters are appended. An exact
// tokenizer can replace the heuristic without touching the rest of the engine.
type Estimator interface {
	Estimate(text string) int
}

// EstimatorFunc adapts a plain function to the Estimator interface
type EstimatorFunc func(text string) int

// Estimate calls f(text)
func (f EstimatorFunc) Estimate(text string) int {
	return f(text)
}

// HeuristicEstimator approximates subword tokenizers with a
// characters-per-token ratio plus an extra charge for punctuation and
// symbols, which the ratio alone underweights.
type HeuristicEstimator struct {
	CharsPerToken int     // defaults to 4 if < 1
	SymbolWeight  float64 // tokens per symbol character; defaults to 0.5 if <= 0
}

// NewHeuristicEstimator creates an estimator from the estimator part of cfg
func NewHeuristicEstimator(cfg Config) HeuristicEstimator {
	return HeuristicEstimator{
		CharsPerToken: cfg.CharsPerToken,
		SymbolWeight:  cfg.SymbolWeight,
	}
}

// Estimate returns ceil(chars / CharsPerToken) + ceil(SymbolWeight * symbols).
// Runs in a single pass over text.
func (e HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}

	chars, symbols := scanText(text)

	ratio := e.CharsPerToken
	if ratio < 1 {
		ratio = DefaultCharsPerToken
	}
	weight := e.SymbolWeight
	if weight <= 0 {
		weight = DefaultSymbolWeight
	}

	base := chars / ratio
	if chars%ratio != 0 {
		base++
	}
	overhead := int(math.Ceil(weight * float64(symbols)))

	return base + overhead
}

// Estimate uses the default heuristic
func Estimate(text string) int {
	return HeuristicEstimator{}.Estimate(text)
}

// scanText counts characters (runes) and symbol characters.
// A symbol is anything that is neither a word character nor whitespace.
func scanText(text string) (chars, symbols int) {
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		chars++
		if !isWordRune(r) && !unicode.IsSpace(r) {
			symbols++
		}
	}
	return chars, symbols
}

// isWordRune matches the ASCII word class [A-Za-z0-9_]
func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
