package metering

import "fmt"

// Admission is the pre-flight decision for a request against a user's
// remaining quota, expressed in billed user tokens.
type Admission struct {
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	TotalTokens  int   `json:"total_tokens"`
	UserTokens   int64 `json:"user_tokens"`
	Remaining    int64 `json:"remaining_user_tokens"`
	Allowed      bool  `json:"allowed"`
}

// Admit estimates the full request and checks it against remainingUserTokens
// using the configured billing divisor. No provider round trip is made.
func (e *Engine) Admit(systemPrompt, userPrompt string, generationCap int, remainingUserTokens int64) (Admission, error) {
	if remainingUserTokens < 0 {
		return Admission{}, fmt.Errorf("%w: remaining user tokens %d", ErrNegativeTokens, remainingUserTokens)
	}

	input := e.CountInputTokens(systemPrompt, userPrompt)
	output, err := e.EstimateOutputTokens(generationCap)
	if err != nil {
		return Admission{}, err
	}

	total := input + output
	userTokens, err := e.ToUserTokensDefault(int64(total))
	if err != nil {
		return Admission{}, err
	}

	return Admission{
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  total,
		UserTokens:   userTokens,
		Remaining:    remainingUserTokens,
		Allowed:      userTokens <= remainingUserTokens,
	}, nil
}
