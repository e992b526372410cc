package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mixaill76/token_meter/internal/ledger"
	"github.com/mixaill76/token_meter/internal/metering"
	"github.com/mixaill76/token_meter/internal/pricing"
	"github.com/mixaill76/token_meter/internal/tokencount"
	"github.com/mixaill76/token_meter/internal/utils"
)

// promptRequest is shared by the estimate, admission and count endpoints
type promptRequest struct {
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
	MaxTokens    int    `json:"max_tokens"` // 0 selects the tier's default generation cap
	Tier         string `json:"tier"`
}

type estimateResponse struct {
	Tier         string `json:"tier"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
	UserTokens   int64  `json:"user_tokens"`
}

func (r *Router) handleEstimate(w http.ResponseWriter, req *http.Request) {
	var body promptRequest
	if !r.decodeBody(w, req, &body) {
		return
	}

	engine, tier, err := r.catalog.Engine(body.Tier)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	input := engine.CountInputTokens(body.SystemPrompt, body.UserPrompt)
	output, err := engine.EstimateOutputTokens(body.MaxTokens)
	if err != nil {
		writeParamError(w, "max_tokens", err.Error())
		return
	}

	total := input + output
	userTokens, err := engine.ToUserTokensDefault(int64(total))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	r.metrics.RecordEstimate(tier, input, output)

	writeJSON(w, http.StatusOK, estimateResponse{
		Tier:         tier,
		InputTokens:  input,
		OutputTokens: output,
		TotalTokens:  total,
		UserTokens:   userTokens,
	})
}

type admissionRequest struct {
	promptRequest

	// RemainingUserTokens is the caller-supplied balance. When omitted the
	// balance is QuotaUserTokens minus the user's ledger usage this month.
	RemainingUserTokens *int64 `json:"remaining_user_tokens"`
	UserID              string `json:"user_id"`
	QuotaUserTokens     *int64 `json:"quota_user_tokens"`
}

type admissionResponse struct {
	Tier string `json:"tier"`
	metering.Admission
}

func (r *Router) handleAdmission(w http.ResponseWriter, req *http.Request) {
	var body admissionRequest
	if !r.decodeBody(w, req, &body) {
		return
	}

	engine, tier, err := r.catalog.Engine(body.Tier)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	remaining, ok := r.remainingUserTokens(w, req.Context(), &body)
	if !ok {
		return
	}

	admission, err := engine.Admit(body.SystemPrompt, body.UserPrompt, body.MaxTokens, remaining)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	r.metrics.RecordAdmission(tier, admission.Allowed)

	if !admission.Allowed {
		code := "insufficient_user_tokens"
		WriteJSONError(w, http.StatusPaymentRequired,
			fmt.Sprintf("Request needs %d user tokens, %d remaining", admission.UserTokens, admission.Remaining),
			errorTypeForStatus(http.StatusPaymentRequired), nil, &code)
		return
	}

	writeJSON(w, http.StatusOK, admissionResponse{Tier: tier, Admission: admission})
}

// remainingUserTokens resolves the balance for an admission request and
// writes the error response itself when it cannot.
func (r *Router) remainingUserTokens(w http.ResponseWriter, ctx context.Context, body *admissionRequest) (int64, bool) {
	if body.RemainingUserTokens != nil {
		if *body.RemainingUserTokens < 0 {
			writeParamError(w, "remaining_user_tokens", "remaining_user_tokens must not be negative")
			return 0, false
		}
		return *body.RemainingUserTokens, true
	}

	if body.QuotaUserTokens == nil || body.UserID == "" {
		writeParamError(w, "remaining_user_tokens",
			"remaining_user_tokens is required unless user_id and quota_user_tokens are set")
		return 0, false
	}
	if r.store == nil {
		writeDomainError(w, ledger.ErrDisabled)
		return 0, false
	}

	queryCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	usage, err := r.store.UsageSince(queryCtx, body.UserID, utils.StartOfMonthUTC(utils.NowUTC()))
	if err != nil {
		r.logger.Error("Failed to query usage", "user_id", body.UserID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Failed to query usage")
		return 0, false
	}

	remaining := *body.QuotaUserTokens - usage.UserTokens
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

type breakdownRequest struct {
	ProviderTokens int64  `json:"provider_tokens"`
	Tier           string `json:"tier"`
	Divisor        *int64 `json:"divisor"` // nil selects the tier's billing divisor
}

type breakdownResponse struct {
	Tier      string             `json:"tier"`
	Breakdown metering.Breakdown `json:"breakdown"`
}

// costBreakdown prices a breakdownRequest with the tier engine
func (r *Router) costBreakdown(body breakdownRequest) (metering.Breakdown, string, error) {
	engine, tier, err := r.catalog.Engine(body.Tier)
	if err != nil {
		return metering.Breakdown{}, tier, err
	}

	var b metering.Breakdown
	if body.Divisor != nil {
		b, err = engine.CostBreakdown(body.ProviderTokens, *body.Divisor)
	} else {
		b, err = engine.CostBreakdownDefault(body.ProviderTokens)
	}
	return b, tier, err
}

func (r *Router) handleBreakdown(w http.ResponseWriter, req *http.Request) {
	var body breakdownRequest
	if !r.decodeBody(w, req, &body) {
		return
	}

	b, tier, err := r.costBreakdown(body)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, breakdownResponse{Tier: tier, Breakdown: b})
}

type billRequest struct {
	breakdownRequest
	RequestID string `json:"request_id"` // Idempotency key; generated when empty
	UserID    string `json:"user_id"`
	Model     string `json:"model"`
	Estimated bool   `json:"estimated"` // Bill from an estimate rather than a provider count
}

type billResponse struct {
	RequestID string             `json:"request_id"`
	Tier      string             `json:"tier"`
	Kind      ledger.Kind        `json:"kind"`
	Recorded  bool               `json:"recorded"`
	Breakdown metering.Breakdown `json:"breakdown"`
}

func (r *Router) handleBill(w http.ResponseWriter, req *http.Request) {
	var body billRequest
	if !r.decodeBody(w, req, &body) {
		return
	}

	body.UserID = strings.TrimSpace(body.UserID)
	if body.UserID == "" {
		writeParamError(w, "user_id", "user_id is required")
		return
	}

	b, tier, err := r.costBreakdown(body.breakdownRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	kind := ledger.KindActual
	if body.Estimated {
		kind = ledger.KindEstimate
	}

	entry := ledger.NewEntry(body.RequestID, body.UserID, tier, body.Model, kind, b)

	recorded := false
	if r.ledger != nil {
		if err := r.ledger.Log(entry); err != nil {
			r.logger.Error("Failed to record bill",
				"request_id", entry.RequestID,
				"user_id", entry.UserID,
				"error", err,
			)
			if errors.Is(err, ledger.ErrQueueFull) {
				r.metrics.RecordLedgerDrop()
			}
			writeDomainError(w, err)
			return
		}
		recorded = true
	}

	r.metrics.RecordBilling(tier, string(kind), b.UserTokens, b.ProviderCost, b.UserCost)

	writeJSON(w, http.StatusOK, billResponse{
		RequestID: entry.RequestID,
		Tier:      tier,
		Kind:      kind,
		Recorded:  recorded,
		Breakdown: b,
	})
}

type countRequest struct {
	promptRequest
	Counters []string `json:"counters"` // Empty selects every configured counter
}

type countResult struct {
	tokencount.Result
	Drift *tokencount.Drift `json:"drift,omitempty"`
}

type countResponse struct {
	Tier     string        `json:"tier"`
	Estimate int           `json:"estimate"`
	Results  []countResult `json:"results"`
}

func (r *Router) handleCount(w http.ResponseWriter, req *http.Request) {
	var body countRequest
	if !r.decodeBody(w, req, &body) {
		return
	}

	engine, tier, err := r.catalog.Engine(body.Tier)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	counters := r.counters.All()
	if len(body.Counters) > 0 {
		counters = make([]tokencount.Counter, 0, len(body.Counters))
		for _, name := range body.Counters {
			c, err := r.counters.Get(name)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			counters = append(counters, c)
		}
	}

	estimate := engine.CountInputTokens(body.SystemPrompt, body.UserPrompt)

	ctx, cancel := context.WithTimeout(req.Context(), r.requestTimeout)
	defer cancel()

	results := tokencount.CountAll(ctx, counters, body.SystemPrompt, body.UserPrompt, r.countConcurrency)

	resp := countResponse{
		Tier:     tier,
		Estimate: estimate,
		Results:  make([]countResult, 0, len(results)),
	}
	for _, res := range results {
		r.metrics.RecordTokenCount(res.Counter, res.Err)
		if res.Err != nil {
			r.logger.Warn("Token count failed", "counter", res.Counter, "error", res.Err)
		}

		cr := countResult{Result: res}
		if res.Err == nil {
			drift := tokencount.EstimatorDrift(estimate, res.Tokens)
			cr.Drift = &drift
		}
		resp.Results = append(resp.Results, cr)
	}

	r.updateCacheMetrics()

	writeJSON(w, http.StatusOK, resp)
}

// updateCacheMetrics publishes hit rates of cached counters
func (r *Router) updateCacheMetrics() {
	for _, c := range r.counters.All() {
		if cached, ok := c.(*tokencount.CachedCounter); ok {
			r.metrics.UpdateCountCacheHitRate(cached.Name(), cached.Stats().HitRate)
		}
	}
}

type tiersResponse struct {
	DefaultTier string             `json:"default_tier"`
	Tiers       []pricing.TierInfo `json:"tiers"`
}

func (r *Router) handleTiers(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, tiersResponse{
		DefaultTier: r.catalog.DefaultTier(),
		Tiers:       r.catalog.Tiers(),
	})
}

type usageResponse struct {
	Since time.Time `json:"since"`
	ledger.Usage
}

func (r *Router) handleUsage(w http.ResponseWriter, req *http.Request) {
	if r.store == nil {
		writeDomainError(w, ledger.ErrDisabled)
		return
	}

	query := req.URL.Query()
	userID := strings.TrimSpace(query.Get("user_id"))
	if userID == "" {
		writeParamError(w, "user_id", "user_id query parameter is required")
		return
	}

	since := utils.StartOfMonthUTC(utils.NowUTC())
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeParamError(w, "since", fmt.Sprintf("since must be RFC3339: %v", err))
			return
		}
		since = parsed.UTC()
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.requestTimeout)
	defer cancel()

	usage, err := r.store.UsageSince(ctx, userID, since)
	if err != nil {
		r.logger.Error("Failed to query usage", "user_id", userID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Failed to query usage")
		return
	}

	writeJSON(w, http.StatusOK, usageResponse{Since: since, Usage: usage})
}
