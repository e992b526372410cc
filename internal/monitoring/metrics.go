package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_meter_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "token_meter_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"endpoint"},
	)

	EstimatedTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_meter_estimated_tokens_total",
			Help: "Total estimated provider tokens by direction",
		},
		[]string{"tier", "direction"},
	)

	BilledUserTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_meter_billed_user_tokens_total",
			Help: "Total user tokens billed",
		},
		[]string{"tier", "kind"},
	)

	ProviderCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_meter_provider_cost_total",
			Help: "Total provider cost incurred",
		},
		[]string{"tier"},
	)

	UserCostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_meter_user_cost_total",
			Help: "Total cost charged to users",
		},
		[]string{"tier"},
	)

	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_meter_admissions_total",
			Help: "Admission decisions by outcome",
		},
		[]string{"tier", "outcome"},
	)

	LedgerQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "token_meter_ledger_queue_length",
			Help: "Current number of ledger entries waiting to be written",
		},
	)

	LedgerEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_meter_ledger_entries_total",
			Help: "Ledger entries by result (written, failed, dropped)",
		},
		[]string{"result"},
	)

	TokenCountsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_meter_token_counts_total",
			Help: "Exact token count calls by counter and status",
		},
		[]string{"counter", "status"},
	)

	CountCacheHitRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "token_meter_count_cache_hit_rate",
			Help: "Count cache hit rate in percent",
		},
		[]string{"counter"},
	)

	TierReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_meter_tier_reloads_total",
			Help: "Pricing tier reloads by status",
		},
		[]string{"status"},
	)
)

type Metrics struct {
	enabled bool
}

func New(enabled bool) *Metrics {
	return &Metrics{
		enabled: enabled,
	}
}

func (m *Metrics) isEnabled() bool {
	return m != nil && m.enabled
}

// statusLabel maps an error to "ok" or "error"
func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	if !m.isEnabled() {
		return
	}
	RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordEstimate(tier string, inputTokens, outputTokens int) {
	if !m.isEnabled() {
		return
	}
	EstimatedTokensTotal.WithLabelValues(tier, "input").Add(float64(inputTokens))
	EstimatedTokensTotal.WithLabelValues(tier, "output").Add(float64(outputTokens))
}

func (m *Metrics) RecordBilling(tier, kind string, userTokens int64, providerCost, userCost float64) {
	if !m.isEnabled() {
		return
	}
	BilledUserTokensTotal.WithLabelValues(tier, kind).Add(float64(userTokens))
	ProviderCostTotal.WithLabelValues(tier).Add(providerCost)
	UserCostTotal.WithLabelValues(tier).Add(userCost)
}

func (m *Metrics) RecordAdmission(tier string, allowed bool) {
	if !m.isEnabled() {
		return
	}
	outcome := "rejected"
	if allowed {
		outcome = "allowed"
	}
	AdmissionsTotal.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) UpdateLedgerQueue(length int) {
	if !m.isEnabled() {
		return
	}
	LedgerQueueLength.Set(float64(length))
}

// RecordLedgerFlush counts a flushed batch as written or failed
func (m *Metrics) RecordLedgerFlush(size int, err error) {
	if !m.isEnabled() {
		return
	}
	result := "written"
	if err != nil {
		result = "failed"
	}
	LedgerEntriesTotal.WithLabelValues(result).Add(float64(size))
}

func (m *Metrics) RecordLedgerDrop() {
	if !m.isEnabled() {
		return
	}
	LedgerEntriesTotal.WithLabelValues("dropped").Inc()
}

func (m *Metrics) RecordTokenCount(counter string, err error) {
	if !m.isEnabled() {
		return
	}
	TokenCountsTotal.WithLabelValues(counter, statusLabel(err)).Inc()
}

func (m *Metrics) UpdateCountCacheHitRate(counter string, hitRate float64) {
	if !m.isEnabled() {
		return
	}
	CountCacheHitRate.WithLabelValues(counter).Set(hitRate)
}

func (m *Metrics) RecordTierReload(err error) {
	if !m.isEnabled() {
		return
	}
	TierReloadsTotal.WithLabelValues(statusLabel(err)).Inc()
}
