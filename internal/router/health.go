package router

import (
	"net/http"
	"time"

	"github.com/mixaill76/token_meter/internal/ledger"
	"github.com/mixaill76/token_meter/internal/utils"
)

type healthResponse struct {
	Status      string              `json:"status"`
	Ledger      string              `json:"ledger"`
	LedgerQueue *ledger.WriterStats `json:"ledger_queue,omitempty"`
	DefaultTier string              `json:"default_tier"`
	Tiers       int                 `json:"tiers"`
	Counters    []string            `json:"counters"`
	Timestamp   string              `json:"timestamp"`
}

// handleHealth reports 503 only when an enabled ledger is unhealthy
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	body := healthResponse{
		Status:      "healthy",
		Ledger:      "disabled",
		DefaultTier: r.catalog.DefaultTier(),
		Tiers:       len(r.catalog.Tiers()),
		Counters:    r.counters.Names(),
		Timestamp:   utils.NowUTC().Format(time.RFC3339),
	}

	status := http.StatusOK
	if r.ledger != nil {
		stats := r.ledger.Stats()
		body.LedgerQueue = &stats
		body.Ledger = r.health.Status()
		r.metrics.UpdateLedgerQueue(stats.QueueLen)

		if !r.health.IsHealthy() {
			body.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, body)
}
