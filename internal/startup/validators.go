// Package startup runs non-blocking checks before the server accepts traffic.
package startup

import (
	"context"
	"log/slog"
	"time"

	"github.com/mixaill76/token_meter/internal/auth"
	"github.com/mixaill76/token_meter/internal/config"
	"github.com/mixaill76/token_meter/internal/tokencount"
)

// ProbeTimeout bounds each counter probe
const ProbeTimeout = 5 * time.Second

// probePrompt is counted by every counter during the startup probe
const probePrompt = "ping"

// CounterReport summarizes the startup probe
type CounterReport struct {
	Total       int
	Reachable   int
	Unreachable []string
}

// ValidateVertexCredentials checks service account keys of vertex counters.
// Problems are logged as warnings; startup continues.
func ValidateVertexCredentials(cfg config.CountersConfig, log *slog.Logger) int {
	invalid := 0
	for _, p := range cfg.Providers {
		if p.Type != config.CounterTypeVertex {
			continue
		}
		if err := auth.ValidateCredentials(p.CredentialsFile, p.CredentialsJSON); err != nil {
			invalid++
			log.Warn("Vertex counter credentials invalid",
				"name", p.Name,
				"error", err.Error(),
				"recommendation", "Provide a service account key via credentials_file or credentials_json",
			)
		}
	}
	return invalid
}

// ProbeCountersAtStartup counts a tiny prompt with every counter.
// Unreachable counters are logged as WARN but startup continues; they are
// retried on each /v1/count request.
func ProbeCountersAtStartup(ctx context.Context, counters []tokencount.Counter, log *slog.Logger) CounterReport {
	report := CounterReport{Total: len(counters)}
	if len(counters) == 0 {
		return report
	}

	log.Info("Probing token counters at startup", "total_counters", len(counters))

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	for _, res := range tokencount.CountAll(probeCtx, counters, "", probePrompt, 0) {
		if res.Err != nil {
			report.Unreachable = append(report.Unreachable, res.Counter)
			log.Warn("Token counter unreachable at startup",
				"name", res.Counter,
				"error", res.Error,
				"recommendation", "Check api_key, model and base_url; /v1/count will report this counter's error until it recovers",
			)
			continue
		}
		report.Reachable++
		log.Debug("Token counter reachable at startup",
			"name", res.Counter,
			"tokens", res.Tokens,
			"duration", res.Duration,
		)
	}

	log.Info("Token counter probe completed at startup",
		"total_counters", report.Total,
		"reachable", report.Reachable,
		"unreachable", len(report.Unreachable),
	)

	if report.Reachable == 0 {
		log.Error("All token counters are unreachable at startup",
			"total", report.Total,
			"impact", "/v1/count returns only the heuristic estimate until a counter recovers",
		)
	}
	return report
}
