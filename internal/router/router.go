// Package router serves the metering HTTP API.
package router

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mixaill76/token_meter/internal/auth"
	"github.com/mixaill76/token_meter/internal/config"
	"github.com/mixaill76/token_meter/internal/health"
	"github.com/mixaill76/token_meter/internal/ledger"
	"github.com/mixaill76/token_meter/internal/monitoring"
	"github.com/mixaill76/token_meter/internal/pricing"
	"github.com/mixaill76/token_meter/internal/tokencount"
)

// API paths
const (
	PathEstimate  = "/v1/estimate"
	PathAdmission = "/v1/admission"
	PathBill      = "/v1/bill"
	PathBreakdown = "/v1/breakdown"
	PathCount     = "/v1/count"
	PathTiers     = "/v1/tiers"
	PathUsage     = "/v1/usage"
)

// Config wires the router to its dependencies. Ledger, Store, Health and
// Counters may be nil when the matching feature is disabled.
type Config struct {
	Catalog    *pricing.Catalog
	Counters   *tokencount.Registry
	Ledger     *ledger.Writer
	Store      ledger.Store
	Health     *health.Checker
	Metrics    *monitoring.Metrics
	Logger     *slog.Logger
	Monitoring *config.MonitoringConfig

	MasterKey        string
	MaxBodySizeMB    int
	RequestTimeout   time.Duration
	CountConcurrency int // Concurrent provider counters per /v1/count (default: 4)
}

type Router struct {
	catalog    *pricing.Catalog
	counters   *tokencount.Registry
	ledger     *ledger.Writer
	store      ledger.Store
	health     *health.Checker
	metrics    *monitoring.Metrics
	logger     *slog.Logger
	monitoring *config.MonitoringConfig

	masterKey        string
	maxBodyBytes     int64
	requestTimeout   time.Duration
	countConcurrency int

	routes map[string]route
}

type route struct {
	method  string
	handler func(w http.ResponseWriter, req *http.Request)
}

func New(cfg *Config) *Router {
	r := &Router{
		catalog:          cfg.Catalog,
		counters:         cfg.Counters,
		ledger:           cfg.Ledger,
		store:            cfg.Store,
		health:           cfg.Health,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		monitoring:       cfg.Monitoring,
		masterKey:        cfg.MasterKey,
		maxBodyBytes:     int64(cfg.MaxBodySizeMB) * 1024 * 1024,
		requestTimeout:   cfg.RequestTimeout,
		countConcurrency: cfg.CountConcurrency,
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.monitoring == nil {
		r.monitoring = &config.MonitoringConfig{HealthCheckPath: "/health"}
	}
	if r.counters == nil {
		r.counters = tokencount.NewRegistry()
	}
	if r.maxBodyBytes <= 0 {
		r.maxBodyBytes = 1024 * 1024
	}
	if r.requestTimeout <= 0 {
		r.requestTimeout = 30 * time.Second
	}
	if r.countConcurrency <= 0 {
		r.countConcurrency = 4
	}

	r.routes = map[string]route{
		PathEstimate:  {http.MethodPost, r.handleEstimate},
		PathAdmission: {http.MethodPost, r.handleAdmission},
		PathBill:      {http.MethodPost, r.handleBill},
		PathBreakdown: {http.MethodPost, r.handleBreakdown},
		PathCount:     {http.MethodPost, r.handleCount},
		PathTiers:     {http.MethodGet, r.handleTiers},
		PathUsage:     {http.MethodGet, r.handleUsage},
	}
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path == r.monitoring.HealthCheckPath {
		r.handleHealth(w, req)
		return
	}

	if !strings.HasPrefix(req.URL.Path, "/v1/") {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	start := time.Now()
	rc := newResponseCapture(w)
	r.serveAPI(rc, req)
	r.metrics.RecordRequest(req.URL.Path, rc.statusCode, time.Since(start))

	if isErrorStatus(rc.statusCode) {
		r.logger.Debug("Request failed",
			"path", req.URL.Path,
			"method", req.Method,
			"status", rc.statusCode,
			"headers", maskedHeaders(req),
			"response", rc.body.String(),
		)
	}
}

func (r *Router) serveAPI(w http.ResponseWriter, req *http.Request) {
	rt, ok := r.routes[req.URL.Path]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown endpoint: %s", req.URL.Path))
		return
	}

	if !auth.CheckMasterKey(req, r.masterKey) {
		writeError(w, http.StatusUnauthorized, "Invalid or missing master key")
		return
	}

	if req.Method != rt.method {
		w.Header().Set("Allow", rt.method)
		writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("Method %s not allowed, use %s", req.Method, rt.method))
		return
	}

	rt.handler(w, req)
}

// decodeBody reads a size-capped JSON body into v and writes the error
// response itself on failure.
func (r *Router) decodeBody(w http.ResponseWriter, req *http.Request, v interface{}) bool {
	if req.Body == nil {
		writeError(w, http.StatusBadRequest, "Request body is required")
		return false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body too large (max %d bytes)", maxErr.Limit))
			return false
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return false
	}

	if r.logger.Enabled(req.Context(), slog.LevelDebug) {
		r.logger.Debug("Request body",
			"path", req.URL.Path,
			"body", truncateBody(body),
		)
	}

	if err := json.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON body: %v", err))
		return false
	}
	return true
}
