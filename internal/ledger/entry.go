// Package ledger persists cost breakdowns to an accounting store.
//
// Entries are queued by a Writer and inserted in batches; the store is
// either PostgreSQL (pgx) or SQLite.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mixaill76/token_meter/internal/metering"
	"github.com/mixaill76/token_meter/internal/utils"
)

// ==================== Errors ====================

var (
	// ErrDisabled is returned when the ledger is disabled
	ErrDisabled = errors.New("ledger: disabled")

	// ErrQueueFull is returned when the queue stays full past the wait timeout
	ErrQueueFull = errors.New("ledger: queue full - timeout reached")

	// ErrClosed is returned when logging to a writer that has shut down
	ErrClosed = errors.New("ledger: writer closed")
)

// Kind tells whether an entry was billed from an estimate or an actual count
type Kind string

const (
	KindEstimate Kind = "estimate"
	KindActual   Kind = "actual"
)

// ==================== Entry ====================

// Entry is one row of the usage ledger
type Entry struct {
	RequestID string    // UUID (PRIMARY KEY)
	CreatedAt time.Time // UTC

	UserID string
	Tier   string
	Model  string
	Kind   Kind

	ProviderTokens      int64
	UserTokens          int64
	Divisor             int64
	ProviderCost        float64
	UserCost            float64
	ProfitMarginPercent *float64 // NULL when undefined
}

// NewEntry builds an entry from a breakdown. An empty requestID gets a new UUID.
func NewEntry(requestID, userID, tier, model string, kind Kind, b metering.Breakdown) *Entry {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	var margin *float64
	if b.ProfitMarginPercent != nil {
		m := *b.ProfitMarginPercent
		margin = &m
	}

	return &Entry{
		RequestID:           requestID,
		CreatedAt:           utils.NowUTC(),
		UserID:              userID,
		Tier:                tier,
		Model:               model,
		Kind:                kind,
		ProviderTokens:      b.ProviderTokens,
		UserTokens:          b.UserTokens,
		Divisor:             b.Divisor,
		ProviderCost:        b.ProviderCost,
		UserCost:            b.UserCost,
		ProfitMarginPercent: margin,
	}
}

// entryParamCount is the number of parameters per entry in a batch insert
const entryParamCount = 12

// MaxBatchSize is the largest writer batch accepted by configuration.
// Stores still split larger InsertBatch calls to stay under their
// driver's bind parameter limit.
const MaxBatchSize = 1000

// Params returns the positional insert parameters for the entry
func (e *Entry) Params() []interface{} {
	return []interface{}{
		e.RequestID,           // $1
		e.CreatedAt,           // $2
		e.UserID,              // $3
		e.Tier,                // $4
		e.Model,               // $5
		string(e.Kind),        // $6
		e.ProviderTokens,      // $7
		e.UserTokens,          // $8
		e.Divisor,             // $9
		e.ProviderCost,        // $10
		e.UserCost,            // $11
		e.ProfitMarginPercent, // $12
	}
}

// batchParams returns all parameters for a batch insert
func batchParams(entries []*Entry) []interface{} {
	params := make([]interface{}, 0, len(entries)*entryParamCount)
	for _, entry := range entries {
		params = append(params, entry.Params()...)
	}
	return params
}

// Usage aggregates ledger rows for one user
type Usage struct {
	UserID         string  `json:"user_id"`
	Requests       int64   `json:"requests"`
	ProviderTokens int64   `json:"provider_tokens"`
	UserTokens     int64   `json:"user_tokens"`
	ProviderCost   float64 `json:"provider_cost"`
	UserCost       float64 `json:"user_cost"`
}

// Store persists ledger entries
type Store interface {
	// InsertBatch inserts all entries atomically; duplicate request IDs are ignored
	InsertBatch(ctx context.Context, entries []*Entry) error
	// UsageSince sums a user's rows created at or after since
	UsageSince(ctx context.Context, userID string, since time.Time) (Usage, error)
	Ping(ctx context.Context) error
	Close()
}

// ==================== Config ====================

// Config holds configuration for the ledger writer
type Config struct {
	QueueSize     int             // Queue buffer size (default: 10000)
	BatchSize     int             // Batch size for INSERT (default: 100)
	FlushInterval time.Duration   // Flush interval (default: 5s)
	EnqueueWait   time.Duration   // How long Log waits on a full queue (default: 5s)
	RetryBackoff  []time.Duration // Delay before each retry; len+1 attempts (default: 1s, 5s)

	Logger *slog.Logger
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		QueueSize:     10000,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		EnqueueWait:   5 * time.Second,
		RetryBackoff:  []time.Duration{1 * time.Second, 5 * time.Second},
	}
}

// ApplyDefaults applies default values to zero fields
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaults.FlushInterval
	}
	if c.EnqueueWait <= 0 {
		c.EnqueueWait = defaults.EnqueueWait
	}
	if c.RetryBackoff == nil {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// WriterStats holds writer statistics
type WriterStats struct {
	QueueLen  int    `json:"queue_len"`
	QueueCap  int    `json:"queue_cap"`
	Queued    uint64 `json:"queued"`
	Written   uint64 `json:"written"`
	Dropped   uint64 `json:"dropped"`
	Errors    uint64 `json:"errors"`
	BatchesOK uint64 `json:"batches_ok"`
}
