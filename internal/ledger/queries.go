package ledger

import (
	"fmt"
	"strings"
)

// SQL for the usage_ledger table. The DDL is portable between PostgreSQL
// and SQLite; only parameter placeholders differ.

const (
	// QueryCreateLedgerTable creates the ledger table
	QueryCreateLedgerTable = `
		CREATE TABLE IF NOT EXISTS usage_ledger (
			request_id            TEXT PRIMARY KEY,
			created_at            TIMESTAMP NOT NULL,
			user_id               TEXT NOT NULL DEFAULT '',
			tier                  TEXT NOT NULL DEFAULT '',
			model                 TEXT NOT NULL DEFAULT '',
			kind                  TEXT NOT NULL,
			provider_tokens       BIGINT NOT NULL,
			user_tokens           BIGINT NOT NULL,
			divisor               BIGINT NOT NULL,
			provider_cost         DOUBLE PRECISION NOT NULL,
			user_cost             DOUBLE PRECISION NOT NULL,
			profit_margin_percent DOUBLE PRECISION
		)
	`

	// QueryCreateLedgerUserIndex supports per-user usage queries
	QueryCreateLedgerUserIndex = `
		CREATE INDEX IF NOT EXISTS usage_ledger_user_created_idx
		ON usage_ledger (user_id, created_at)
	`

	// QueryHealthCheck is a trivial round trip
	QueryHealthCheck = `SELECT 1`
)

// Bind parameter limits of the supported drivers
const (
	postgresMaxParams = 65535
	sqliteMaxParams   = 32766
)

// rowsPerInsert returns how many entries fit in one INSERT under maxParams
func rowsPerInsert(maxParams int) int {
	return maxParams / entryParamCount
}

// chunkEntries splits entries into consecutive slices of at most size
func chunkEntries(entries []*Entry, size int) [][]*Entry {
	if size <= 0 {
		size = len(entries)
	}
	chunks := make([][]*Entry, 0, (len(entries)+size-1)/max(size, 1))
	for len(entries) > 0 {
		n := min(size, len(entries))
		chunks = append(chunks, entries[:n])
		entries = entries[n:]
	}
	return chunks
}

// placeholderFunc renders the n-th (1-based) parameter placeholder
type placeholderFunc func(n int) string

// dollarPlaceholder renders PostgreSQL placeholders ($1, $2, ...)
func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// questionPlaceholder renders SQLite placeholders
func questionPlaceholder(int) string { return "?" }

// BuildBatchInsertQuery builds a PostgreSQL batch INSERT for count entries
func BuildBatchInsertQuery(count int) string {
	return buildBatchInsertQuery(count, dollarPlaceholder)
}

func buildBatchInsertQuery(count int, placeholder placeholderFunc) string {
	if count <= 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(300 + count*entryParamCount*5) // Pre-allocate

	b.WriteString(`
		INSERT INTO usage_ledger (
			request_id, created_at, user_id, tier, model, kind,
			provider_tokens, user_tokens, divisor,
			provider_cost, user_cost, profit_margin_percent
		) VALUES `)

	paramIdx := 1
	for i := 0; i < count; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := 0; j < entryParamCount; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(placeholder(paramIdx))
			paramIdx++
		}
		b.WriteString(")")
	}

	b.WriteString(" ON CONFLICT (request_id) DO NOTHING")
	return b.String()
}

// buildUsageQuery sums one user's rows since a timestamp
func buildUsageQuery(placeholder placeholderFunc) string {
	return `
		SELECT
			COUNT(*),
			COALESCE(SUM(provider_tokens), 0),
			COALESCE(SUM(user_tokens), 0),
			COALESCE(SUM(provider_cost), 0),
			COALESCE(SUM(user_cost), 0)
		FROM usage_ledger
		WHERE user_id = ` + placeholder(1) + ` AND created_at >= ` + placeholder(2)
}
