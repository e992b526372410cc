package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a single-file Store for local deployments and tests
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger: sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		strings.ReplaceAll(QueryCreateLedgerTable, "DOUBLE PRECISION", "REAL"),
		QueryCreateLedgerUserIndex,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ledger: init sqlite schema: %w", err)
		}
	}
	return nil
}

// InsertBatch inserts entries in one transaction, one statement per
// chunk that fits SQLite's variable limit
func (s *SQLiteStore) InsertBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, chunk := range chunkEntries(entries, rowsPerInsert(sqliteMaxParams)) {
		query := buildBatchInsertQuery(len(chunk), questionPlaceholder)
		if _, err := tx.ExecContext(ctx, query, batchParams(chunk)...); err != nil {
			return fmt.Errorf("batch insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// UsageSince sums a user's rows created at or after since
func (s *SQLiteStore) UsageSince(ctx context.Context, userID string, since time.Time) (Usage, error) {
	usage := Usage{UserID: userID}
	err := s.db.QueryRowContext(ctx, buildUsageQuery(questionPlaceholder), userID, since.UTC()).Scan(
		&usage.Requests,
		&usage.ProviderTokens,
		&usage.UserTokens,
		&usage.ProviderCost,
		&usage.UserCost,
	)
	if err != nil {
		return usage, fmt.Errorf("usage query: %w", err)
	}
	return usage, nil
}

// Ping runs the health check query
func (s *SQLiteStore) Ping(ctx context.Context) error {
	var result int
	return s.db.QueryRowContext(ctx, QueryHealthCheck).Scan(&result)
}

// Close closes the database
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}
