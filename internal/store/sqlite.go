package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
)

// SQLiteStore implements ResultStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the result database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS results (
		request_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		success INTEGER NOT NULL,
		kind TEXT,
		symbol TEXT,
		strategy TEXT,
		plugin_type TEXT,
		model TEXT,
		order_id TEXT,
		error TEXT,
		timed_out_step TEXT,
		attempts INTEGER DEFAULT 0,
		resolver_cost REAL DEFAULT 0,
		broker_cost REAL DEFAULT 0,
		processing_ns INTEGER DEFAULT 0,
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_at);
	CREATE INDEX IF NOT EXISTS idx_results_symbol ON results(symbol, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordResult stores a result, replacing any earlier row with the same
// request id.
func (s *SQLiteStore) RecordResult(ctx context.Context, r *models.TradingResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	var kind, symbol, orderID string
	if r.Intent != nil {
		kind, symbol = string(r.Intent.Kind), r.Intent.Symbol
	}
	if r.Execution != nil {
		orderID = r.Execution.OrderID
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO results (request_id, created_at, success, kind, symbol, strategy, plugin_type, model, order_id, error, timed_out_step, attempts, resolver_cost, broker_cost, processing_ns, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RequestID, created.UTC(), boolInt(r.Success), kind, symbol, string(r.Metadata.Strategy), r.Metadata.PluginType,
		r.Metadata.Model, orderID, r.Error, r.Metadata.TimedOutStep, r.Metadata.ExecutionAttempts,
		r.Metadata.Costs.Resolver, r.Metadata.Costs.Broker, int64(r.Metadata.ProcessingTime), string(payload))
	if err != nil {
		return fmt.Errorf("%w: failed to save result: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// Get returns one result by request id.
func (s *SQLiteStore) Get(ctx context.Context, requestID string) (*models.TradingResult, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM results WHERE request_id = ?", requestID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s not found", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get result: %v", apperrors.ErrDatabaseError, err)
	}
	return decode(payload)
}

// History returns results matching filter, newest first.
func (s *SQLiteStore) History(ctx context.Context, filter HistoryFilter) ([]*models.TradingResult, error) {
	query := "SELECT payload FROM results WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.Success != nil {
		query += " AND success = ?"
		args = append(args, boolInt(*filter.Success))
	}
	if filter.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, string(filter.Strategy))
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.Until.UTC())
	}

	query += " ORDER BY created_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*models.TradingResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r, err := decode(payload)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Stats aggregates results created at or after since. A zero since
// covers everything.
func (s *SQLiteStore) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	where, args := "", []interface{}{}
	if !since.IsZero() {
		where = " WHERE created_at >= ?"
		args = append(args, since.UTC())
	}

	stats := &Stats{ByStrategy: make(map[models.Strategy]int)}
	var avgNs sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(success), 0),
			COALESCE(SUM(CASE WHEN timed_out_step != '' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(resolver_cost), 0),
			COALESCE(SUM(broker_cost), 0),
			AVG(processing_ns)
		FROM results`+where, args...).Scan(&stats.Total, &stats.Succeeded, &stats.TimedOut, &stats.ResolverCost, &stats.BrokerCost, &avgNs)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate results: %w", err)
	}
	stats.Failed = stats.Total - stats.Succeeded
	if avgNs.Valid {
		stats.AvgLatency = time.Duration(avgNs.Float64)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT strategy, COUNT(*) FROM results"+where+" GROUP BY strategy", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group results: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var strategy string
		var count int
		if err := rows.Scan(&strategy, &count); err != nil {
			return nil, fmt.Errorf("failed to scan strategy count: %w", err)
		}
		if strategy != "" {
			stats.ByStrategy[models.Strategy(strategy)] = count
		}
	}
	return stats, rows.Err()
}

func decode(payload string) (*models.TradingResult, error) {
	var r models.TradingResult
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
