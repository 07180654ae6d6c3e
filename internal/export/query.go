package export

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/runboard/internal/event"
)

// QueryService serves SQL over the Parquet snapshots in one directory.
// It uses an in-memory DuckDB instance reading the snapshot files directly.
type QueryService struct {
	mu sync.RWMutex

	dir string
	db  *sql.DB

	// Statistics
	stats QueryStats
}

// QueryStats holds query statistics.
type QueryStats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// SeriesQuery defines parameters for querying one series from snapshots.
type SeriesQuery struct {
	Run      string
	Kind     event.Kind
	Tag      string
	MinStep  int64 // inclusive, 0 = no lower bound
	MaxStep  int64 // inclusive, 0 = no upper bound
	Limit    int
	Snapshot string // specific snapshot file; empty = all snapshots
}

// NewQueryService opens a query service over the snapshot directory.
func NewQueryService(dir string) (*QueryService, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	return &QueryService{
		dir: dir,
		db:  db,
	}, nil
}

// glob returns the read_parquet source for the query.
func (s *QueryService) glob(snapshot string) string {
	if snapshot != "" {
		return snapshot
	}
	return filepath.Join(s.dir, "snapshot-*.parquet")
}

// QuerySeries returns sampled rows for one series from the snapshots,
// ordered by step.
func (s *QueryService) QuerySeries(ctx context.Context, q SeriesQuery) ([]SeriesRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT run, kind, tag, wall_time, step, value, has_value, payload
		FROM read_parquet(?)
		WHERE run = ? AND kind = ? AND tag = ?`
	args := []interface{}{s.glob(q.Snapshot), q.Run, q.Kind.String(), q.Tag}

	if q.MinStep > 0 {
		query += " AND step >= ?"
		args = append(args, q.MinStep)
	}
	if q.MaxStep > 0 {
		query += " AND step <= ?"
		args = append(args, q.MaxStep)
	}
	query += " ORDER BY step"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.stats.Errors++
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	var results []SeriesRow
	for rows.Next() {
		var r SeriesRow
		if err := rows.Scan(&r.Run, &r.Kind, &r.Tag, &r.WallTime, &r.Step,
			&r.Value, &r.HasValue, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		results = append(results, r)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}

// ExecuteSQL executes a raw SQL query against the snapshots.
// This is useful for ad-hoc analysis and debugging.
func (s *QueryService) ExecuteSQL(ctx context.Context, query string) ([]map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.stats.Errors++
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	s.stats.QueriesExecuted++
	s.stats.RowsReturned += int64(len(results))

	return results, rows.Err()
}

// Stats returns query statistics.
func (s *QueryService) Stats() QueryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Close closes the service.
func (s *QueryService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
