// Package executor runs validated statements against the warehouse with a
// concurrency cap, a per-statement timeout and a hard row ceiling.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusy means no execution slot freed up within the acquire timeout.
	ErrBusy = errors.New("executor: too many concurrent queries")
	// ErrTimeout means the statement exceeded its execution deadline.
	ErrTimeout = errors.New("executor: query timed out")
)

type Config struct {
	MaxConcurrent    int
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
	MaxResultRows    int
}

// Result is one executed statement's output in display order. Values are
// decoded into JSON-friendly types.
type Result struct {
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Duration  time.Duration    `json:"duration"`
}

type Executor struct {
	db               *sql.DB
	slots            chan struct{}
	acquireTimeout   time.Duration
	statementTimeout time.Duration
	maxRows          int
}

func New(db *sql.DB, cfg Config) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 30 * time.Second
	}
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = 10000
	}
	return &Executor{
		db:               db,
		slots:            make(chan struct{}, cfg.MaxConcurrent),
		acquireTimeout:   cfg.AcquireTimeout,
		statementTimeout: cfg.StatementTimeout,
		maxRows:          cfg.MaxResultRows,
	}
}

// Query runs one read statement. The caller is expected to have validated
// it; rows past the configured ceiling are dropped and Truncated is set.
func (e *Executor) Query(ctx context.Context, query string, args ...any) (Result, error) {
	timer := time.NewTimer(e.acquireTimeout)
	defer timer.Stop()
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-timer.C:
		return Result{}, ErrBusy
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	qctx, cancel := context.WithTimeout(ctx, e.statementTimeout)
	defer cancel()

	start := time.Now()
	rows, err := e.db.QueryContext(qctx, query, args...)
	if err != nil {
		return Result{}, e.classify(qctx, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read result columns: %w", err)
	}

	result := Result{Columns: columns, Rows: []map[string]any{}}
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	for rows.Next() {
		if len(result.Rows) >= e.maxRows {
			result.Truncated = true
			break
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, fmt.Errorf("scan result row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, e.classify(qctx, err)
	}

	result.RowCount = len(result.Rows)
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Executor) classify(qctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(qctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, e.statementTimeout, err)
	}
	return fmt.Errorf("execute query: %w", err)
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case time.Time:
		return value.Format(time.RFC3339)
	default:
		return v
	}
}
