package judge

import (
	"context"
	"errors"
	"fmt"
	"github.com/cenkalti/backoff/v5"
	"github.com/elmanelman/sql-judge/config"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"time"
)

var (
	ErrEmptyQuery   = errors.New("empty query")
	errNoDatabase   = errors.New("instance has no open database")
	errRowsExceeded = errors.New("result row limit exceeded")
)

// Result is the outcome of running one query. Rows is nil for statements
// that do not return rows.
type Result struct {
	Success bool

	Columns []string
	Rows    [][]string

	RowsAffected int64
	Message      string

	Error             string
	ConnectionFailure bool

	Duration time.Duration
}

type Executor struct {
	logger         *zap.Logger
	timeout        time.Duration
	maxRows        int
	connectRetries int
}

func NewExecutor(logger *zap.Logger, cfg config.ExecutorConfig) *Executor {
	return &Executor{
		logger:         logger,
		timeout:        cfg.QueryTimeoutDuration(),
		maxRows:        cfg.MaxRows,
		connectRetries: cfg.ConnectRetries,
	}
}

// Run executes query against db. Engine errors are reported in the result,
// never returned.
func (e *Executor) Run(ctx context.Context, db *sqlx.DB, query string) Result {
	start := time.Now()
	result := e.run(ctx, db, query)
	result.Duration = time.Since(start)
	return result
}

func (e *Executor) run(ctx context.Context, db *sqlx.DB, query string) Result {
	if isBlankQuery(query) {
		return failure(ErrEmptyQuery)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.acquire(ctx, db)
	if err != nil {
		e.logger.Warn("connection to instance failed", zap.Error(err))
		return Result{
			Error:             fmt.Sprintf("connection failed: %v", err),
			ConnectionFailure: true,
		}
	}
	defer conn.Close()

	var result Result
	if isReadQuery(query) {
		result, err = e.query(ctx, conn, query)
	} else {
		result, err = e.exec(ctx, conn, query)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure(fmt.Errorf("query exceeded time limit of %s", e.timeout))
		}
		return failure(err)
	}
	return result
}

// acquire takes a dedicated connection, retrying transient failures.
func (e *Executor) acquire(ctx context.Context, db *sqlx.DB) (*sqlx.Conn, error) {
	if db == nil {
		return nil, errNoDatabase
	}
	return backoff.Retry(ctx, func() (*sqlx.Conn, error) {
		conn, err := db.Connx(ctx)
		if err != nil {
			return nil, err
		}
		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(e.connectRetries+1)),
	)
}

func (e *Executor) query(ctx context.Context, conn *sqlx.Conn, query string) (Result, error) {
	rows, err := conn.QueryxContext(ctx, query)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return Result{}, err
	}
	types := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		types[i] = ct.DatabaseTypeName()
	}

	result := Result{
		Success: true,
		Columns: columns,
		Rows:    [][]string{},
	}
	for rows.Next() {
		if len(result.Rows) == e.maxRows {
			return Result{}, fmt.Errorf("%w: more than %d rows", errRowsExceeded, e.maxRows)
		}
		values, err := rows.SliceScan()
		if err != nil {
			return Result{}, err
		}
		result.Rows = append(result.Rows, NormalizeRow(values, types))
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return result, nil
}

// exec runs a statement that returns no rows in its own transaction.
func (e *Executor) exec(ctx context.Context, conn *sqlx.Conn, query string) (Result, error) {
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	res, err := tx.ExecContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return Result{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	return Result{
		Success:      true,
		RowsAffected: affected,
		Message:      fmt.Sprintf("Query executed successfully. %d rows affected.", affected),
	}, nil
}

func failure(err error) Result {
	return Result{Error: err.Error()}
}
