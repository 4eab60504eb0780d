// Package executor routes statements to one of two connection pools: report
// queries go to a read-only pool, definition-store statements to a
// read-write pool. It never inspects SQL text; the read-only guarantee comes
// from the credential behind the read-only pool.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sqlreport/internal/domain/query"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Pool names the pool a statement was routed to.
type Pool string

const (
	PoolReadOnly  Pool = "read-only"
	PoolReadWrite Pool = "read-write"
)

// QueryError is returned for any database failure on either pool. Message is
// the driver's text, passed through unchanged.
type QueryError struct {
	Pool    Pool
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s query failed: %s", e.Pool, e.Message)
}

func (e *QueryError) Unwrap() error { return e.Err }

func newQueryError(pool Pool, err error) *QueryError {
	return &QueryError{Pool: pool, Message: err.Error(), Err: err}
}

// ExecResult is the outcome of a read-write statement. InsertedID is zero when
// the driver cannot report it (lib/pq, for one).
type ExecResult struct {
	RowsAffected int64 `json:"rows_affected"`
	InsertedID   int64 `json:"inserted_id"`
}

// Options tune statement execution.
type Options struct {
	// QueryTimeout bounds one statement, time spent waiting for a free
	// connection included. Zero means no timeout.
	QueryTimeout time.Duration
}

// Executor owns both pools. Nothing else in the service holds the read-only pool.
type Executor struct {
	rw     *gorm.DB
	ro     *sql.DB
	opts   Options
	logger *logrus.Logger
}

// New builds an Executor from explicitly constructed pools.
func New(rw *gorm.DB, ro *sql.DB, opts Options, logger *logrus.Logger) *Executor {
	return &Executor{rw: rw, ro: ro, opts: opts, logger: logger}
}

// ReadWrite returns the read-write handle for the definition store.
func (e *Executor) ReadWrite() *gorm.DB {
	return e.rw
}

// QueryReadOnly runs a built report query on the read-only pool.
func (e *Executor) QueryReadOnly(ctx context.Context, sqlText string) (*query.ResultSet, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	logger := e.logger.WithField("pool", PoolReadOnly)

	rows, err := e.ro.QueryContext(ctx, sqlText)
	if err != nil {
		logger.WithError(err).Warn("Ошибка выполнения запроса отчета")
		return nil, newQueryError(PoolReadOnly, err)
	}
	defer rows.Close()

	rs, err := scanRows(rows)
	if err != nil {
		logger.WithError(err).Warn("Ошибка чтения результата запроса")
		return nil, newQueryError(PoolReadOnly, err)
	}

	logger.WithFields(logrus.Fields{
		"rows":     rs.Len(),
		"columns":  len(rs.Columns),
		"duration": time.Since(start),
	}).Debug("Запрос отчета выполнен")
	return rs, nil
}

// ExecReadWrite runs a template-management statement on the read-write pool.
// Placeholders in sqlText must use the dialect of the configured driver.
func (e *Executor) ExecReadWrite(ctx context.Context, sqlText string, args ...any) (ExecResult, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	db, err := e.rw.DB()
	if err != nil {
		return ExecResult{}, newQueryError(PoolReadWrite, err)
	}

	res, err := db.ExecContext(ctx, sqlText, args...)
	if err != nil {
		e.logger.WithError(err).WithField("pool", PoolReadWrite).Warn("Ошибка выполнения изменяющего запроса")
		return ExecResult{}, newQueryError(PoolReadWrite, err)
	}

	var out ExecResult
	if n, err := res.RowsAffected(); err == nil {
		out.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		out.InsertedID = id
	}
	return out, nil
}

// Ping checks both pools.
func (e *Executor) Ping(ctx context.Context) error {
	if err := e.ro.PingContext(ctx); err != nil {
		return newQueryError(PoolReadOnly, err)
	}
	db, err := e.rw.DB()
	if err != nil {
		return newQueryError(PoolReadWrite, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return newQueryError(PoolReadWrite, err)
	}
	return nil
}

// Close releases both pools. A nil read-only pool is skipped.
func (e *Executor) Close() error {
	var roErr error
	if e.ro != nil {
		roErr = e.ro.Close()
	}
	db, err := e.rw.DB()
	if err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}
	return roErr
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.QueryTimeout)
}

// scanRows copies a result into a ResultSet keeping driver column order.
func scanRows(rows *sql.Rows) (*query.ResultSet, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	rs := &query.ResultSet{
		Columns: make([]query.Column, len(types)),
		Rows:    make([][]any, 0),
	}
	for i, ct := range types {
		rs.Columns[i] = query.Column{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		vals := make([]any, len(types))
		ptrs := make([]any, len(types))
		for i := range ptrs {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			// drivers may reuse the buffer behind []byte after the next Scan
			if b, ok := v.([]byte); ok {
				vals[i] = append([]byte(nil), b...)
			}
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}
