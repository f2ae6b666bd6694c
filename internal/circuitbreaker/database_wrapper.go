package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper guards an sqlx handle with a circuit breaker. sql.ErrNoRows is a
// normal outcome and never trips the breaker.
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *CircuitBreaker
	name   string
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := db.DriverName()
	cfg := DatabaseSettings().ToConfig()
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, context.Canceled)
	}
	cb := NewCircuitBreaker(name, cfg, logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, "checkpoint-store", cb)

	return &DatabaseWrapper{db: db, cb: cb, name: name, logger: logger}
}

func (dw *DatabaseWrapper) record(err error) {
	GlobalMetricsCollector.RecordRequest(dw.name, "checkpoint-store", dw.cb.State(), err == nil || !dw.cb.isFailure(err))
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
	dw.record(err)
	return err
}

// ExecContext wraps database exec with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := Call(ctx, dw.cb, func() (sql.Result, error) {
		return dw.db.ExecContext(ctx, dw.db.Rebind(query), args...)
	})
	dw.record(err)
	return res, err
}

// GetContext scans a single row into dest.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.GetContext(ctx, dest, dw.db.Rebind(query), args...)
	})
	dw.record(err)
	return err
}

// SelectContext scans all rows into dest.
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, dw.db.Rebind(query), args...)
	})
	dw.record(err)
	return err
}

// InTx runs fn in a transaction, committing on nil and rolling back otherwise.
// The whole transaction counts as one breaker request.
func (dw *DatabaseWrapper) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	err := dw.cb.Execute(ctx, func() error {
		tx, err := dw.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	dw.record(err)
	return err
}

// Rebind converts '?' placeholders to the driver's bindvar style.
func (dw *DatabaseWrapper) Rebind(query string) string {
	return dw.db.Rebind(query)
}

// Close closes the underlying handle.
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// DB returns the underlying handle for migrations and health checks.
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
