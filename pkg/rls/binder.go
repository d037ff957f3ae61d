// Package rls binds the active tenant to each checked-out database
// connection so row-level security predicates filter every query
// automatically. No query site binds anything by hand: handlers acquire
// connections through the Binder and the session variable is always in
// a known state.
package rls

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/locafleet/locafleet/pkg/observability"
	"github.com/locafleet/locafleet/pkg/tenancy"
)

// SessionVar is the session variable read by every row-level security
// predicate in the schema.
const SessionVar = "app.tenant_id"

// ErrBindFailed wraps any failure of the bind statement. A request must
// abort rather than run queries on an unbound connection.
var ErrBindFailed = errors.New("rls: failed to bind tenant to connection")

// Binder checks out connections from the pool with the tenant session
// variable set. Binding is connection-scoped (set_config with
// is_local=false), so it survives across transactions within one
// checkout; Release resets it unconditionally before the connection
// goes back to the pool.
type Binder struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewBinder creates a binder over the pooled database handle.
func NewBinder(db *sql.DB, metrics *observability.Metrics) *Binder {
	return &Binder{db: db, metrics: metrics}
}

// Acquire checks out a dedicated connection and binds the tenant active
// on ctx. When no tenant is active (public/tenant-less operations) the
// variable is set to the neutral empty value, so a binding left by a
// previous checkout of the same physical connection can never leak in.
func (b *Binder) Acquire(ctx context.Context) (*BoundConn, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("rls: failed to check out connection: %w", err)
	}

	value := ""
	kind := "neutral"
	if tenantID, ok := tenancy.CurrentTenant(ctx); ok {
		value = tenantID.String()
		kind = "tenant"
	}

	if _, err := conn.ExecContext(ctx, `SELECT set_config($1, $2, false)`, SessionVar, value); err != nil {
		b.countFailure()
		// The connection's session state is unknown; force the pool to
		// discard the physical connection instead of reusing it.
		discard(conn)
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	b.countBind(kind)

	return &BoundConn{conn: conn, binder: b}, nil
}

// WithConn runs fn on a bound connection and releases it on all paths.
func (b *Binder) WithConn(ctx context.Context, fn func(*BoundConn) error) error {
	bc, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	defer bc.Release(context.WithoutCancel(ctx))
	return fn(bc)
}

func (b *Binder) countBind(kind string) {
	if b.metrics != nil {
		b.metrics.BinderBindsTotal.WithLabelValues(kind).Inc()
	}
}

func (b *Binder) countFailure() {
	if b.metrics != nil {
		b.metrics.BinderFailuresTotal.Inc()
	}
}

// BoundConn is a pooled connection with the tenant variable set for the
// lifetime of the checkout. It is owned by one request at a time.
type BoundConn struct {
	conn     *sql.Conn
	binder   *Binder
	released bool
}

// ExecContext runs a statement on the bound connection.
func (bc *BoundConn) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return bc.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the bound connection.
func (bc *BoundConn) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return bc.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the bound connection.
func (bc *BoundConn) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return bc.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction on the bound connection. The binding is
// connection-scoped and stays in effect for every transaction started
// during this checkout.
func (bc *BoundConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return bc.conn.BeginTx(ctx, opts)
}

// Release resets the session variable and returns the connection to the
// pool. If the reset fails the physical connection is discarded; it
// must not re-enter the pool with a stale tenant bound.
func (bc *BoundConn) Release(ctx context.Context) error {
	if bc.released {
		return nil
	}
	bc.released = true

	if _, err := bc.conn.ExecContext(ctx, `SELECT set_config($1, $2, false)`, SessionVar, ""); err != nil {
		bc.binder.countFailure()
		discard(bc.conn)
		return fmt.Errorf("rls: failed to reset tenant binding: %w", err)
	}
	bc.binder.countBind("reset")

	return bc.conn.Close()
}

// discard forces the pool to drop the physical connection. Returning
// driver.ErrBadConn from Raw marks it broken; the subsequent Close
// removes it instead of pooling it.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(driverConn interface{}) error {
		return driver.ErrBadConn
	})
	_ = conn.Close()
}
