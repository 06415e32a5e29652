package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// SQLPool is the Shared pool of the database/sql based adapters.
type SQLPool struct {
	*sqlx.DB
}

// Ping verifies the pool can reach the server.
func (p *SQLPool) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

// OpenSQL opens a sqlx pool, applies pool settings, and verifies it with a
// ping bounded by ctx.
func OpenSQL(ctx context.Context, driverName, dsn string, opts PoolOptions) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SQLConn holds the state the SQL adapters share: a pool, either owned or
// borrowed from the Registry, and the spec it was opened for. Adapters embed
// it and get Disconnect, Ping, Attach and Run.
type SQLConn struct {
	DB   *sqlx.DB
	Spec ConnectionSpec

	// ReadOnlyTx runs queries inside a read-only transaction when mutations
	// are not allowed. Set by adapters whose drivers support it.
	ReadOnlyTx bool

	owned bool
}

// Own makes c the sole owner of db.
func (c *SQLConn) Own(db *sqlx.DB, spec ConnectionSpec) {
	c.DB = db
	c.Spec = spec
	c.owned = true
}

// Attach borrows a pool opened by OpenShared.
func (c *SQLConn) Attach(shared Shared, spec ConnectionSpec) error {
	p, ok := shared.(*SQLPool)
	if !ok {
		return fmt.Errorf("attach: unexpected pool type %T", shared)
	}
	c.DB = p.DB
	c.Spec = spec
	c.owned = false
	return nil
}

// Disconnect closes an owned pool. Borrowed pools stay open. Safe to call
// more than once.
func (c *SQLConn) Disconnect() error {
	db := c.DB
	c.DB = nil
	if db == nil || !c.owned {
		return nil
	}
	return db.Close()
}

// Ping verifies the connection is alive.
func (c *SQLConn) Ping(ctx context.Context) error {
	if c.DB == nil {
		return errors.New("not connected")
	}
	return c.DB.PingContext(ctx)
}

// Run executes stmt. Queries stream at most rowLimit+1 rows; the extra row
// only sets Truncated. Closing the cursor early releases server-side work.
// Other statement kinds report rows affected.
func (c *SQLConn) Run(ctx context.Context, stmt model.Statement, rowLimit int) (*model.ExecutionResult, error) {
	if c.DB == nil {
		return nil, apperr.New(apperr.KindConnection, "not connected")
	}

	if !stmt.Kind.ReadOnly() {
		res, err := c.DB.ExecContext(ctx, stmt.Text)
		if err != nil {
			return nil, c.execError(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = -1
		}
		return &model.ExecutionResult{
			Headers:  []string{"rows_affected"},
			Rows:     [][]any{{n}},
			RowCount: 1,
		}, nil
	}

	if c.ReadOnlyTx && !c.Spec.AllowMutations {
		tx, err := c.DB.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, c.execError(err)
		}
		defer tx.Rollback()
		return c.query(ctx, tx, stmt.Text, rowLimit)
	}
	return c.query(ctx, c.DB, stmt.Text, rowLimit)
}

func (c *SQLConn) query(ctx context.Context, q sqlx.QueryerContext, text string, rowLimit int) (*model.ExecutionResult, error) {
	rows, err := q.QueryxContext(ctx, text)
	if err != nil {
		return nil, c.execError(err)
	}
	defer rows.Close()

	result, err := CollectRows(rows, rowLimit)
	if err != nil {
		return nil, c.execError(err)
	}
	return result, nil
}

// CollectRows reads up to rowLimit rows, coercing every cell. A non-positive
// rowLimit means no cap.
func CollectRows(rows *sqlx.Rows, rowLimit int) (*model.ExecutionResult, error) {
	headers, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := &model.ExecutionResult{Headers: headers, Rows: [][]any{}}
	for rows.Next() {
		if rowLimit > 0 && len(result.Rows) == rowLimit {
			result.Truncated = true
			break
		}
		values, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = Coerce(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

func (c *SQLConn) execError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Wrap(err, apperr.KindExecution, c.Spec.Redact(err.Error()))
}
