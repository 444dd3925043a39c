package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Thiht/transactor"
	txStdLib "github.com/Thiht/transactor/stdlib"
	"github.com/charmbracelet/log"

	"github.com/benjamonnguyen/focuslog"
)

// Statement is a parameterized SQL statement.
type Statement struct {
	Query string
	Args  []any
}

func Stmt(query string, args ...any) Statement {
	return Statement{Query: query, Args: args}
}

type Scannable interface {
	Scan(dest ...any) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is the base every repo in this package runs statements through.
// Outside a transaction each call checks out its own pooled connection. Inside
// WithinTransaction all calls share the transaction's connection.
type Repository struct {
	pool     *Pool
	tx       transactor.Transactor
	dbGetter txStdLib.DBGetter
	l        *log.Logger
}

var _ transactor.Transactor = (*Repository)(nil)

type txScopeKey struct{}

func NewRepository(pool *Pool, l *log.Logger) *Repository {
	if l == nil {
		l = log.Default()
	}
	tx, dbGetter := txStdLib.NewTransactor(pool.db, txStdLib.NestedTransactionsSavepoints)
	return &Repository{
		pool:     pool,
		tx:       tx,
		dbGetter: dbGetter,
		l:        l,
	}
}

func inTransaction(ctx context.Context) bool {
	v, _ := ctx.Value(txScopeKey{}).(bool)
	return v
}

// WithinTransaction runs fn in a transaction that commits when fn returns nil
// and rolls back otherwise. Nested calls become savepoints and do not take
// another pool slot.
func (r *Repository) WithinTransaction(ctx context.Context, fn func(context.Context) error) error {
	if !inTransaction(ctx) {
		release, err := r.pool.holdSlot(ctx)
		if err != nil {
			return err
		}
		defer release()
		ctx = context.WithValue(ctx, txScopeKey{}, true)
	}

	var fnErr error
	err := r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		fnErr = fn(ctx)
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil {
		return fnErr
	}
	return &focuslog.StorageError{Op: "transaction", Err: err}
}

// RunTransaction executes ops in order inside one transaction and returns the
// total rows affected. Any failure rolls back every op.
func (r *Repository) RunTransaction(ctx context.Context, desc string, ops []Statement) (int64, error) {
	if len(ops) == 0 {
		return 0, nil
	}
	var total int64
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		db := r.dbGetter(ctx)
		for i, op := range ops {
			res, err := db.ExecContext(ctx, op.Query, op.Args...)
			if err != nil {
				return &focuslog.StorageError{Op: fmt.Sprintf("%s: statement %d", desc, i+1), Err: err}
			}
			n, err := res.RowsAffected()
			if err != nil {
				return &focuslog.StorageError{Op: desc, Err: err}
			}
			total += n
		}
		return nil
	})
	if err != nil {
		r.l.Error("transaction rolled back", "desc", desc, "statements", len(ops), "err", err)
		return 0, err
	}
	r.l.Debug(desc, "statements", len(ops), "rows", total)
	return total, nil
}

// RunStatement executes a single statement, committing immediately unless
// called inside WithinTransaction.
func (r *Repository) RunStatement(ctx context.Context, desc string, s Statement) (sql.Result, error) {
	r.l.Debug(desc, "query", s.Query, "args", s.Args)
	var res sql.Result
	err := r.do(ctx, desc, func(q querier) error {
		var err error
		res, err = q.ExecContext(ctx, s.Query, s.Args...)
		return err
	})
	return res, err
}

// Query runs s and calls scan once per row.
func (r *Repository) Query(ctx context.Context, desc string, s Statement, scan func(Scannable) error) error {
	r.l.Debug(desc, "query", s.Query, "args", s.Args)
	return r.do(ctx, desc, func(q querier) error {
		rows, err := q.QueryContext(ctx, s.Query, s.Args...)
		if err != nil {
			return err
		}
		defer rows.Close() //nolint

		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	})
}

// QueryRow runs s and scans its single row. scan should map sql.ErrNoRows to
// focuslog.ErrNotFound.
func (r *Repository) QueryRow(ctx context.Context, desc string, s Statement, scan func(Scannable) error) error {
	r.l.Debug(desc, "query", s.Query, "args", s.Args)
	return r.do(ctx, desc, func(q querier) error {
		return scan(q.QueryRowContext(ctx, s.Query, s.Args...))
	})
}

func (r *Repository) do(ctx context.Context, desc string, fn func(querier) error) error {
	if inTransaction(ctx) {
		return storageErr(desc, fn(r.dbGetter(ctx)))
	}

	c, err := r.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Release(c)

	err = fn(c)
	c.observe(err)
	return storageErr(desc, err)
}

// storageErr wraps driver errors. Pool and domain errors pass through.
func storageErr(desc string, err error) error {
	if err == nil {
		return nil
	}
	var se *focuslog.StorageError
	var warn *focuslog.MetadataDecodeWarning
	switch {
	case errors.Is(err, focuslog.ErrNotFound),
		errors.Is(err, focuslog.ErrPoolExhausted),
		errors.Is(err, focuslog.ErrPoolClosed),
		errors.Is(err, focuslog.ErrSessionFinalized),
		errors.Is(err, focuslog.ErrInvalidPayload),
		errors.As(err, &se),
		errors.As(err, &warn):
		return err
	}
	return &focuslog.StorageError{Op: desc, Err: err}
}

// generateParameters returns "(?, ?, ...)" with n placeholders.
func generateParameters(n int) string {
	if n <= 0 {
		return "()"
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func toArgs[T any](vals []T) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}
