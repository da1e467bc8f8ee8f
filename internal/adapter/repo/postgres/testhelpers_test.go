package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Hand-rolled pgx fakes shared by the repo tests. They script results per
// call so transaction sequences can be exercised without a database.

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

// valueRow copies prepared values into scan destinations.
func valueRow(values ...any) fakeRow {
	return fakeRow{scan: func(dest ...any) error {
		if len(dest) != len(values) {
			return fmt.Errorf("scan arity: got %d dest, have %d values", len(dest), len(values))
		}
		for i, v := range values {
			if err := assign(dest[i], v); err != nil {
				return err
			}
		}
		return nil
	}}
}

func errRow(err error) fakeRow {
	return fakeRow{scan: func(...any) error { return err }}
}

// assign stores src into the pointer dest, converting when needed.
func assign(dest, src any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("scan dest %T is not a pointer", dest)
	}
	ev := dv.Elem()
	if src == nil {
		ev.Set(reflect.Zero(ev.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	switch {
	case sv.Type().AssignableTo(ev.Type()):
		ev.Set(sv)
	case sv.Type().ConvertibleTo(ev.Type()):
		ev.Set(sv.Convert(ev.Type()))
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
	return nil
}

// fakeRows feeds a fixed set of value rows through the pgx.Rows interface.
type fakeRows struct {
	rows   [][]any
	idx    int
	err    error
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error {
	values := r.rows[r.idx-1]
	if len(dest) != len(values) {
		return fmt.Errorf("scan arity: got %d dest, have %d values", len(dest), len(values))
	}
	for i, v := range values {
		if err := assign(dest[i], v); err != nil {
			return err
		}
	}
	return nil
}
func (r *fakeRows) Values() ([]any, error) { return nil, errors.New("not implemented") }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

// call records one statement the fakes saw.
type call struct {
	sql  string
	args []any
}

// fakePool scripts Exec/Query/QueryRow/BeginTx. Results are consumed in
// FIFO order per method. Exec tags are given as command-tag strings such
// as "UPDATE 1" so RowsAffected is honoured; when the script runs dry the
// tag defaults to one affected row.
type fakePool struct {
	calls []call

	execTags []string
	execErrs []error

	queryRows []*fakeRows
	queryErrs []error

	rowResults []fakeRow

	tx       *fakeTx
	beginErr error
}

func (p *fakePool) record(sql string, args []any) {
	p.calls = append(p.calls, call{sql: sql, args: args})
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.record(sql, args)
	tag := pgconn.NewCommandTag("UPDATE 1")
	if len(p.execTags) > 0 {
		tag = pgconn.NewCommandTag(p.execTags[0])
		p.execTags = p.execTags[1:]
	}
	var err error
	if len(p.execErrs) > 0 {
		err = p.execErrs[0]
		p.execErrs = p.execErrs[1:]
	}
	return tag, err
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.record(sql, args)
	var err error
	if len(p.queryErrs) > 0 {
		err = p.queryErrs[0]
		p.queryErrs = p.queryErrs[1:]
	}
	if err != nil {
		return nil, err
	}
	if len(p.queryRows) == 0 {
		return &fakeRows{}, nil
	}
	rows := p.queryRows[0]
	p.queryRows = p.queryRows[1:]
	return rows, nil
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.record(sql, args)
	if len(p.rowResults) == 0 {
		return errRow(errors.New("no row configured"))
	}
	row := p.rowResults[0]
	p.rowResults = p.rowResults[1:]
	return row
}

func (p *fakePool) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.tx == nil {
		p.tx = &fakeTx{pool: p}
	}
	return p.tx, nil
}

// fakeTx delegates statements back to the pool's scripted results and
// records its terminal state.
type fakeTx struct {
	pool       *fakePool
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}
func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}
func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}
func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.pool.Exec(ctx, sql, args...)
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.pool.Query(ctx, sql, args...)
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.pool.QueryRow(ctx, sql, args...)
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }
