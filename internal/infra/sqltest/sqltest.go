// Package sqltest provides in-memory stand-ins for infra.SQLExecutor.
package sqltest

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type SimpleRow struct {
	scan func(dest ...any) error
}

func NewSimpleRow(scanner func(dest ...any) error) SimpleRow {
	return SimpleRow{scan: scanner}
}

func (r SimpleRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// ValuesRow scans the given values into dest in order.
func ValuesRow(values ...any) SimpleRow {
	return NewSimpleRow(func(dest ...any) error {
		return Assign(dest, values)
	})
}

// ErrRow always fails with err.
func ErrRow(err error) SimpleRow {
	return NewSimpleRow(func(...any) error { return err })
}

type TestRowsBase struct{}

func (TestRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (TestRowsBase) Conn() *pgx.Conn { return nil }

func (TestRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (TestRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (TestRowsBase) RawValues() [][]byte { return nil }

// Rows iterates over a fixed table of values.
type Rows struct {
	TestRowsBase
	data   [][]any
	idx    int
	err    error
	closed bool
}

func NewRows(data ...[]any) *Rows {
	return &Rows{data: data, idx: -1}
}

func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.data)
}

func (r *Rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return fmt.Errorf("scan called without row")
	}
	return Assign(dest, r.data[r.idx])
}

func (r *Rows) Err() error { return r.err }

func (r *Rows) Close() { r.closed = true }

// Assign copies values into scan destinations by reflection.
func Assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		if values[i] == nil {
			target.Elem().Set(reflect.Zero(target.Elem().Type()))
			continue
		}
		v := reflect.ValueOf(values[i])
		if !v.Type().AssignableTo(target.Elem().Type()) {
			if !v.Type().ConvertibleTo(target.Elem().Type()) {
				return fmt.Errorf("scan: cannot assign %s to %s", v.Type(), target.Elem().Type())
			}
			v = v.Convert(target.Elem().Type())
		}
		target.Elem().Set(v)
	}
	return nil
}

// Call is one recorded statement.
type Call struct {
	Query string
	Args  []any
}

// Executor records statements and answers them with canned results keyed by
// the query's marker line.
type Executor struct {
	mu       sync.Mutex
	Calls    []Call
	Rows     map[string]pgx.Row
	Sets     map[string][][]any
	Affected map[string]int64
	Err      error
}

func NewExecutor() *Executor {
	return &Executor{
		Rows:     map[string]pgx.Row{},
		Sets:     map[string][][]any{},
		Affected: map[string]int64{},
	}
}

func (e *Executor) record(query string, args []any) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, Call{Query: query, Args: args})
	return Marker(query)
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker := e.record(query, args)
	if e.Err != nil {
		return pgconn.CommandTag{}, e.Err
	}
	n, ok := e.Affected[marker]
	if !ok {
		n = 1
	}
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", n)), nil
}

func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker := e.record(query, args)
	if e.Err != nil {
		return ErrRow(e.Err)
	}
	if row, ok := e.Rows[marker]; ok {
		return row
	}
	return ErrRow(pgx.ErrNoRows)
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker := e.record(query, args)
	if e.Err != nil {
		return nil, e.Err
	}
	return NewRows(e.Sets[marker]...), nil
}

// LastCall returns the most recent statement.
func (e *Executor) LastCall() Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Calls) == 0 {
		return Call{}
	}
	return e.Calls[len(e.Calls)-1]
}

// Marker returns the "--sql <uuid>" line of a query.
func Marker(query string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(query), "\n")
	return strings.TrimSpace(first)
}
