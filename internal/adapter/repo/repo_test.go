package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type recordedCall struct {
	query string
	args  []any
}

// scriptedSQL replays canned results in call order per method.
type scriptedSQL struct {
	tags  []pgconn.CommandTag
	errs  []error
	rows  []pgx.Row
	query pgx.Rows

	execCalls []recordedCall
	rowCalls  []recordedCall
}

func (s *scriptedSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	i := len(s.execCalls)
	s.execCalls = append(s.execCalls, recordedCall{query: query, args: args})
	var tag pgconn.CommandTag
	var err error
	if i < len(s.tags) {
		tag = s.tags[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return tag, err
}

func (s *scriptedSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	i := len(s.rowCalls)
	s.rowCalls = append(s.rowCalls, recordedCall{query: query, args: args})
	if i < len(s.rows) {
		return s.rows[i]
	}
	return funcRow(nil)
}

func (s *scriptedSQL) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	s.rowCalls = append(s.rowCalls, recordedCall{query: query, args: args})
	if s.query == nil {
		return nil, errors.New("not implemented")
	}
	return s.query, nil
}

type funcRow func(dest ...any) error

func (f funcRow) Scan(dest ...any) error {
	if f == nil {
		return pgx.ErrNoRows
	}
	return f(dest...)
}

// valuesRow assigns each value to the matching destination pointer.
func valuesRow(values ...any) funcRow {
	return func(dest ...any) error {
		if len(dest) != len(values) {
			return fmt.Errorf("scan: got %d destinations, want %d", len(dest), len(values))
		}
		for i, v := range values {
			if err := assign(dest[i], v); err != nil {
				return fmt.Errorf("scan column %d: %w", i, err)
			}
		}
		return nil
	}
}

func assign(dest, v any) error {
	switch d := dest.(type) {
	case *string:
		*d = v.(string)
	case *int:
		*d = v.(int)
	case *int64:
		*d = v.(int64)
	case *bool:
		*d = v.(bool)
	case *[]byte:
		if v == nil {
			*d = nil
			return nil
		}
		*d = v.([]byte)
	case *time.Time:
		*d = v.(time.Time)
	case **time.Time:
		if v == nil {
			*d = nil
			return nil
		}
		t := v.(time.Time)
		*d = &t
	default:
		return fmt.Errorf("unsupported destination %T", dest)
	}
	return nil
}

// sliceRows iterates over prepared rows.
type sliceRows struct {
	rows []funcRow
	idx  int
}

func (r *sliceRows) Close()                                       {}
func (r *sliceRows) Err() error                                   { return nil }
func (r *sliceRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *sliceRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *sliceRows) Values() ([]any, error)                       { return nil, errors.New("not supported") }
func (r *sliceRows) RawValues() [][]byte                          { return nil }
func (r *sliceRows) Conn() *pgx.Conn                              { return nil }

func (r *sliceRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *sliceRows) Scan(dest ...any) error {
	return r.rows[r.idx-1].Scan(dest...)
}
