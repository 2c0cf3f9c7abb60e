// Package dbtest provides an in-memory database.Conn for tests. Statements
// are recorded and answered by responders registered with On; nothing is
// parsed or executed.
package dbtest

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/koustreak/dbfill/internal/database"
	"github.com/koustreak/dbfill/internal/errs"
)

// Stmt is one recorded statement.
type Stmt struct {
	SQL  string
	Args []any
	InTx bool
}

// Result is what a responder returns for a statement.
type Result struct {
	Rows     [][]any
	Affected int64
	Err      error
}

// Responder answers a statement whose text contains the registered pattern.
type Responder func(args []any) Result

type handler struct {
	pattern string
	fn      Responder
}

// Conn is a scripted database.Conn.
type Conn struct {
	// Log holds every statement in execution order, committed or not.
	Log []Stmt
	// Committed holds autocommit statements and the statements of committed
	// transactions, in commit order.
	Committed []Stmt

	Commits   int
	Rollbacks int
	Closed    bool

	// BeginErr, when set, fails every Begin.
	BeginErr error

	handlers []handler
}

// New returns an empty fake.
func New() *Conn {
	return &Conn{}
}

// On registers fn for statements containing pattern. Later registrations win.
func (c *Conn) On(pattern string, fn Responder) *Conn {
	c.handlers = append(c.handlers, handler{pattern: pattern, fn: fn})
	return c
}

// Returning registers a responder that always yields rows.
func (c *Conn) Returning(pattern string, rows ...[]any) *Conn {
	return c.On(pattern, func([]any) Result { return Result{Rows: rows} })
}

// Failing registers a responder that always fails with err.
func (c *Conn) Failing(pattern string, err error) *Conn {
	return c.On(pattern, func([]any) Result { return Result{Err: err} })
}

// Matching returns the committed statements containing pattern.
func (c *Conn) Matching(pattern string) []Stmt {
	var out []Stmt
	for _, s := range c.Committed {
		if strings.Contains(s.SQL, pattern) {
			out = append(out, s)
		}
	}
	return out
}

// Executed returns the text of every statement in Log.
func (c *Conn) Executed() []string {
	out := make([]string, len(c.Log))
	for i, s := range c.Log {
		out[i] = s.SQL
	}
	return out
}

func (c *Conn) respond(sql string, args []any) Result {
	for i := len(c.handlers) - 1; i >= 0; i-- {
		if strings.Contains(sql, c.handlers[i].pattern) {
			return c.handlers[i].fn(args)
		}
	}
	return Result{}
}

func (c *Conn) run(sql string, args []any, tx *Tx) Result {
	st := Stmt{SQL: sql, Args: args, InTx: tx != nil}
	c.Log = append(c.Log, st)
	res := c.respond(sql, args)
	if res.Err == nil {
		if tx != nil {
			tx.pending = append(tx.pending, st)
		} else {
			c.Committed = append(c.Committed, st)
		}
	}
	return res
}

// --- database.Conn implementation ---

func (c *Conn) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	res := c.run(sql, args, nil)
	return res.Affected, res.Err
}

func (c *Conn) Query(_ context.Context, sql string, args ...any) (database.Rows, error) {
	res := c.run(sql, args, nil)
	if res.Err != nil {
		return nil, res.Err
	}
	return &Rows{data: res.Rows}, nil
}

func (c *Conn) QueryRow(_ context.Context, sql string, args ...any) database.Row {
	res := c.run(sql, args, nil)
	return newRow(res)
}

func (c *Conn) CopyFrom(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	res := c.run("COPY "+table+" ("+strings.Join(columns, ",")+")", []any{rows}, nil)
	if res.Err != nil {
		return 0, res.Err
	}
	return int64(len(rows)), nil
}

func (c *Conn) Begin(context.Context) (database.Tx, error) {
	if c.BeginErr != nil {
		return nil, c.BeginErr
	}
	return &Tx{conn: c}, nil
}

func (c *Conn) Close(context.Context) error {
	c.Closed = true
	return nil
}

// Tx buffers statements until Commit.
type Tx struct {
	conn    *Conn
	pending []Stmt
	done    bool
}

func (t *Tx) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	res := t.conn.run(sql, args, t)
	return res.Affected, res.Err
}

func (t *Tx) Query(_ context.Context, sql string, args ...any) (database.Rows, error) {
	res := t.conn.run(sql, args, t)
	if res.Err != nil {
		return nil, res.Err
	}
	return &Rows{data: res.Rows}, nil
}

func (t *Tx) QueryRow(_ context.Context, sql string, args ...any) database.Row {
	return newRow(t.conn.run(sql, args, t))
}

func (t *Tx) CopyFrom(_ context.Context, table string, columns []string, rows [][]any) (int64, error) {
	res := t.conn.run("COPY "+table+" ("+strings.Join(columns, ",")+")", []any{rows}, t)
	if res.Err != nil {
		return 0, res.Err
	}
	return int64(len(rows)), nil
}

func (t *Tx) Commit(context.Context) error {
	if t.done {
		return errs.New(errs.ErrKindQueryFailed, "transaction already closed")
	}
	t.done = true
	t.conn.Commits++
	t.conn.Committed = append(t.conn.Committed, t.pending...)
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if t.done {
		return errs.New(errs.ErrKindQueryFailed, "transaction already closed")
	}
	t.done = true
	t.conn.Rollbacks++
	t.pending = nil
	return nil
}

// Rows iterates over scripted values.
type Rows struct {
	data [][]any
	pos  int
}

func (r *Rows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error { return assign(r.data[r.pos-1], dest) }
func (r *Rows) Close()                 {}
func (r *Rows) Err() error             { return nil }

type row struct {
	res Result
}

func newRow(res Result) *row { return &row{res: res} }

func (r *row) Scan(dest ...any) error {
	if r.res.Err != nil {
		return r.res.Err
	}
	if len(r.res.Rows) == 0 {
		return errs.New(errs.ErrKindNotFound, "no rows in result set")
	}
	return assign(r.res.Rows[0], dest)
}

// assign copies src values into pointer destinations, converting between
// compatible kinds.
func assign(src []any, dest []any) error {
	if len(src) != len(dest) {
		return fmt.Errorf("dbtest: scan %d values into %d destinations", len(src), len(dest))
	}
	for i := range dest {
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("dbtest: destination %d is not a pointer", i)
		}
		target := dv.Elem()
		if src[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		sv := reflect.ValueOf(src[i])
		switch {
		case sv.Type().AssignableTo(target.Type()):
			target.Set(sv)
		case sv.Type().ConvertibleTo(target.Type()):
			target.Set(sv.Convert(target.Type()))
		default:
			return fmt.Errorf("dbtest: cannot scan %T into %s", src[i], target.Type())
		}
	}
	return nil
}
