// Package mysqltest provides a scripted database/sql driver for store tests.
// Each expected statement is matched in order after whitespace
// normalisation; anything unexpected fails the call.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

type opType int

const (
	opExec opType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

func (t opType) String() string {
	return [...]string{"exec", "query", "begin", "commit", "rollback"}[t]
}

// Op is one scripted driver interaction.
type Op struct {
	typ    opType
	query  string
	result Result
	rows   Rows
	err    error
}

// Result is returned from an Exec op.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// execResult adapts Result to driver.Result.
type execResult struct{ r Result }

func (e execResult) LastInsertId() (int64, error) { return e.r.LastInsertID, nil }
func (e execResult) RowsAffected() (int64, error) { return e.r.RowsAffected, nil }

// Rows is returned from a Query op.
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Exec expects an exec of query. An empty query matches anything.
func Exec(query string, result Result) Op { return Op{typ: opExec, query: query, result: result} }

// ExecErr expects an exec of query that fails with err.
func ExecErr(query string, err error) Op { return Op{typ: opExec, query: query, err: err} }

// Query expects a query returning rows.
func Query(query string, rows Rows) Op { return Op{typ: opQuery, query: query, rows: rows} }

func Begin() Op    { return Op{typ: opBegin} }
func Commit() Op   { return Op{typ: opCommit} }
func Rollback() Op { return Op{typ: opRollback} }

// Driver replays a fixed script of operations.
type Driver struct {
	mu   sync.Mutex
	ops  []Op
	idx  int
	args [][]driver.NamedValue
}

var driverSeq atomic.Int32

// New registers a fresh driver for ops and opens a single-connection pool on
// it. The pool is closed when the test ends.
func New(t *testing.T, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	return db, drv
}

// AssertConsumed fails the test unless every scripted op ran.
func (d *Driver) AssertConsumed(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", d.idx, len(d.ops))
	}
}

// Args returns the arguments of the i-th exec or query.
func (d *Driver) Args(i int) []any {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.args) {
		return nil
	}
	out := make([]any, len(d.args[i]))
	for j, a := range d.args[i] {
		out[j] = a.Value
	}
	return out
}

func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected opType, query string, args []driver.NamedValue) (*Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", expected, normalize(query))
	}
	op := &d.ops[d.idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %s, got %s", op.typ, expected)
	}
	d.idx++
	if op.query != "" && normalize(op.query) != normalize(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalize(op.query), normalize(query))
	}
	if expected == opExec || expected == opQuery {
		d.args = append(d.args, args)
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return execResult{op.result}, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &rows{columns: op.rows.Columns, values: op.rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(opCommit, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(opRollback, "", nil)
	if err != nil {
		return err
	}
	return op.err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
