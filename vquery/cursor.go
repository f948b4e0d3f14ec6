package vquery

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Error taxonomy. ErrInvalidQuery covers construction failures detected
// before any registry interaction; ErrInvalidHandle classifies registry or
// connection faults during traversal. Exhaustion is not an error and is
// reported through Cursor.Next returning false with a nil Err.
var (
	// ErrInvalidQuery reports malformed query construction.
	ErrInvalidQuery = errors.New("vquery: invalid query")
	// ErrInvalidHandle reports a registry or connection fault unrelated to
	// matching.
	ErrInvalidHandle = errors.New("vquery: invalid registry handle")
)

// Registry is the collaborator boundary to the engine owning the variables.
// FindFirst begins a fresh traversal for q's criteria; FindNext resumes
// from q's cursor state. Both report (true, nil) after writing the next
// match into q's cursor-state fields, (false, nil) on exhaustion, and a
// non-nil error only for genuine faults. RenderValue writes the formatted
// value of the variable behind h to w; h is only valid between the find
// call that produced it and the next find call on the same query.
type Registry interface {
	FindFirst(ctx context.Context, q *Query) (bool, error)
	FindNext(ctx context.Context, q *Query) (bool, error)
	RenderValue(ctx context.Context, h Handle, w io.Writer) error
}

// Cursor drives one traversal of a registry. The zero state is NotStarted;
// the first Next call issues FindFirst, later calls issue FindNext. After
// exhaustion or a fault, Next keeps returning false without touching the
// registry again.
//
// A Cursor (and its Query) must not be shared across concurrent traversals.
type Cursor struct {
	reg     Registry
	q       *Query
	started bool
	done    bool
	err     error
}

// NewCursor binds a query descriptor to a registry for one traversal.
func NewCursor(reg Registry, q *Query) *Cursor {
	return &Cursor{reg: reg, q: q}
}

// Next advances to the next matching variable, writing its attributes into
// the query's cursor-state fields. It returns false on exhaustion or fault;
// check Err to distinguish.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.done || c.err != nil {
		return false
	}
	var (
		ok  bool
		err error
	)
	if !c.started {
		c.started = true
		ok, err = c.reg.FindFirst(ctx, c.q)
	} else {
		ok, err = c.reg.FindNext(ctx, c.q)
	}
	if err != nil {
		c.err = err
		c.done = true
		return false
	}
	if !ok {
		c.done = true
		return false
	}
	return true
}

// Err returns the traversal fault, or nil after clean exhaustion.
func (c *Cursor) Err() error {
	return c.err
}

// Query exposes the bound descriptor, whose cursor-state fields hold the
// current match while Next reports true.
func (c *Cursor) Query() *Query {
	return c.q
}

// Emit renders the current match as one record on w:
//
//	<name>\n              when the instance id is 0
//	[<instanceID>]<name>\n otherwise
//
// with "=<value>" inserted before the newline when the descriptor requests
// ShowValue; the value is rendered by the registry through the borrowed
// handle. Partial writes on a failing sink are not retried.
func Emit(ctx context.Context, w io.Writer, reg Registry, q *Query) error {
	var err error
	if q.CurInstanceID == 0 {
		_, err = fmt.Fprintf(w, "%s", q.Name)
	} else {
		_, err = fmt.Fprintf(w, "[%d]%s", q.CurInstanceID, q.Name)
	}
	if err != nil {
		return err
	}
	if q.Mode.Has(ShowValue) {
		if _, err = io.WriteString(w, "="); err != nil {
			return err
		}
		if err = reg.RenderValue(ctx, q.Handle, w); err != nil {
			return err
		}
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// Search is the traversal driver: it walks the registry with q's criteria
// and emits every match to w, one record per line, in the registry's
// enumeration order. It returns nil on exhaustion, whether or not any
// records were emitted; records already written before a fault stay
// written.
func Search(ctx context.Context, reg Registry, q *Query, w io.Writer) error {
	cur := NewCursor(reg, q)
	for cur.Next(ctx) {
		if err := Emit(ctx, w, reg, q); err != nil {
			return err
		}
	}
	return cur.Err()
}
