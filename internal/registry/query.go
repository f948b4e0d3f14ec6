package registry

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/varserver/vard/vquery"
)

// List implements vquery.Registry. Traversal enumerates variables in
// handle (creation) order; the resume token is the last visited handle, so
// a step never re-emits an earlier match and never skips a variable that
// existed when the step ran. Variables created mid-traversal behind the
// resume point are observed; this is the documented best-effort semantics,
// not a snapshot.
var _ vquery.Registry = (*List)(nil)

// FindFirst begins a fresh traversal and writes the first match into q's
// cursor-state fields.
func (l *List) FindFirst(ctx context.Context, q *vquery.Query) (bool, error) {
	return l.scan(ctx, q, 0)
}

// FindNext resumes the traversal from q's token.
func (l *List) FindNext(ctx context.Context, q *vquery.Query) (bool, error) {
	after, err := parseToken(q.Token)
	if err != nil {
		return false, err
	}
	return l.scan(ctx, q, after)
}

// RenderValue writes the formatted value behind h to w. The handle is only
// trusted for the duration of one emit; a stale handle past the end of the
// table reports ErrInvalidHandle.
func (l *List) RenderValue(_ context.Context, h vquery.Handle, w io.Writer) error {
	return l.Render(uint32(h), w)
}

func (l *List) scan(ctx context.Context, q *vquery.Query, after uint32) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.RLock()
	total := uint32(len(l.vars))
	l.mu.RUnlock()

	for h := after + 1; h <= total; h++ {
		info, err := l.Get(h)
		if err != nil {
			return false, err
		}
		c := vquery.Candidate{
			Name:       info.Name,
			Flags:      info.Flags,
			Tags:       info.Tags,
			InstanceID: info.InstanceID,
		}
		if !vquery.Matches(q, c) {
			continue
		}
		q.Name = info.Name
		q.CurInstanceID = info.InstanceID
		q.Handle = vquery.Handle(h)
		q.Token = strconv.FormatUint(uint64(h), 10)
		return true, nil
	}
	return false, nil
}

func parseToken(token string) (uint32, error) {
	if token == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(token, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: bad resume token %q", vquery.ErrInvalidHandle, token)
	}
	return uint32(n), nil
}
