package client

import (
	"context"
	"io"

	"github.com/varserver/vard/api"
	"github.com/varserver/vard/vquery"
)

// Remote adapts a Client to the vquery.Registry interface so traversal
// helpers such as vquery.Search and vquery.NewCursor run against a live
// server instead of an in-process registry.
type Remote struct {
	c *Client
}

var _ vquery.Registry = (*Remote)(nil)

// Remote returns a vquery.Registry view of this client.
func (c *Client) Remote() *Remote {
	return &Remote{c: c}
}

// FindFirst begins a traversal for q.
func (r *Remote) FindFirst(ctx context.Context, q *vquery.Query) (bool, error) {
	return r.step(ctx, q, "")
}

// FindNext resumes the traversal recorded in q's token.
func (r *Remote) FindNext(ctx context.Context, q *vquery.Query) (bool, error) {
	return r.step(ctx, q, q.Token)
}

func (r *Remote) step(ctx context.Context, q *vquery.Query, token string) (bool, error) {
	res, err := r.c.Query(ctx, api.QueryRequest{
		Mode:       uint32(q.Mode),
		Pattern:    q.Pattern,
		Tags:       q.TagSpec,
		InstanceID: q.InstanceID,
		Flags:      uint32(q.Flags),
		Token:      token,
	})
	if err != nil {
		return false, err
	}
	if res.Done {
		return false, nil
	}
	q.Name = res.Name
	q.CurInstanceID = res.InstanceID
	q.Handle = vquery.Handle(res.Handle)
	q.Token = res.Token
	return true, nil
}

// RenderValue writes the formatted value of handle to w.
func (r *Remote) RenderValue(ctx context.Context, handle vquery.Handle, w io.Writer) error {
	s, err := r.c.Render(ctx, uint32(handle))
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s)
	return err
}
