package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// ExpandTemplate copies src to w, replacing every ${name} reference with the
// named variable's current value. A reference to an unknown variable is an
// error; a literal $ not followed by { passes through unchanged.
func (c *Client) ExpandTemplate(ctx context.Context, src io.Reader, w io.Writer) error {
	br := bufio.NewReader(src)
	bw := bufio.NewWriter(w)
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if b != '$' {
			if err := bw.WriteByte(b); err != nil {
				return err
			}
			continue
		}
		next, err := br.ReadByte()
		if err == io.EOF {
			if err := bw.WriteByte('$'); err != nil {
				return err
			}
			break
		}
		if err != nil {
			return err
		}
		if next != '{' {
			if err := bw.WriteByte('$'); err != nil {
				return err
			}
			if err := bw.WriteByte(next); err != nil {
				return err
			}
			continue
		}
		name, err := readReference(br)
		if err != nil {
			return err
		}
		value, err := c.GetValue(ctx, name)
		if err != nil {
			return fmt.Errorf("expand ${%s}: %w", name, err)
		}
		if _, err := bw.WriteString(value); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ExpandTemplateString expands ${name} references in a string template.
func (c *Client) ExpandTemplateString(ctx context.Context, template string) (string, error) {
	var sb strings.Builder
	if err := c.ExpandTemplate(ctx, strings.NewReader(template), &sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func readReference(br *bufio.Reader) (string, error) {
	var name strings.Builder
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return "", fmt.Errorf("unterminated variable reference ${%s", name.String())
		}
		if err != nil {
			return "", err
		}
		if b == '}' {
			if name.Len() == 0 {
				return "", fmt.Errorf("empty variable reference")
			}
			return name.String(), nil
		}
		name.WriteByte(b)
	}
}
