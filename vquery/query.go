// Package vquery implements the variable query engine: an immutable query
// descriptor, a pure matching predicate, a cursor protocol for traversing a
// registry, and a result emitter.
//
// The engine does not own variables. It drives a Registry collaborator
// through paired find-first/find-next calls, applying the descriptor's
// criteria to each candidate in the registry's enumeration order, and writes
// one record per match to an output sink. The registry may be the in-process
// engine or a remote vard server reached through the client SDK; both sit
// behind the same interface.
package vquery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/varserver/vard/api"
)

// SearchMode is a bit set of independent query filters. Filter bits combine
// with logical AND; a descriptor with no filter bits matches every
// candidate. MatchName and MatchRegex are mutually exclusive.
type SearchMode uint32

const (
	// MatchName requires the candidate name to contain the pattern as a
	// case-sensitive literal substring.
	MatchName SearchMode = 1 << iota
	// MatchRegex requires the candidate name to satisfy the pattern as a
	// regular expression. Matching is unanchored: the pattern may match any
	// part of the name, like a substring search. Anchor explicitly with ^$.
	MatchRegex
	// MatchFlags requires the candidate flags to overlap the query flag
	// mask: candidate&mask != 0.
	MatchFlags
	// MatchTags requires every tag in the query tagspec to be present on
	// the candidate (subset test, order-insensitive).
	MatchTags
	// MatchInstanceID requires exact instance-id equality, including 0.
	MatchInstanceID
	// ShowValue requests value rendering in emitted records. It is not a
	// filter and does not affect matching.
	ShowValue
	// NegateFlags inverts MatchFlags: the candidate matches only when
	// candidate&mask == 0. Meaningful only alongside MatchFlags.
	NegateFlags
)

// Has reports whether all bits in mask are set on m.
func (m SearchMode) Has(mask SearchMode) bool {
	return m&mask == mask
}

// Handle is an opaque reference into the registry, valid from the cursor
// step that produced it until the next find call. It must not be retained
// or dereferenced after the traversal advances; registries are free to
// recycle handles.
type Handle uint32

// Query is the query descriptor: search criteria fixed at construction
// plus in-flight cursor state the registry overwrites on every step. A
// Query belongs to exactly one traversal at a time; cursor-state fields
// are meaningless before the first successful step and after exhaustion.
type Query struct {
	// Mode holds the search mode bits.
	Mode SearchMode
	// Pattern is the name pattern for MatchName or MatchRegex.
	Pattern string
	// TagSpec is the comma-separated tag specification for MatchTags.
	TagSpec string
	// InstanceID is the filter value for MatchInstanceID.
	InstanceID uint32
	// Flags is the flag mask for MatchFlags.
	Flags api.Flags

	// Name is the current match's name. Overwritten each cursor step.
	Name string
	// CurInstanceID is the current match's instance identifier.
	CurInstanceID uint32
	// Handle is the current match's registry handle, borrowed for one
	// render operation.
	Handle Handle
	// Token is the registry's traversal resume context.
	Token string

	re *regexp.Regexp
}

// New builds a query descriptor. It fails when a non-empty tagspec is not
// strictly shorter than api.MaxTagSpecLen, when both name-matching modes
// are set, or when a MatchRegex pattern does not compile. The tagspec is
// copied verbatim; individual tag tokens are not validated.
func New(mode SearchMode, pattern, tagspec string, instanceID uint32, flags api.Flags) (*Query, error) {
	if mode.Has(MatchName | MatchRegex) {
		return nil, fmt.Errorf("%w: substring and regex name matching are mutually exclusive", ErrInvalidQuery)
	}
	if tagspec != "" && len(tagspec) >= api.MaxTagSpecLen {
		return nil, fmt.Errorf("%w: tag specification exceeds %d bytes", ErrInvalidQuery, api.MaxTagSpecLen-1)
	}
	q := &Query{
		Mode:       mode,
		Pattern:    pattern,
		TagSpec:    tagspec,
		InstanceID: instanceID,
		Flags:      flags,
	}
	if mode.Has(MatchRegex) {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		q.re = re
	}
	return q, nil
}

// Tags returns the non-empty tag tokens parsed from the tagspec.
func (q *Query) Tags() []string {
	return SplitTags(q.TagSpec)
}

// SplitTags splits a comma-separated tag specification into its non-empty
// tokens. Whitespace around tokens is preserved; tags are exact strings.
func SplitTags(spec string) []string {
	if spec == "" {
		return nil
	}
	parts := strings.Split(spec, ",")
	tags := parts[:0]
	for _, p := range parts {
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
