package vquery

import (
	"regexp"
	"strings"

	"github.com/varserver/vard/api"
)

// Candidate carries the attributes of one registry variable under
// consideration by the matcher.
type Candidate struct {
	// Name is the variable name.
	Name string
	// Flags is the variable's flag bitmask.
	Flags api.Flags
	// Tags is the variable's tag set.
	Tags []string
	// InstanceID is the variable's instance identifier.
	InstanceID uint32
}

// Matches reports whether the candidate satisfies every active filter in
// the query descriptor. It is a pure function of its inputs: no side
// effects, deterministic for the same descriptor and candidate.
//
// Flag filtering uses any-bit-overlap semantics: with MatchFlags set the
// candidate matches when candidate&mask != 0, or, with NegateFlags also
// set, when the overlap is empty. Regex matching is unanchored.
func Matches(q *Query, c Candidate) bool {
	if q.Mode.Has(MatchName) && !strings.Contains(c.Name, q.Pattern) {
		return false
	}
	if q.Mode.Has(MatchRegex) && !q.regex().MatchString(c.Name) {
		return false
	}
	if q.Mode.Has(MatchFlags) {
		overlap := c.Flags&q.Flags != 0
		if q.Mode.Has(NegateFlags) {
			if overlap {
				return false
			}
		} else if !overlap {
			return false
		}
	}
	if q.Mode.Has(MatchTags) {
		for _, want := range q.Tags() {
			if !hasTag(c.Tags, want) {
				return false
			}
		}
	}
	if q.Mode.Has(MatchInstanceID) && c.InstanceID != q.InstanceID {
		return false
	}
	return true
}

func (q *Query) regex() *regexp.Regexp {
	if q.re == nil {
		// Descriptor built without New; compile lazily and fail closed.
		re, err := regexp.Compile(q.Pattern)
		if err != nil {
			return regexp.MustCompile(`\A\z`)
		}
		q.re = re
	}
	return q.re
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}
