package vquery

import (
	"strings"
	"testing"

	"github.com/varserver/vard/api"
)

func mustQuery(t *testing.T, mode SearchMode, pattern, tagspec string, instanceID uint32, flags api.Flags) *Query {
	t.Helper()
	q, err := New(mode, pattern, tagspec, instanceID, flags)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func TestMatchesNameSubstring(t *testing.T) {
	q := mustQuery(t, MatchName, "sys.", "", 0, 0)
	cases := []struct {
		name string
		want bool
	}{
		{"sys.hostname", true},
		{"a.sys.b", true},
		{"system", false},
		{"SYS.hostname", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := Matches(q, Candidate{Name: tc.name}); got != tc.want {
			t.Fatalf("Matches(name=%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMatchesEmptyModeMatchesEverything(t *testing.T) {
	q := mustQuery(t, 0, "", "", 0, 0)
	for _, c := range []Candidate{
		{},
		{Name: "anything", Flags: api.FlagHidden, InstanceID: 99},
	} {
		if !Matches(q, c) {
			t.Fatalf("empty descriptor rejected %+v", c)
		}
	}
}

func TestMatchesRegexUnanchored(t *testing.T) {
	q := mustQuery(t, MatchRegex, `net[0-9]+`, "", 0, 0)
	if !Matches(q, Candidate{Name: "sys.net0.addr"}) {
		t.Fatal("unanchored regex should match mid-name")
	}
	if Matches(q, Candidate{Name: "sys.net.addr"}) {
		t.Fatal("regex matched a name without digits")
	}

	anchored := mustQuery(t, MatchRegex, `^net[0-9]+$`, "", 0, 0)
	if Matches(anchored, Candidate{Name: "sys.net0.addr"}) {
		t.Fatal("explicit anchors must still anchor")
	}
	if !Matches(anchored, Candidate{Name: "net7"}) {
		t.Fatal("anchored regex should match the full name")
	}
}

func TestMatchesFlagsOverlap(t *testing.T) {
	q := mustQuery(t, MatchFlags, "", "", 0, api.FlagVolatile|api.FlagHidden)
	cases := []struct {
		flags api.Flags
		want  bool
	}{
		{0, false},
		{api.FlagVolatile, true},
		{api.FlagHidden, true},
		{api.FlagVolatile | api.FlagHidden, true},
		{api.FlagReadonly, false},
		{api.FlagReadonly | api.FlagVolatile, true},
	}
	for _, tc := range cases {
		if got := Matches(q, Candidate{Flags: tc.flags}); got != tc.want {
			t.Fatalf("Matches(flags=%v) = %v, want %v", tc.flags, got, tc.want)
		}
	}
}

func TestMatchesNegateFlags(t *testing.T) {
	q := mustQuery(t, MatchFlags|NegateFlags, "", "", 0, api.FlagHidden)
	if !Matches(q, Candidate{Flags: api.FlagVolatile}) {
		t.Fatal("negated filter should accept non-overlapping flags")
	}
	if Matches(q, Candidate{Flags: api.FlagHidden | api.FlagVolatile}) {
		t.Fatal("negated filter should reject overlapping flags")
	}
	if !Matches(q, Candidate{}) {
		t.Fatal("negated filter should accept zero flags")
	}
}

func TestMatchesTagsSubset(t *testing.T) {
	q := mustQuery(t, MatchTags, "", "sensor,outdoor", 0, 0)
	cases := []struct {
		tags []string
		want bool
	}{
		{[]string{"sensor", "outdoor"}, true},
		{[]string{"outdoor", "sensor", "extra"}, true},
		{[]string{"sensor"}, false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := Matches(q, Candidate{Tags: tc.tags}); got != tc.want {
			t.Fatalf("Matches(tags=%v) = %v, want %v", tc.tags, got, tc.want)
		}
	}
}

func TestMatchesInstanceID(t *testing.T) {
	q := mustQuery(t, MatchInstanceID, "", "", 2, 0)
	if !Matches(q, Candidate{InstanceID: 2}) {
		t.Fatal("matching instance id rejected")
	}
	if Matches(q, Candidate{InstanceID: 3}) {
		t.Fatal("mismatched instance id accepted")
	}

	zero := mustQuery(t, MatchInstanceID, "", "", 0, 0)
	if !Matches(zero, Candidate{InstanceID: 0}) {
		t.Fatal("instance id 0 is a legal filter value")
	}
	if Matches(zero, Candidate{InstanceID: 1}) {
		t.Fatal("instance id 0 filter must exclude other instances")
	}
}

func TestMatchesFiltersCombineWithAND(t *testing.T) {
	q := mustQuery(t, MatchName|MatchFlags|MatchTags|MatchInstanceID,
		"temp", "sensor", 1, api.FlagVolatile)
	hit := Candidate{
		Name:       "temp.cpu",
		Flags:      api.FlagVolatile,
		Tags:       []string{"sensor"},
		InstanceID: 1,
	}
	if !Matches(q, hit) {
		t.Fatalf("candidate satisfying every filter rejected: %+v", hit)
	}
	for _, miss := range []Candidate{
		{Name: "humidity", Flags: hit.Flags, Tags: hit.Tags, InstanceID: 1},
		{Name: hit.Name, Flags: api.FlagReadonly, Tags: hit.Tags, InstanceID: 1},
		{Name: hit.Name, Flags: hit.Flags, Tags: nil, InstanceID: 1},
		{Name: hit.Name, Flags: hit.Flags, Tags: hit.Tags, InstanceID: 2},
	} {
		if Matches(q, miss) {
			t.Fatalf("candidate failing one filter accepted: %+v", miss)
		}
	}
}

func TestShowValueDoesNotFilter(t *testing.T) {
	with := mustQuery(t, MatchName|ShowValue, "a", "", 0, 0)
	without := mustQuery(t, MatchName, "a", "", 0, 0)
	for _, name := range []string{"alpha", "beta"} {
		c := Candidate{Name: name}
		if Matches(with, c) != Matches(without, c) {
			t.Fatalf("ShowValue changed the verdict for %q", name)
		}
	}
}

func TestNewRejectsConflictingNameModes(t *testing.T) {
	if _, err := New(MatchName|MatchRegex, "x", "", 0, 0); err == nil {
		t.Fatal("substring and regex modes together must be rejected")
	}
}

func TestNewRejectsBadRegex(t *testing.T) {
	_, err := New(MatchRegex, "(", "", 0, 0)
	if err == nil {
		t.Fatal("unparsable regex must be rejected at construction")
	}
}

func TestNewRejectsOversizedTagSpec(t *testing.T) {
	spec := strings.Repeat("t", api.MaxTagSpecLen)
	if _, err := New(MatchTags, "", spec, 0, 0); err == nil {
		t.Fatal("tagspec at the limit must be rejected")
	}
	ok := strings.Repeat("t", api.MaxTagSpecLen-1)
	if _, err := New(MatchTags, "", ok, 0, 0); err != nil {
		t.Fatalf("tagspec under the limit rejected: %v", err)
	}
}

func TestSplitTags(t *testing.T) {
	cases := []struct {
		spec string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a,b,c", []string{"a", "b", "c"}},
		{"a,,b", []string{"a", "b"}},
		{",a,", []string{"a"}},
	}
	for _, tc := range cases {
		got := SplitTags(tc.spec)
		if len(got) != len(tc.want) {
			t.Fatalf("SplitTags(%q) = %v, want %v", tc.spec, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("SplitTags(%q) = %v, want %v", tc.spec, got, tc.want)
			}
		}
	}
}
