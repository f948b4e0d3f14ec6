package registry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/varserver/vard/api"
)

func newTestList(t *testing.T) *List {
	t.Helper()
	return New(nil)
}

func mustCreate(t *testing.T, l *List, spec Spec) uint32 {
	t.Helper()
	h, err := l.Create(spec)
	if err != nil {
		t.Fatalf("Create(%+v): %v", spec, err)
	}
	return h
}

func TestCreateAndGet(t *testing.T) {
	l := newTestList(t)
	h := mustCreate(t, l, Spec{
		Name:  "temp.cpu",
		Type:  api.TypeFloat,
		Value: "48.50",
		Flags: api.FlagVolatile,
		Tags:  "sensor,cpu",
	})
	if h != 1 {
		t.Fatalf("first handle = %d, want 1", h)
	}
	info, err := l.Get(h)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.Name != "temp.cpu" || info.Type != api.TypeFloat {
		t.Fatalf("unexpected snapshot: %+v", info)
	}
	if info.Value != "48.5" {
		t.Fatalf("value not canonicalised: %q", info.Value)
	}
	if info.Seq != 0 {
		t.Fatalf("fresh variable has seq %d", info.Seq)
	}
	if len(info.Tags) != 2 || info.Tags[0] != "sensor" || info.Tags[1] != "cpu" {
		t.Fatalf("tags = %v", info.Tags)
	}
}

func TestCreateDefaults(t *testing.T) {
	l := newTestList(t)
	h := mustCreate(t, l, Spec{Name: "counter", Type: api.TypeUint32})
	info, _ := l.Get(h)
	if info.Value != "0" {
		t.Fatalf("numeric default = %q, want 0", info.Value)
	}
	h2 := mustCreate(t, l, Spec{Name: "label", Type: api.TypeString})
	info2, _ := l.Get(h2)
	if info2.Value != "" {
		t.Fatalf("string default = %q, want empty", info2.Value)
	}
}

func TestCreateRejectsBadSpecs(t *testing.T) {
	l := newTestList(t)
	cases := []Spec{
		{Name: "", Type: api.TypeString},
		{Name: strings.Repeat("n", api.MaxNameLen+1), Type: api.TypeString},
		{Name: "x", Type: api.TypeInvalid},
		{Name: "x", Type: api.TypeInt32, Value: "not-a-number"},
		{Name: "x", Type: api.TypeString, Tags: strings.Repeat("t", api.MaxTagSpecLen)},
		{Name: "x", Type: api.TypeString, Tags: "a,b,c,d,e,f,g,h,i"},
		{Name: "x", Type: api.TypeString, Format: strings.Repeat("f", api.MaxFormatSpecLen+1)},
	}
	for _, spec := range cases {
		if _, err := l.Create(spec); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Create(%+v) error = %v, want ErrInvalid", spec, err)
		}
	}
}

func TestCreateDuplicate(t *testing.T) {
	l := newTestList(t)
	mustCreate(t, l, Spec{Name: "dup", Type: api.TypeString})
	if _, err := l.Create(Spec{Name: "dup", Type: api.TypeString}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate create error = %v, want ErrExists", err)
	}
	// Same name under a different instance id is a distinct variable.
	mustCreate(t, l, Spec{Name: "dup", InstanceID: 1, Type: api.TypeString})
}

func TestLookupAndAlias(t *testing.T) {
	l := newTestList(t)
	h := mustCreate(t, l, Spec{Name: "sys.hostname", Type: api.TypeString, Value: "node1"})

	got, err := l.Lookup("sys.hostname", 0)
	if err != nil || got != h {
		t.Fatalf("Lookup = (%d, %v), want (%d, nil)", got, err, h)
	}
	if _, err := l.Lookup("missing", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup(missing) error = %v, want ErrNotFound", err)
	}

	if err := l.Alias(h, "hostname"); err != nil {
		t.Fatalf("Alias: %v", err)
	}
	got, err = l.Lookup("hostname", 0)
	if err != nil || got != h {
		t.Fatalf("alias Lookup = (%d, %v), want (%d, nil)", got, err, h)
	}

	if err := l.Alias(h, "hostname"); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate alias error = %v, want ErrExists", err)
	}
	if err := l.Alias(h, "sys.hostname"); !errors.Is(err, ErrExists) {
		t.Fatalf("alias shadowing a variable error = %v, want ErrExists", err)
	}
	if err := l.Alias(999, "dangling"); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("alias of unknown handle error = %v, want ErrInvalidHandle", err)
	}
	if _, err := l.Create(Spec{Name: "hostname", Type: api.TypeString}); !errors.Is(err, ErrExists) {
		t.Fatalf("create shadowing an alias error = %v, want ErrExists", err)
	}
}

func TestSet(t *testing.T) {
	l := newTestList(t)
	h := mustCreate(t, l, Spec{Name: "count", Type: api.TypeUint32, Value: "1"})

	seq, err := l.Set(h, "0x2a")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if seq != 1 {
		t.Fatalf("seq = %d, want 1", seq)
	}
	info, _ := l.Get(h)
	if info.Value != "42" {
		t.Fatalf("value = %q, want canonical 42", info.Value)
	}
	if info.Flags&api.FlagDirty == 0 {
		t.Fatal("set must mark the variable dirty")
	}

	if _, err := l.Set(h, "bogus"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("bad value error = %v, want ErrInvalid", err)
	}
	if _, err := l.Set(42, "1"); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("unknown handle error = %v, want ErrInvalidHandle", err)
	}
}

func TestSetReadonly(t *testing.T) {
	l := newTestList(t)
	h := mustCreate(t, l, Spec{Name: "ro", Type: api.TypeString, Value: "v", Flags: api.FlagReadonly})
	if _, err := l.Set(h, "other"); !errors.Is(err, ErrReadonly) {
		t.Fatalf("readonly set error = %v, want ErrReadonly", err)
	}
	info, _ := l.Get(h)
	if info.Value != "v" || info.Seq != 0 {
		t.Fatalf("readonly variable mutated: %+v", info)
	}
}

func TestModifyFlags(t *testing.T) {
	l := newTestList(t)
	mustCreate(t, l, Spec{Name: "sys.a", Type: api.TypeString})
	mustCreate(t, l, Spec{Name: "sys.b", Type: api.TypeString})
	mustCreate(t, l, Spec{Name: "other", Type: api.TypeString})

	if n := l.ModifyFlags("sys.", api.FlagReadonly, true); n != 2 {
		t.Fatalf("set affected %d, want 2", n)
	}
	// Already set: no change reported.
	if n := l.ModifyFlags("sys.", api.FlagReadonly, true); n != 0 {
		t.Fatalf("idempotent set affected %d, want 0", n)
	}
	h, _ := l.Lookup("sys.a", 0)
	info, _ := l.Get(h)
	if info.Flags&api.FlagReadonly == 0 {
		t.Fatal("flag not applied")
	}
	if n := l.ModifyFlags("sys.", api.FlagReadonly, false); n != 2 {
		t.Fatalf("clear affected %d, want 2", n)
	}
}

func TestWatch(t *testing.T) {
	l := newTestList(t)
	h := mustCreate(t, l, Spec{Name: "w", Type: api.TypeUint32})

	done := make(chan struct{})
	go func() {
		defer close(done)
		seq, changed, err := l.Watch(context.Background(), h, 0)
		if err != nil || !changed || seq != 1 {
			t.Errorf("Watch = (%d, %v, %v), want (1, true, nil)", seq, changed, err)
		}
	}()
	time.Sleep(10 * time.Millisecond)
	if _, err := l.Set(h, "5"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not wake on set")
	}
}

func TestWatchTimeout(t *testing.T) {
	l := newTestList(t)
	h := mustCreate(t, l, Spec{Name: "w", Type: api.TypeUint32})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	seq, changed, err := l.Watch(ctx, h, 0)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if changed || seq != 0 {
		t.Fatalf("Watch = (%d, %v), want (0, false) on timeout", seq, changed)
	}
}

func TestWatchUnknownHandle(t *testing.T) {
	l := newTestList(t)
	if _, _, err := l.Watch(context.Background(), 7, 0); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("Watch error = %v, want ErrInvalidHandle", err)
	}
}

func TestRender(t *testing.T) {
	l := newTestList(t)
	cases := []struct {
		spec Spec
		want string
	}{
		{Spec{Name: "plain", Type: api.TypeFloat, Value: "48.5"}, "48.5"},
		{Spec{Name: "fmt.float", Type: api.TypeFloat, Value: "48.5", Format: "%.1fC"}, "48.5C"},
		{Spec{Name: "fmt.hex", Type: api.TypeUint32, Value: "255", Format: "0x%04x"}, "0x00ff"},
		{Spec{Name: "fmt.int", Type: api.TypeInt32, Value: "-7", Format: "%+d"}, "-7"},
		{Spec{Name: "fmt.str", Type: api.TypeString, Value: "node1", Format: "<%s>"}, "<node1>"},
	}
	for _, tc := range cases {
		h := mustCreate(t, l, tc.spec)
		var buf bytes.Buffer
		if err := l.Render(h, &buf); err != nil {
			t.Fatalf("Render(%s): %v", tc.spec.Name, err)
		}
		if buf.String() != tc.want {
			t.Fatalf("Render(%s) = %q, want %q", tc.spec.Name, buf.String(), tc.want)
		}
	}
	if err := l.Render(99, &bytes.Buffer{}); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("Render(99) error = %v, want ErrInvalidHandle", err)
	}
}

func TestCounts(t *testing.T) {
	l := newTestList(t)
	mustCreate(t, l, Spec{Name: "a", Type: api.TypeString, Tags: "x,y"})
	mustCreate(t, l, Spec{Name: "b", Type: api.TypeString, Tags: "y,z"})
	if l.Count() != 2 {
		t.Fatalf("Count = %d, want 2", l.Count())
	}
	if l.TagCount() != 3 {
		t.Fatalf("TagCount = %d, want 3 (shared tags interned once)", l.TagCount())
	}
}

func TestTagListInternsStably(t *testing.T) {
	tl := newTagList()
	id1, err := tl.intern("sensor")
	if err != nil {
		t.Fatalf("intern: %v", err)
	}
	id2, _ := tl.intern("sensor")
	if id1 != id2 {
		t.Fatalf("re-intern gave %d, want %d", id2, id1)
	}
	if id1 == 0 {
		t.Fatal("id 0 is reserved")
	}
	name, ok := tl.name(id1)
	if !ok || name != "sensor" {
		t.Fatalf("name(%d) = (%q, %v)", id1, name, ok)
	}
	if _, ok := tl.lookup("missing"); ok {
		t.Fatal("lookup of unknown tag succeeded")
	}
	if _, ok := tl.name(0); ok {
		t.Fatal("id 0 must not resolve")
	}
}
