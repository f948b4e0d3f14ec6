// Package registry implements the in-process variable registry engine:
// creation-ordered storage, name and alias lookup, tag interning, typed
// values with format-spec rendering, flag mutation, modification watches,
// and the find-first/find-next traversal the query engine drives.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/varserver/vard/api"
	"github.com/varserver/vard/vquery"
	"pkt.systems/pslog"
)

// Sentinel errors surfaced to the API layer.
var (
	// ErrNotFound reports that no variable matched the selector.
	ErrNotFound = errors.New("registry: variable not found")
	// ErrExists reports a duplicate name+instance registration.
	ErrExists = errors.New("registry: variable already exists")
	// ErrReadonly reports a set attempt on a readonly variable.
	ErrReadonly = errors.New("registry: variable is readonly")
	// ErrInvalidHandle reports a stale or unknown handle.
	ErrInvalidHandle = errors.New("registry: invalid handle")
	// ErrInvalid reports malformed variable attributes.
	ErrInvalid = errors.New("registry: invalid argument")
)

// Spec describes a variable to create.
type Spec struct {
	Name       string
	InstanceID uint32
	Type       api.VarType
	Value      string
	Flags      api.Flags
	Tags       string
	Format     string
	GUID       uint32
}

// Info is a point-in-time snapshot of one variable's attributes.
type Info struct {
	Handle     uint32
	Name       string
	InstanceID uint32
	Type       api.VarType
	Value      string
	Flags      api.Flags
	Tags       []string
	Format     string
	GUID       uint32
	Seq        uint64
}

// variable is the stored record. All fields are guarded by List.mu.
type variable struct {
	name       string
	instanceID uint32
	typ        api.VarType
	value      string
	flags      api.Flags
	tags       []uint16
	format     string
	guid       uint32
	seq        uint64
	changed    chan struct{} // closed and replaced on every value change
}

type nameKey struct {
	name       string
	instanceID uint32
}

// List is the registry engine. Variables are stored in creation order and
// addressed by uint32 handles starting at 1; traversal enumerates in handle
// order, which keeps find-next resumable under concurrent creation (new
// variables always sort after the resume point, removed ones are never
// revisited).
type List struct {
	mu      sync.RWMutex
	vars    []*variable // index = handle-1
	byName  map[nameKey]uint32
	aliases map[string]uint32
	tags    *tagList
	logger  pslog.Logger
}

// New constructs an empty registry. A nil logger disables logging.
func New(logger pslog.Logger) *List {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &List{
		byName:  make(map[nameKey]uint32),
		aliases: make(map[string]uint32),
		tags:    newTagList(),
		logger:  logger,
	}
}

// Create registers a new variable and returns its handle.
func (l *List) Create(spec Spec) (uint32, error) {
	if err := validateSpec(spec); err != nil {
		return 0, err
	}
	canonical := spec.Value
	if spec.Value == "" && spec.Type.Numeric() {
		canonical = "0"
	} else if spec.Value != "" {
		v, err := spec.Type.ValidateValue(spec.Value)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		canonical = v
	}
	tagIDs, err := l.internTags(spec.Tags)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	key := nameKey{spec.Name, spec.InstanceID}
	if _, ok := l.byName[key]; ok {
		return 0, fmt.Errorf("%w: %s", ErrExists, spec.Name)
	}
	if _, ok := l.aliases[spec.Name]; ok {
		return 0, fmt.Errorf("%w: %s is an alias", ErrExists, spec.Name)
	}
	v := &variable{
		name:       spec.Name,
		instanceID: spec.InstanceID,
		typ:        spec.Type,
		value:      canonical,
		flags:      spec.Flags,
		tags:       tagIDs,
		format:     spec.Format,
		guid:       spec.GUID,
		changed:    make(chan struct{}),
	}
	l.vars = append(l.vars, v)
	handle := uint32(len(l.vars))
	l.byName[key] = handle
	l.logger.Debug("variable created",
		"name", spec.Name, "instance_id", spec.InstanceID,
		"type", spec.Type.String(), "handle", handle)
	return handle, nil
}

// Alias registers an additional lookup name for the variable behind handle.
// Aliases resolve on lookup but are not enumerated by traversal.
func (l *List) Alias(handle uint32, alias string) error {
	if alias == "" || len(alias) > api.MaxNameLen {
		return fmt.Errorf("%w: bad alias name", ErrInvalid)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.varAt(handle); err != nil {
		return err
	}
	if _, ok := l.aliases[alias]; ok {
		return fmt.Errorf("%w: alias %s", ErrExists, alias)
	}
	for key := range l.byName {
		if key.name == alias {
			return fmt.Errorf("%w: %s names a variable", ErrExists, alias)
		}
	}
	l.aliases[alias] = handle
	l.logger.Debug("alias registered", "alias", alias, "handle", handle)
	return nil
}

// Lookup resolves a name (or alias) and instance id to a handle.
func (l *List) Lookup(name string, instanceID uint32) (uint32, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if h, ok := l.byName[nameKey{name, instanceID}]; ok {
		return h, nil
	}
	if h, ok := l.aliases[name]; ok {
		return h, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Get snapshots the variable behind handle.
func (l *List) Get(handle uint32) (Info, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, err := l.varAt(handle)
	if err != nil {
		return Info{}, err
	}
	return l.snapshot(handle, v), nil
}

// Set replaces the variable's value, bumps its sequence number, marks it
// dirty, and wakes watchers. Readonly variables reject the write.
func (l *List) Set(handle uint32, raw string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, err := l.varAt(handle)
	if err != nil {
		return 0, err
	}
	if v.flags&api.FlagReadonly != 0 {
		return 0, fmt.Errorf("%w: %s", ErrReadonly, v.name)
	}
	canonical, err := v.typ.ValidateValue(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	v.value = canonical
	v.flags |= api.FlagDirty
	v.seq++
	close(v.changed)
	v.changed = make(chan struct{})
	l.logger.Debug("variable set", "name", v.name, "handle", handle, "seq", v.seq)
	return v.seq, nil
}

// ModifyFlags sets or clears flag bits on every variable whose name
// contains match as a substring and returns how many changed.
func (l *List) ModifyFlags(match string, flags api.Flags, set bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	affected := 0
	for _, v := range l.vars {
		if !strings.Contains(v.name, match) {
			continue
		}
		before := v.flags
		if set {
			v.flags |= flags
		} else {
			v.flags &^= flags
		}
		if v.flags != before {
			affected++
		}
	}
	return affected
}

// Count reports the number of registered variables, aliases excluded.
func (l *List) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.vars)
}

// TagCount reports the number of interned tag names.
func (l *List) TagCount() int {
	return l.tags.count()
}

// Watch blocks until the variable's sequence number exceeds seq, the
// context is done, or the variable is unknown. It reports the current
// sequence and whether a change was observed.
func (l *List) Watch(ctx context.Context, handle uint32, seq uint64) (uint64, bool, error) {
	for {
		l.mu.RLock()
		v, err := l.varAt(handle)
		if err != nil {
			l.mu.RUnlock()
			return 0, false, err
		}
		cur, ch := v.seq, v.changed
		l.mu.RUnlock()
		if cur > seq {
			return cur, true, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return cur, false, nil
		}
	}
}

func (l *List) varAt(handle uint32) (*variable, error) {
	if handle == 0 || int(handle) > len(l.vars) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHandle, handle)
	}
	return l.vars[handle-1], nil
}

// snapshot must be called with l.mu held.
func (l *List) snapshot(handle uint32, v *variable) Info {
	tags := make([]string, 0, len(v.tags))
	for _, id := range v.tags {
		if name, ok := l.tags.name(id); ok {
			tags = append(tags, name)
		}
	}
	return Info{
		Handle:     handle,
		Name:       v.name,
		InstanceID: v.instanceID,
		Type:       v.typ,
		Value:      v.value,
		Flags:      v.flags,
		Tags:       tags,
		Format:     v.format,
		GUID:       v.guid,
		Seq:        v.seq,
	}
}

func (l *List) internTags(spec string) ([]uint16, error) {
	tags := vquery.SplitTags(spec)
	if len(tags) > api.MaxTagsPerVar {
		return nil, fmt.Errorf("more than %d tags", api.MaxTagsPerVar)
	}
	ids := make([]uint16, 0, len(tags))
	for _, t := range tags {
		id, err := l.tags.intern(t)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func validateSpec(spec Spec) error {
	if spec.Name == "" || len(spec.Name) > api.MaxNameLen {
		return fmt.Errorf("%w: bad variable name", ErrInvalid)
	}
	if spec.Type == api.TypeInvalid {
		return fmt.Errorf("%w: invalid variable type", ErrInvalid)
	}
	if spec.Tags != "" && len(spec.Tags) >= api.MaxTagSpecLen {
		return fmt.Errorf("%w: tag specification exceeds %d bytes", ErrInvalid, api.MaxTagSpecLen-1)
	}
	if len(spec.Format) > api.MaxFormatSpecLen {
		return fmt.Errorf("%w: format specifier exceeds %d bytes", ErrInvalid, api.MaxFormatSpecLen)
	}
	return nil
}

// Render writes the variable's value through its format specifier to w.
// Numeric format verbs receive the parsed numeric value; %s receives the
// raw string. An empty format spec writes the canonical value as-is.
func (l *List) Render(handle uint32, w io.Writer) error {
	l.mu.RLock()
	v, err := l.varAt(handle)
	if err != nil {
		l.mu.RUnlock()
		return err
	}
	typ, value, format := v.typ, v.value, v.format
	l.mu.RUnlock()

	if format == "" {
		_, err = io.WriteString(w, value)
		return err
	}
	_, err = io.WriteString(w, formatValue(typ, value, format))
	return err
}

func formatValue(typ api.VarType, value, format string) string {
	switch typ {
	case api.TypeUint16, api.TypeUint32, api.TypeUint64:
		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			return fmt.Sprintf(format, n)
		}
	case api.TypeInt16, api.TypeInt32, api.TypeInt64:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return fmt.Sprintf(format, n)
		}
	case api.TypeFloat:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return fmt.Sprintf(format, f)
		}
	}
	return fmt.Sprintf(format, value)
}
