package registry

import (
	"fmt"
	"sync"
)

// maxTags bounds the interned tag table. Tag ids are uint16 and id 0 is
// reserved as "no tag".
const maxTags = 65535

// tagList interns tag names into stable uint16 ids. Interning lets each
// variable carry a short fixed array of ids instead of repeated strings,
// and makes tag comparison an integer compare.
type tagList struct {
	mu    sync.RWMutex
	ids   map[string]uint16
	names []string // index = id; names[0] unused
}

func newTagList() *tagList {
	return &tagList{
		ids:   make(map[string]uint16),
		names: make([]string, 1),
	}
}

// intern returns the id for name, assigning the next free id on first use.
func (tl *tagList) intern(name string) (uint16, error) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if id, ok := tl.ids[name]; ok {
		return id, nil
	}
	if len(tl.names) > maxTags {
		return 0, fmt.Errorf("tag table full (%d tags)", maxTags)
	}
	id := uint16(len(tl.names))
	tl.ids[name] = id
	tl.names = append(tl.names, name)
	return id, nil
}

// lookup returns the id for name without interning.
func (tl *tagList) lookup(name string) (uint16, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	id, ok := tl.ids[name]
	return id, ok
}

// name resolves a tag id back to its name.
func (tl *tagList) name(id uint16) (string, bool) {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	if id == 0 || int(id) >= len(tl.names) {
		return "", false
	}
	return tl.names[id], true
}

// count reports the number of interned tags.
func (tl *tagList) count() int {
	tl.mu.RLock()
	defer tl.mu.RUnlock()
	return len(tl.names) - 1
}
