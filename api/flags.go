package api

import (
	"fmt"
	"strings"
)

// Flags is the variable flag bitmask. Flag names parse case-insensitively
// from comma-separated lists; the bit assignments are part of the wire
// contract and must not be reordered.
type Flags uint32

const (
	// FlagVolatile marks values that are not persisted across restarts.
	FlagVolatile Flags = 1 << iota
	// FlagReadonly rejects set operations after creation.
	FlagReadonly
	// FlagHidden marks variables that tooling hides by default.
	FlagHidden
	// FlagDirty is set by the registry whenever the value is modified.
	FlagDirty
)

var flagNames = []struct {
	name string
	bit  Flags
}{
	{"volatile", FlagVolatile},
	{"readonly", FlagReadonly},
	{"hidden", FlagHidden},
	{"dirty", FlagDirty},
}

// ParseFlags converts a comma-separated flag name list into a bitmask.
// Empty input yields zero flags. Unknown flag names are an error.
func ParseFlags(spec string) (Flags, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, nil
	}
	if len(spec) > MaxFlagSpecLen {
		return 0, fmt.Errorf("flag list exceeds %d bytes", MaxFlagSpecLen)
	}
	var flags Flags
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		matched := false
		for _, fn := range flagNames {
			if strings.EqualFold(fn.name, tok) {
				flags |= fn.bit
				matched = true
				break
			}
		}
		if !matched {
			return 0, fmt.Errorf("unknown flag %q", tok)
		}
	}
	return flags, nil
}

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// String renders the bitmask as a comma-separated flag name list.
func (f Flags) String() string {
	if f == 0 {
		return ""
	}
	parts := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if f&fn.bit != 0 {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, ",")
}
