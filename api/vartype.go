package api

import (
	"fmt"
	"strconv"
	"strings"
)

// VarType enumerates the storable variable types. The zero value is
// invalid; type names match the wire representation.
type VarType int

const (
	// TypeInvalid is the unset type.
	TypeInvalid VarType = iota
	// TypeUint16 is a 16-bit unsigned integer.
	TypeUint16
	// TypeInt16 is a 16-bit signed integer.
	TypeInt16
	// TypeUint32 is a 32-bit unsigned integer.
	TypeUint32
	// TypeInt32 is a 32-bit signed integer.
	TypeInt32
	// TypeUint64 is a 64-bit unsigned integer.
	TypeUint64
	// TypeInt64 is a 64-bit signed integer.
	TypeInt64
	// TypeFloat is an IEEE 754 double.
	TypeFloat
	// TypeString is a UTF-8 string.
	TypeString
	// TypeBlob is opaque bytes, carried base64-free as a raw string.
	TypeBlob
)

var typeNames = []string{
	TypeInvalid: "invalid",
	TypeUint16:  "uint16",
	TypeInt16:   "int16",
	TypeUint32:  "uint32",
	TypeInt32:   "int32",
	TypeUint64:  "uint64",
	TypeInt64:   "int64",
	TypeFloat:   "float",
	TypeString:  "str",
	TypeBlob:    "blob",
}

// ParseVarType resolves a case-insensitive type name. Empty input defaults
// to str, matching the behaviour of variable creation without -t.
func ParseVarType(name string) (VarType, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return TypeString, nil
	}
	for t, n := range typeNames {
		if t == int(TypeInvalid) {
			continue
		}
		if strings.EqualFold(n, name) {
			return VarType(t), nil
		}
	}
	return TypeInvalid, fmt.Errorf("unknown variable type %q", name)
}

// String returns the wire name for the type.
func (t VarType) String() string {
	if t < TypeInvalid || int(t) >= len(typeNames) {
		return typeNames[TypeInvalid]
	}
	return typeNames[t]
}

// Numeric reports whether the type stores an integer or float value.
func (t VarType) Numeric() bool {
	switch t {
	case TypeUint16, TypeInt16, TypeUint32, TypeInt32, TypeUint64, TypeInt64, TypeFloat:
		return true
	}
	return false
}

// ValidateValue checks that raw parses as a value of type t. It returns the
// canonical string form (integers re-rendered in base 10, floats via
// strconv.FormatFloat 'g') so stored values compare bytewise.
func (t VarType) ValidateValue(raw string) (string, error) {
	switch t {
	case TypeUint16, TypeUint32, TypeUint64:
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 0, t.bitSize())
		if err != nil {
			return "", fmt.Errorf("parse %s value %q: %w", t, raw, err)
		}
		return strconv.FormatUint(v, 10), nil
	case TypeInt16, TypeInt32, TypeInt64:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 0, t.bitSize())
		if err != nil {
			return "", fmt.Errorf("parse %s value %q: %w", t, raw, err)
		}
		return strconv.FormatInt(v, 10), nil
	case TypeFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return "", fmt.Errorf("parse float value %q: %w", raw, err)
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case TypeString, TypeBlob:
		if len(raw) > MaxStringLen {
			return "", fmt.Errorf("%s value exceeds %d bytes", t, MaxStringLen)
		}
		return raw, nil
	}
	return "", fmt.Errorf("invalid variable type")
}

func (t VarType) bitSize() int {
	switch t {
	case TypeUint16, TypeInt16:
		return 16
	case TypeUint32, TypeInt32:
		return 32
	default:
		return 64
	}
}
