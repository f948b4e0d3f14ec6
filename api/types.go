// Package api defines the wire types shared by the vard server, the Go
// client SDK, and the CLI. All request/response payloads are JSON over
// HTTP; the error envelope carries stable error codes so clients can map
// failures to sentinel errors without string matching.
package api

// Limits enforced at the API boundary. Oversized fields are rejected with
// ErrCodeInvalidArgument before any registry interaction.
const (
	// MaxNameLen bounds variable names, including alias names.
	MaxNameLen = 64
	// MaxTagSpecLen bounds a comma-separated tag specification. A tagspec is
	// valid only when its length is strictly less than this limit.
	MaxTagSpecLen = 128
	// MaxFlagSpecLen bounds a comma-separated flag name list.
	MaxFlagSpecLen = 128
	// MaxFormatSpecLen bounds a variable's printf-style format specifier.
	MaxFormatSpecLen = 16
	// MaxTagsPerVar caps how many tags a single variable may carry.
	MaxTagsPerVar = 8
	// MaxStringLen bounds string and blob variable payloads.
	MaxStringLen = 4096
)

// CreateRequest models POST /v1/create.
type CreateRequest struct {
	// Name is the variable name to register.
	Name string `json:"name"`
	// InstanceID disambiguates multiple instances of the same name; 0 means unscoped.
	InstanceID uint32 `json:"instance_id,omitempty"`
	// Type is the variable type name (uint16, int16, uint32, int32, uint64, int64, float, str, blob).
	Type string `json:"type"`
	// Value is the initial value rendered as a string and parsed per Type.
	Value string `json:"value,omitempty"`
	// Flags is a comma-separated flag name list (volatile, readonly, hidden, dirty).
	Flags string `json:"flags,omitempty"`
	// Tags is a comma-separated tag specification attached to the variable.
	Tags string `json:"tags,omitempty"`
	// Format is an optional printf-style format specifier used when rendering the value.
	Format string `json:"format,omitempty"`
	// GUID is an optional caller-assigned globally unique identifier.
	GUID uint32 `json:"guid,omitempty"`
}

// CreateResponse acknowledges variable creation.
type CreateResponse struct {
	// Handle is the registry handle assigned to the new variable.
	Handle uint32 `json:"handle"`
	// Name echoes the registered variable name.
	Name string `json:"name"`
	// InstanceID echoes the registered instance identifier.
	InstanceID uint32 `json:"instance_id,omitempty"`
}

// GetRequest models POST /v1/get. Exactly one of Name or Handle selects the
// variable; Name lookup honours InstanceID.
type GetRequest struct {
	// Name selects the variable by name (aliases resolve to their target).
	Name string `json:"name,omitempty"`
	// InstanceID scopes the name lookup; 0 matches the unscoped instance.
	InstanceID uint32 `json:"instance_id,omitempty"`
	// Handle selects the variable directly by registry handle when non-zero.
	Handle uint32 `json:"handle,omitempty"`
}

// GetResponse returns a variable's attributes and rendered value.
type GetResponse struct {
	// Handle is the registry handle of the variable.
	Handle uint32 `json:"handle"`
	// Name is the variable name.
	Name string `json:"name"`
	// InstanceID is the variable's instance identifier.
	InstanceID uint32 `json:"instance_id,omitempty"`
	// Type is the variable type name.
	Type string `json:"type"`
	// Value is the raw value rendered without the format specifier.
	Value string `json:"value"`
	// Formatted is the value rendered through the variable's format specifier.
	Formatted string `json:"formatted,omitempty"`
	// Flags is the comma-separated list of flag names set on the variable.
	Flags string `json:"flags,omitempty"`
	// Tags is the comma-separated list of tags attached to the variable.
	Tags string `json:"tags,omitempty"`
	// Seq is the modification sequence number, starting at 0 on create.
	Seq uint64 `json:"seq"`
}

// SetRequest models POST /v1/set.
type SetRequest struct {
	// Name selects the variable by name.
	Name string `json:"name,omitempty"`
	// InstanceID scopes the name lookup.
	InstanceID uint32 `json:"instance_id,omitempty"`
	// Handle selects the variable directly when non-zero.
	Handle uint32 `json:"handle,omitempty"`
	// Value is the new value, parsed per the variable's type.
	Value string `json:"value"`
}

// SetResponse acknowledges a successful set.
type SetResponse struct {
	// Handle is the registry handle of the mutated variable.
	Handle uint32 `json:"handle"`
	// Seq is the new modification sequence number.
	Seq uint64 `json:"seq"`
}

// QueryRequest models POST /v1/query: one cursor step per request. An empty
// Token starts a fresh traversal; subsequent requests pass the Token from
// the previous response to resume where the registry left off.
type QueryRequest struct {
	// Mode is the search mode bitmask (see vquery.SearchMode for bit meanings).
	Mode uint32 `json:"mode"`
	// Pattern is the name pattern, interpreted per the regex/substring mode bit.
	Pattern string `json:"pattern,omitempty"`
	// Tags is the comma-separated tag specification for tag filtering.
	Tags string `json:"tags,omitempty"`
	// InstanceID is the instance identifier filter value.
	InstanceID uint32 `json:"instance_id,omitempty"`
	// Flags is the flag bitmask for flag filtering.
	Flags uint32 `json:"flags,omitempty"`
	// Token resumes a traversal; empty begins a new one.
	Token string `json:"token,omitempty"`
}

// QueryResponse returns one cursor step.
type QueryResponse struct {
	// Done reports traversal exhaustion; the remaining fields are unset when true.
	Done bool `json:"done,omitempty"`
	// Name is the matched variable's name.
	Name string `json:"name,omitempty"`
	// InstanceID is the matched variable's instance identifier.
	InstanceID uint32 `json:"instance_id,omitempty"`
	// Handle is the matched variable's registry handle, borrowed for one render.
	Handle uint32 `json:"handle,omitempty"`
	// Token resumes the traversal on the next request.
	Token string `json:"token,omitempty"`
}

// RenderRequest models POST /v1/render: format a variable's value server-side.
type RenderRequest struct {
	// Handle is the registry handle to render.
	Handle uint32 `json:"handle"`
}

// FlagOp enumerates flag mutations for POST /v1/flags.
type FlagOp string

const (
	// FlagOpSet sets the requested flag bits.
	FlagOpSet FlagOp = "set"
	// FlagOpClear clears the requested flag bits.
	FlagOpClear FlagOp = "clear"
)

// FlagsRequest models POST /v1/flags: set or clear flags on every variable
// whose name contains Match as a substring.
type FlagsRequest struct {
	// Match is the case-sensitive name substring selecting target variables.
	Match string `json:"match"`
	// Flags is the comma-separated flag name list to apply.
	Flags string `json:"flags"`
	// Op selects set or clear.
	Op FlagOp `json:"op"`
}

// FlagsResponse reports how many variables were modified.
type FlagsResponse struct {
	// Affected is the number of variables whose flags changed.
	Affected int `json:"affected"`
}

// AliasRequest models POST /v1/alias: register an additional name for an
// existing variable.
type AliasRequest struct {
	// Name selects the target variable by name.
	Name string `json:"name,omitempty"`
	// InstanceID scopes the name lookup.
	InstanceID uint32 `json:"instance_id,omitempty"`
	// Handle selects the target variable directly when non-zero.
	Handle uint32 `json:"handle,omitempty"`
	// Alias is the additional name to register.
	Alias string `json:"alias"`
}

// AliasResponse acknowledges alias registration.
type AliasResponse struct {
	// Handle is the handle the alias resolves to.
	Handle uint32 `json:"handle"`
}

// WatchRequest models POST /v1/watch: long-poll until the variable's
// modification sequence exceeds Seq or the timeout elapses.
type WatchRequest struct {
	// Name selects the variable by name.
	Name string `json:"name,omitempty"`
	// InstanceID scopes the name lookup.
	InstanceID uint32 `json:"instance_id,omitempty"`
	// Handle selects the variable directly when non-zero.
	Handle uint32 `json:"handle,omitempty"`
	// Seq is the last sequence number observed by the caller.
	Seq uint64 `json:"seq"`
	// TimeoutSeconds bounds the server-side wait; 0 uses the server default.
	TimeoutSeconds int64 `json:"timeout_seconds,omitempty"`
}

// WatchResponse reports the outcome of a watch.
type WatchResponse struct {
	// Changed reports whether the variable was modified while waiting.
	Changed bool `json:"changed"`
	// Seq is the variable's current modification sequence number.
	Seq uint64 `json:"seq"`
	// Value is the variable's current raw value when Changed is true.
	Value string `json:"value,omitempty"`
}

// StatusResponse surfaces server diagnostics via GET /v1/status.
type StatusResponse struct {
	// RunID is the unique identifier assigned to this server process.
	RunID string `json:"run_id"`
	// Version is the vard build version.
	Version string `json:"version"`
	// Variables is the number of registered variables, aliases included.
	Variables int `json:"variables"`
	// Tags is the number of interned tag names.
	Tags int `json:"tags"`
	// UptimeSeconds is the seconds elapsed since server start.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// RSSBytes is the server process resident set size, when available.
	RSSBytes uint64 `json:"rss_bytes,omitempty"`
	// Requests maps operation names to served request counts.
	Requests map[string]uint64 `json:"requests,omitempty"`
}

// ErrorResponse is the canonical error envelope for API errors.
type ErrorResponse struct {
	// ErrorCode is the stable vard error identifier.
	ErrorCode string `json:"error"`
	// Detail provides human-readable diagnostic context for the error.
	Detail string `json:"detail,omitempty"`
}

// Stable error codes carried in ErrorResponse.ErrorCode.
const (
	// ErrCodeInvalidArgument reports a malformed request (bad name, oversized
	// tagspec, unknown type or flag name, unparsable value).
	ErrCodeInvalidArgument = "invalid_argument"
	// ErrCodeNotFound reports that no variable matched the selector.
	ErrCodeNotFound = "not_found"
	// ErrCodeAlreadyExists reports a duplicate name+instance registration.
	ErrCodeAlreadyExists = "already_exists"
	// ErrCodeReadonly reports a set attempt on a readonly variable.
	ErrCodeReadonly = "readonly"
	// ErrCodeInvalidHandle reports a stale or unknown registry handle.
	ErrCodeInvalidHandle = "invalid_handle"
	// ErrCodeInternal reports an unexpected server-side failure.
	ErrCodeInternal = "internal"
)
