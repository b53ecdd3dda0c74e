package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode   Phase = "encode"   // typed value to wire bytes
	PhaseDecode   Phase = "decode"   // wire bytes to typed value
	PhaseDispatch Phase = "dispatch" // request/response exchange
	PhaseEngine   Phase = "engine"   // the boundary call itself
	PhaseStream   Phase = "stream"   // asynchronous delivery
	PhaseSession  Phase = "session"  // session lifecycle
	PhaseLoad     Phase = "load"     // engine module loading
	PhaseConfig   Phase = "config"   // configuration handling
	PhaseAudio    Phase = "audio"    // audio file handling
)

// Kind categorizes the error
type Kind string

const (
	KindUnknownTag    Kind = "unknown_tag"
	KindTruncated     Kind = "truncated"
	KindTrailingBytes Kind = "trailing_bytes"
	KindInvalidUTF8   Kind = "invalid_utf8"
	KindLimitExceeded Kind = "limit_exceeded"
	KindAllocation    Kind = "allocation"
	KindDoubleFree    Kind = "double_free"
	KindOutOfBounds   Kind = "out_of_bounds"
	KindNullResponse  Kind = "null_response"
	KindEngineFault   Kind = "engine_fault"
	KindClosed        Kind = "closed"
	KindUnavailable   Kind = "unavailable"
	KindMissingExport Kind = "missing_export"
	KindInvalidInput  Kind = "invalid_input"
	KindInstantiation Kind = "instantiation"
	KindNotFound      Kind = "not_found"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsProtocolError reports whether any error in err's chain is a wire-shape
// violation: an unknown tag, a truncated or oversized buffer, trailing
// bytes, or invalid UTF-8. These indicate a version mismatch between the
// two sides of the boundary, never an engine-reported failure. The whole
// chain is walked: a protocol error wrapped by another layer's Error still
// classifies.
func IsProtocolError(err error) bool {
	for ; err != nil; err = stderrors.Unwrap(err) {
		e, ok := err.(*Error)
		if !ok {
			continue
		}
		switch e.Kind {
		case KindUnknownTag, KindTruncated, KindTrailingBytes, KindInvalidUTF8, KindLimitExceeded:
			return true
		}
	}
	return false
}

// IsEngineFault reports whether any error in err's chain is a failure the
// engine itself reported: an Error-tagged response or the null-pointer
// sentinel. Engine faults are recoverable per call; the caller may retry.
func IsEngineFault(err error) bool {
	for ; err != nil; err = stderrors.Unwrap(err) {
		e, ok := err.(*Error)
		if !ok {
			continue
		}
		if e.Kind == KindEngineFault || e.Kind == KindNullResponse {
			return true
		}
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// UnknownTag creates an error for a tag byte outside the known variant set
func UnknownTag(phase Phase, union string, tag uint8, maxValid uint8) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknownTag,
		Detail: fmt.Sprintf("%s tag %d out of range (max %d)", union, tag, maxValid),
		Value:  tag,
	}
}

// Truncated creates an error for a length prefix reading past the buffer end
func Truncated(phase Phase, path []string, offset, need, have int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTruncated,
		Path:   path,
		Detail: fmt.Sprintf("need %d bytes at offset %d, have %d", need, offset, have),
	}
}

// TrailingBytes creates an error for unconsumed bytes after a complete decode
func TrailingBytes(path []string, remaining int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindTrailingBytes,
		Path:   path,
		Detail: fmt.Sprintf("%d unconsumed bytes after value", remaining),
	}
}

// InvalidUTF8 creates an invalid UTF-8 error
func InvalidUTF8(phase Phase, path []string, data []byte) *Error {
	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Path:   path,
		Detail: fmt.Sprintf("invalid UTF-8 sequence: %x", preview),
	}
}

// LimitExceeded creates an error for a length prefix beyond the safety limits
func LimitExceeded(phase Phase, path []string, what string, got, max uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLimitExceeded,
		Path:   path,
		Detail: fmt.Sprintf("%s length %d exceeds limit %d", what, got, max),
		Value:  got,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes in engine memory", size),
		Cause:  cause,
	}
}

// DoubleFree creates a double-free violation error. The ownership tracker
// panics with this value; it is a design invariant, not a runtime condition.
func DoubleFree(ptr, size uint32) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindDoubleFree,
		Detail: fmt.Sprintf("allocation ptr=%d len=%d already released", ptr, size),
	}
}

// OutOfBounds creates an engine memory access error
func OutOfBounds(phase Phase, op string, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("%s out of bounds: offset=%d, length=%d", op, offset, length),
	}
}

// NullResponse creates an error for an entry point that returned the null
// sentinel where a buffer was required
func NullResponse(entry string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindNullResponse,
		Detail: fmt.Sprintf("%s returned null response pointer", entry),
	}
}

// EngineFault creates an error carrying the engine's own failure report
func EngineFault(message string) *Error {
	return &Error{
		Phase:  PhaseEngine,
		Kind:   KindEngineFault,
		Detail: message,
	}
}

// Closed creates a terminal-state error for a closed feed or session
func Closed(what string) *Error {
	return &Error{
		Phase:  PhaseStream,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", what),
	}
}

// Unavailable creates an error for a boundary implementation that cannot
// be provided (e.g. no engine module configured)
func Unavailable(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindUnavailable,
		Detail: fmt.Sprintf("%s unavailable", what),
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInstantiation,
		Detail: "instantiate engine module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingExportsError is returned when an engine module does not export the
// full speech ABI surface. All gaps are reported at once so a mis-built
// engine is diagnosed in one pass.
type MissingExportsError struct {
	Exports []string
}

// NewMissingExportsError creates an error from the missing export names
func NewMissingExportsError(exports []string) *MissingExportsError {
	return &MissingExportsError{Exports: exports}
}

func (e *MissingExportsError) Error() string {
	if len(e.Exports) == 0 {
		return "[load] missing_export: no exports specified"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("engine module missing %d export(s):", len(e.Exports)))
	for _, name := range e.Exports {
		b.WriteString("\n  - ")
		b.WriteString(name)
	}
	return b.String()
}

// Is reports whether target matches this error type
func (e *MissingExportsError) Is(target error) bool {
	_, ok := target.(*MissingExportsError)
	return ok
}
