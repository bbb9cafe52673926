package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the load/call lifecycle the error occurred
type Phase string

const (
	PhaseResolve     Phase = "resolve"     // locating and fetching the binary
	PhaseInspect     Phase = "inspect"     // binary inspection
	PhaseCompile     Phase = "compile"     // wasm compilation
	PhaseInstantiate Phase = "instantiate" // module instantiation
	PhaseEntry       Phase = "entry"       // running the entry point
	PhasePublish     Phase = "publish"     // namespace publication
	PhaseCall        Phase = "call"        // forwarding an operation
	PhaseEncode      Phase = "encode"      // Go to engine
	PhaseDecode      Phase = "decode"      // engine to Go
	PhaseStore       Phase = "store"       // key bundle storage
	PhaseConfig      Phase = "config"      // configuration loading
	PhaseHost        Phase = "host"        // host module setup
)

// Kind categorizes the error
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindNotInitialized Kind = "not_initialized"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindUnsupported    Kind = "unsupported"
	KindIntegrity      Kind = "integrity"
	KindTimeout        Kind = "timeout"
	KindEngine         Kind = "engine"
	KindMissingExport  Kind = "missing_export"
	KindOutOfBounds    Kind = "out_of_bounds"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
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

// Op sets the engine operation the error belongs to
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
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

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", what),
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

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// MissingExport creates an error for a wasm export the engine must provide
func MissingExport(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("export %q not found", name),
		Value:  name,
	}
}

// OutOfBounds creates an error for a guest memory access outside linear memory
func OutOfBounds(phase Phase, ptr, length, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) outside memory of %d bytes", ptr, uint64(ptr)+uint64(length), size),
		Value:  ptr,
	}
}

// Integrity creates a digest mismatch error
func Integrity(phase Phase, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindIntegrity,
		Detail: fmt.Sprintf("digest mismatch: want %s, got %s", want, got),
		Value:  got,
	}
}

// Timeout creates a timeout error
func Timeout(phase Phase, what string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTimeout,
		Detail: fmt.Sprintf("timed out waiting for %s", what),
		Cause:  cause,
	}
}

// Engine creates an error reported by the engine itself for an operation
func Engine(op, message string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindEngine,
		Op:     op,
		Detail: message,
	}
}

// Load creates a binary resolution error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseResolve,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindEngine,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
