package graph

import "fmt"

// Kind is the stable error taxonomy every stage boundary classifies into,
// per the propagation policy: transient failures retry locally, the rest
// surface to the orchestrator as a paper-level failure.
type Kind string

const (
	KindTransport          Kind = "transport"
	KindProviderRefused    Kind = "provider_refused"
	KindSchemaInvalid      Kind = "schema_invalid"
	KindValidationRejected Kind = "validation_rejected"
	KindIntegrityViolation Kind = "integrity_violation"
	KindCancelled          Kind = "cancelled"
)

// Retriable reports whether a failure of this kind should be retried by
// internal/retry. Only transport failures (timeouts, 429, 5xx) qualify.
func (k Kind) Retriable() bool {
	return k == KindTransport
}

// Error is the typed result value stage boundaries use in place of bare
// errors, carrying enough context for the orchestrator's per-paper summary.
type Error struct {
	Kind  Kind
	Code  string // short stable code, e.g. "http_429", "dangling_edge"
	Stage string // pipeline stage name, empty if not stage-scoped
	Cause error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Stage, e.Kind, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Code, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retriable reports whether this error's kind should be retried.
func (e *Error) Retriable() bool { return e.Kind.Retriable() }

// New builds a classified Error wrapping cause.
func New(kind Kind, code string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Cause: cause}
}

// WithStage returns a copy of e annotated with the stage it occurred in.
func (e *Error) WithStage(stage string) *Error {
	cp := *e
	cp.Stage = stage
	return &cp
}
