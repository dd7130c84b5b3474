// Package enginerr provides explicit, human-readable error types for the
// live query engine. Every error carries a Reason and, where one exists, a
// Suggestion — an error the engine cannot explain is an error it should not
// raise silently.
package enginerr

import "fmt"

// EngineError is the base error type for all engine errors.
type EngineError struct {
	Code       ErrorCode
	Message    string
	Reason     string
	Suggestion string
	Cause      error
}

// ErrorCode buckets errors by the three kinds spec §7 names.
type ErrorCode int

const (
	// CodeCompile corresponds to spec §7.1, CompileError.
	CodeCompile ErrorCode = iota + 1
	// CodeInvariant corresponds to spec §7.2, InternalInvariantViolation.
	CodeInvariant
	// CodeUpstream corresponds to spec §7.3, UpstreamError.
	CodeUpstream
)

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s\nReason: %s", msg, e.Reason)
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s\nSuggestion: %s", msg, e.Suggestion)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s\nCaused by: %v", msg, e.Cause)
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Cause }

// CompileError is returned synchronously from graph construction: LIMIT or
// OFFSET without ORDER BY, or a WHERE-pushdown expression the optimizer
// believed convertible but the compiler could not actually convert.
type CompileError struct {
	EngineError
}

// NewLimitWithoutOrderBy builds the dedicated compile error spec §4.E names
// for LIMIT/OFFSET specified without ORDER BY.
func NewLimitWithoutOrderBy() *CompileError {
	return &CompileError{EngineError{
		Code:       CodeCompile,
		Message:    "LIMIT/OFFSET requires ORDER BY",
		Reason:     "a bounded top-K window has no defined membership without a sort order",
		Suggestion: "add an ORDER BY clause, or drop LIMIT/OFFSET",
	}}
}

// NewQueryRejected is raised by internal/sqlfront when a SQL string falls
// outside the restricted subset this engine accepts (anything beyond a
// single SELECT over plain joins, comparisons, GROUP BY and ORDER BY).
func NewQueryRejected(sql, reason, suggestion string) *CompileError {
	return &CompileError{EngineError{
		Code:       CodeCompile,
		Message:    "query rejected",
		Reason:     reason,
		Suggestion: suggestion,
	}}
}

// NewPushdownConversionFailed is raised when the compiler's optimizer marked
// a collection's WHERE fragment as convertible but the conversion itself
// failed — per spec §7.1 this is treated as a compiler bug, not user error.
func NewPushdownConversionFailed(collection string, cause error) *CompileError {
	return &CompileError{EngineError{
		Code:       CodeCompile,
		Message:    fmt.Sprintf("where-pushdown conversion failed for %q", collection),
		Reason:     "optimizer classified this predicate as pushable but the conversion pass could not build it",
		Suggestion: "this is an engine bug, not a query error — file it with the offending query",
		Cause:      cause,
	}}
}

// InvariantViolation is a fatal, aborting error: the materializer observed an
// impossible (inserts, deletes) combination, or an operator received a
// retraction for a tuple it has no record of.
type InvariantViolation struct {
	EngineError
}

// NewInvariantViolation builds an InvariantViolation with the given reason.
func NewInvariantViolation(where, reason string) *InvariantViolation {
	return &InvariantViolation{EngineError{
		Code:       CodeInvariant,
		Message:    fmt.Sprintf("invariant violated in %s", where),
		Reason:     reason,
		Suggestion: "the query is aborted; this indicates a bug in the engine or a misbehaving source collection",
	}}
}

// UpstreamError wraps a failure from a source collection's subscribe/get/
// index call. Per spec §7.3 it propagates to the caller of the initial run
// and the partially-built query state is torn down.
type UpstreamError struct {
	EngineError
	Collection string
}

// NewUpstreamError wraps cause as an UpstreamError attributed to collection.
func NewUpstreamError(collection string, cause error) *UpstreamError {
	return &UpstreamError{
		EngineError: EngineError{
			Code:       CodeUpstream,
			Message:    fmt.Sprintf("source collection %q failed", collection),
			Reason:     cause.Error(),
			Suggestion: "check connectivity and credentials for this source collection",
			Cause:      cause,
		},
		Collection: collection,
	}
}
