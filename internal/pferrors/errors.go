// Package pferrors defines PairFlow's machine-inspectable error kinds.
//
// The failures a caller needs to tell apart are the kinds below, each
// carrying the context a caller needs to decide what to do next (retry,
// surface to the operator, exit with a specific code); other failures
// are plain wrapped errors. This mirrors the teacher's GitError — a typed
// error that still formats a readable message but exposes its raw fields
// for programmatic inspection.
package pferrors

import (
	"errors"
	"fmt"
)

// Kind identifies which of the named error categories an error belongs to.
type Kind string

const (
	KindBubbleNotFound      Kind = "BubbleNotFound"
	KindRepoResolution      Kind = "RepoResolution"
	KindInvalidBubbleState  Kind = "InvalidBubbleState"
	KindStateConflict       Kind = "StateConflict"
	KindLockTimeout         Kind = "LockTimeout"
	KindSchemaValidation    Kind = "SchemaValidation"
	KindEnvelopeParse       Kind = "EnvelopeParse"
	KindWorkspaceBusy       Kind = "WorkspaceBusy"
	KindExternalCommandFailed Kind = "ExternalCommandFailed"
)

// Error is the common shape for every PairFlow error kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// errorBase names *Error for embedding: an embedded field called Error
// would hide the promoted Error() method.
type errorBase = Error

// Is lets errors.Is(err, pferrors.LockTimeout) match any *Error of the
// same Kind, regardless of message or wrapped cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Sentinel values for errors.Is comparisons against a bare Kind.
var (
	LockTimeout      = &Error{Kind: KindLockTimeout}
	StateConflict    = &Error{Kind: KindStateConflict}
	BubbleNotFound   = &Error{Kind: KindBubbleNotFound}
	WorkspaceBusy    = &Error{Kind: KindWorkspaceBusy}
)

// NotFound builds a BubbleNotFound error for the given bubble id.
func NotFound(bubbleID string) *Error {
	return &Error{Kind: KindBubbleNotFound, Message: fmt.Sprintf("bubble %q not found", bubbleID)}
}

// RepoResolution builds a RepoResolution error.
func RepoResolution(msg string, err error) *Error {
	return &Error{Kind: KindRepoResolution, Message: msg, Err: err}
}

// InvalidState describes a handler precondition violation: the caller
// expected the bubble to be in one state but found it in another.
type InvalidState struct {
	*errorBase
	Expected []string
	Actual   string
}

// NewInvalidState builds an InvalidBubbleState error carrying the expected
// and actual lifecycle states, as required by spec §7.
func NewInvalidState(expected []string, actual string) *InvalidState {
	return &InvalidState{
		errorBase: &Error{
			Kind:    KindInvalidBubbleState,
			Message: fmt.Sprintf("expected state in %v, got %q", expected, actual),
		},
		Expected: expected,
		Actual:   actual,
	}
}

// NewStateConflict builds a StateConflict (CAS mismatch) error.
func NewStateConflict(bubbleID, expectedFingerprint, actualFingerprint string) *Error {
	return &Error{
		Kind: KindStateConflict,
		Message: fmt.Sprintf(
			"bubble %q: state fingerprint changed on disk (expected %s, found %s); re-read and retry",
			bubbleID, expectedFingerprint, actualFingerprint,
		),
	}
}

// NewLockTimeout builds a LockTimeout error.
func NewLockTimeout(lockPath string, timeoutMs int) *Error {
	return &Error{
		Kind:    KindLockTimeout,
		Message: fmt.Sprintf("timed out after %dms acquiring lock %s", timeoutMs, lockPath),
	}
}

// FieldError is one structured validation failure, carrying the
// machine-readable path spec §4.D requires (e.g. "active_*",
// "round_role_history[0].switched_at").
type FieldError struct {
	Path    string
	Message string
}

func (f FieldError) String() string { return fmt.Sprintf("%s: %s", f.Path, f.Message) }

// SchemaValidation carries the full list of field-level failures found
// while validating a persisted state snapshot or envelope.
type SchemaValidation struct {
	*errorBase
	Errors []FieldError
}

// NewSchemaValidation builds a SchemaValidation error from one or more
// field failures.
func NewSchemaValidation(errs []FieldError) *SchemaValidation {
	msg := "validation failed"
	if len(errs) > 0 {
		msg = fmt.Sprintf("validation failed: %s", errs[0])
	}
	return &SchemaValidation{
		errorBase: &Error{Kind: KindSchemaValidation, Message: msg},
		Errors:    errs,
	}
}

// NewEnvelopeParse builds an EnvelopeParse error for a malformed NDJSON line.
func NewEnvelopeParse(lineNumber int, err error) *Error {
	return &Error{
		Kind:    KindEnvelopeParse,
		Message: fmt.Sprintf("line %d: malformed envelope", lineNumber),
		Err:     err,
	}
}

// NewWorkspaceBusy builds a WorkspaceBusy error; callers translate this to
// exit code 2 (spec §1, §7).
func NewWorkspaceBusy(reason string) *Error {
	return &Error{Kind: KindWorkspaceBusy, Message: reason}
}

// ExternalCommandFailed wraps a non-zero exit from git or the multiplexer,
// preserving the exit code and captured stderr for the caller to inspect
// (the same "observe raw output" philosophy as the teacher's GitError).
type ExternalCommandFailed struct {
	*errorBase
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExternalCommandFailed) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s %v: %s", e.Command, e.Args, e.Stderr)
	}
	return fmt.Sprintf("%s %v: exit %d", e.Command, e.Args, e.ExitCode)
}

func (e *ExternalCommandFailed) Unwrap() error { return e.Err }

// NewExternalCommandFailed builds an ExternalCommandFailed error.
func NewExternalCommandFailed(command string, args []string, exitCode int, stderr string, err error) *ExternalCommandFailed {
	return &ExternalCommandFailed{
		errorBase: &Error{Kind: KindExternalCommandFailed, Err: err},
		Command:   command,
		Args:     args,
		ExitCode: exitCode,
		Stderr:   stderr,
	}
}

// ExitCode maps an error to the CLI exit code contract in spec §6:
// 0 success (never reached here), 1 generic failure, 2 confirmation
// required (WorkspaceBusy).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var pfErr *Error
	if errors.As(err, &pfErr) && pfErr.Kind == KindWorkspaceBusy {
		return 2
	}
	return 1
}
