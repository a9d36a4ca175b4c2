package bastion

import (
	"fmt"
	"strings"
)

// ArgError reports bad command arguments: unknown flags, amounts out of
// range, more than one mention. The dispatcher surfaces it as a transient
// chat message and deletes the original invocation after the TTL.
type ArgError struct {
	Msg string
}

func (e *ArgError) Error() string { return e.Msg }

// Argf builds an ArgError from a format string.
func Argf(format string, args ...any) error {
	return &ArgError{Msg: fmt.Sprintf(format, args...)}
}

// PermissionError reports a failed channel, role, or admin check.
type PermissionError struct {
	Cmd string
	Msg string
}

func (e *PermissionError) Error() string {
	if e.Cmd == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Cmd, e.Msg)
}

// NoMatchError reports a lookup that returned zero rows when exactly one
// was required.
type NoMatchError struct {
	Kind   string // entity kind, e.g. "system", "user"
	Needle string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no %s matches %q", e.Kind, e.Needle)
}

// AmbiguousError reports a substring lookup that matched more than one row.
// Matches carries the candidate names for the user-visible hint list.
type AmbiguousError struct {
	Kind    string
	Needle  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%q matches more than one %s: %s", e.Needle, e.Kind, strings.Join(e.Matches, ", "))
}

// ValidationError reports a domain invariant violated at mutation time:
// fractions outside [0,1], negative merits, a Global write going backwards.
// It indicates a bug or a corrupt remote sheet, never plain user error.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validatef builds a ValidationError from a format string.
func Validatef(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IntegrityError reports a uniqueness constraint violation, e.g. a rename
// colliding with an existing preferred name.
type IntegrityError struct {
	Constraint string
	Err        error
}

func (e *IntegrityError) Error() string {
	if e.Err == nil {
		return "conflict on " + e.Constraint
	}
	return fmt.Sprintf("conflict on %s: %v", e.Constraint, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// SheetParseError reports a failed full scan. The cache stays at its
// previous state; Rows carries the offending 1-based sheet rows when known.
type SheetParseError struct {
	Sheet string
	Msg   string
	Rows  []int
}

func (e *SheetParseError) Error() string {
	if len(e.Rows) == 0 {
		return fmt.Sprintf("%s: %s", e.Sheet, e.Msg)
	}
	return fmt.Sprintf("%s: %s (rows %v)", e.Sheet, e.Msg, e.Rows)
}

// RemoteError reports an unreachable remote document or feed. Transient
// errors are retried with backoff; permanent ones surface immediately.
type RemoteError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }
