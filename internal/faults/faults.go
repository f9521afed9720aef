// Package faults defines the tagged errors the grading pipeline produces.
// Every fault carries a machine-readable kind that surfaces into reports and
// gatherer events, plus a human message for operator logs. Student-facing
// text comes exclusively from the fixed catalogue in StudentMessage so host
// paths, runtime versions and stack traces never leak into a report.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable tag of a fault.
type Kind string

const (
	ConfigInvalid    Kind = "config_invalid"
	AllocatorInvalid Kind = "allocator_invalid"

	ArchiveMalformed    Kind = "archive_malformed"
	ArchiveTooLarge     Kind = "archive_too_large"
	PathEscape          Kind = "path_escape"
	UnsupportedFileType Kind = "unsupported_file_type"
	DisallowedCode      Kind = "disallowed_code"

	SandboxTimeout     Kind = "sandbox_timeout"
	SandboxOOM         Kind = "sandbox_oom"
	SandboxNonZeroExit Kind = "sandbox_nonzero_exit"
	SandboxHostError   Kind = "sandbox_host_error"

	SidecarMalformed  Kind = "sidecar_malformed"
	ReportWriteFailed Kind = "report_write_failed"
)

// Error is a fault with a kind tag. It wraps an underlying cause when one
// exists so callers can still errors.Is/As through it.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a fault with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, unwrapping as needed. Returns "" when
// err carries no fault tag.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// studentMessages is the fixed catalogue of student-visible reasons. Keys
// absent here are operator-only faults and must never reach a report.
var studentMessages = map[Kind]string{
	ArchiveMalformed:    "submission archive could not be read",
	ArchiveTooLarge:     "submission archive exceeds the size limit",
	PathEscape:          "submission archive contains an invalid file path",
	UnsupportedFileType: "submission archive contains a file type that is not allowed",
	DisallowedCode:      "submission contains disallowed code",
	SandboxTimeout:      "task exceeded the time limit",
	SandboxOOM:          "task exceeded the memory limit",
	SandboxNonZeroExit:  "task exited with a non-zero status",
	SandboxHostError:    "task could not be run; this is not your fault, please contact staff",
}

// StudentMessage returns the catalogued student-visible message for a kind,
// or a generic fallback for kinds students should never see in detail.
func StudentMessage(kind Kind) string {
	if msg, ok := studentMessages[kind]; ok {
		return msg
	}
	return "grading failed; please contact staff"
}
