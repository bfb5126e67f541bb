// Copyright 2026 The Packserve Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault classifies failures into the small set of kinds that
// cross component boundaries: storage, protocol, and client layers
// wrap every error in a fault before returning it, so the CLI and the
// proxy integration can decide retry/no-retry without parsing error
// text, and the server can map faults to wire statuses.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for programmatic handling.
type Kind string

const (
	// KindClient indicates a malformed or invalid request: bad digest
	// format, size violations, usage errors. Not retried.
	KindClient Kind = "client"

	// KindAuth indicates an invalid, expired, or insufficiently
	// scoped token. Never retried.
	KindAuth Kind = "auth"

	// KindConflict indicates a concurrent-write race on the same
	// digest. The caller should back off and retry, or treat the
	// content as already present.
	KindConflict Kind = "conflict"

	// KindTransient indicates a network or storage I/O failure that
	// may succeed on retry with backoff.
	KindTransient Kind = "transient"

	// KindCorruption indicates a digest mismatch at commit: the bytes
	// received do not hash to the claimed digest. Never silently
	// accepted; forces a full re-upload.
	KindCorruption Kind = "corruption"

	// KindNotFound indicates a referenced artifact, tag, or session
	// does not exist. Retrying with the same reference will not help.
	KindNotFound Kind = "not_found"
)

// Error wraps an underlying error with a fault kind. The kind travels
// separately from the message so callers branch on KindOf rather than
// string matching.
type Error struct {
	Kind Kind
	Err  error
}

// Error returns the underlying error message. The kind is not
// included in the string.
func (e *Error) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error, allowing errors.Is and
// errors.As to walk the full chain through the fault wrapper.
func (e *Error) Unwrap() error { return e.Err }

// Client creates a client fault: the request itself is invalid.
func Client(format string, args ...any) *Error {
	return &Error{Kind: KindClient, Err: fmt.Errorf(format, args...)}
}

// Auth creates an auth fault: token invalid, expired, or out of scope.
func Auth(format string, args ...any) *Error {
	return &Error{Kind: KindAuth, Err: fmt.Errorf(format, args...)}
}

// Conflict creates a conflict fault: a concurrent operation on the
// same digest holds the write slot.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Err: fmt.Errorf(format, args...)}
}

// Transient creates a transient fault: network or storage I/O failure.
func Transient(format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

// Corruption creates a corruption fault: content does not match its
// claimed digest.
func Corruption(format string, args ...any) *Error {
	return &Error{Kind: KindCorruption, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found fault.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Err: fmt.Errorf(format, args...)}
}

// KindOf walks the error chain and returns the kind of the first
// fault found. Unclassified errors report KindTransient: the only
// errors that legitimately escape classification are low-level I/O
// failures, and treating an unknown failure as permanent would turn
// a recoverable blip into a hard stop.
func KindOf(err error) Kind {
	var fault *Error
	if errors.As(err, &fault) {
		return fault.Kind
	}
	return KindTransient
}

// Retryable reports whether the error is worth retrying with backoff.
// Only transient failures and write-slot conflicts qualify; all other
// kinds are deterministic and will fail the same way again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindConflict:
		return true
	}
	return false
}
