/*
Copyright 2026 The Conductor Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package apperrors implements the error-kind taxonomy from the
// orchestrator's error handling design: every failure surfaced by the
// concurrency core is classified into one of a fixed set of kinds, each
// with a fixed retry policy, rather than left as an ad-hoc error string.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by the policy that should be applied to it.
type Kind string

const (
	// KindPrecondition: the operation's precondition did not hold (e.g.
	// claiming a Completed feature). Fail the call, log, no state change.
	KindPrecondition Kind = "precondition"
	// KindContention: a mutex or similar short-lived resource could not be
	// acquired in time. Retryable.
	KindContention Kind = "contention"
	// KindInvariant: a proposed mutation would violate a state invariant.
	// The mutation must never be persisted.
	KindInvariant Kind = "invariant"
	// KindBudget: the daily cost cap is exceeded. Suspend, do not fail.
	KindBudget Kind = "budget"
	// KindExternal: an external collaborator (builder, VCS, notifier)
	// failed. Non-terminal; the caller continues its loop.
	KindExternal Kind = "external"
	// KindUnrecoverable: a fatal startup condition (missing catalog,
	// unavailable git, failed prerequisite check).
	KindUnrecoverable Kind = "unrecoverable"
)

// retryable reports the default retry policy for each kind. Contention and
// External failures are retryable by the caller; the rest are not.
var retryable = map[Kind]bool{
	KindPrecondition:  false,
	KindContention:    true,
	KindInvariant:     false,
	KindBudget:        false,
	KindExternal:      true,
	KindUnrecoverable: false,
}

// Error is the structured error type returned by every package in this
// module's concurrency core.
type Error struct {
	Kind    Kind
	Message string
	Details string
	Cause   error
}

// New creates an Error of the given kind with the given message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a kind and message.
func Wrap(cause error, kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Wrapf wraps an existing error with a kind and formatted message.
func Wrapf(cause error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithDetails attaches free-form details to the error and returns it,
// modifying the receiver in place.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted details to the error.
func (e *Error) WithDetailsf(format string, args ...any) *Error {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap supports errors.Is / errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the caller should sleep and retry rather than
// treat this as terminal.
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// Is reports whether target is an *Error with the same Kind, allowing
// errors.Is(err, apperrors.New(KindContention, "")) style checks against a
// sentinel built only for its Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error,
// returning ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
