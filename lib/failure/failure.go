// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package failure

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers that need to react to it
// programmatically (access checks, tests, the CLI exit status).
type Kind int

const (
	// OperationFailed is the kind assigned to errors that carry no
	// explicit kind: I/O errors, external command failures.
	OperationFailed Kind = iota
	MalformedToken
	NotFound
	AlreadyExists
	PermissionDenied
	UnrecognizedSyntax
	UnrecognizedParameter
	Timeout
	ConnectionError
	ProgramError
)

var kindNames = [...]string{
	OperationFailed:       "OperationFailed",
	MalformedToken:        "MalformedToken",
	NotFound:              "NotFound",
	AlreadyExists:         "AlreadyExists",
	PermissionDenied:      "PermissionDenied",
	UnrecognizedSyntax:    "UnrecognizedSyntax",
	UnrecognizedParameter: "UnrecognizedParameter",
	Timeout:               "Timeout",
	ConnectionError:       "ConnectionError",
	ProgramError:          "ProgramError",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, bool) {
	for index, candidate := range kindNames {
		if candidate == name {
			return Kind(index), true
		}
	}
	return 0, false
}

// Error is an error with a Kind. Err, when set, is the underlying
// cause and is reachable through errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, failure.New(failure.NotFound, "")) matches any
// NotFound error.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind && other.Message == "" && other.Err == nil
}

// New returns an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf returns an *Error of the given kind with a formatted message.
// A %w verb in the format wraps the corresponding argument.
func Errorf(kind Kind, format string, args ...any) *Error {
	formatted := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: formatted.Error(), Err: errors.Unwrap(formatted)}
}

// Wrap attaches a kind to err. Returns nil when err is nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	if message != "" {
		message += ": " + err.Error()
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// OperationFailed when the chain carries none.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return OperationFailed
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message renders err as the text of a failure response.
func Message(err error) string {
	return KindOf(err).String() + ": " + err.Error()
}

// FromMessage parses a failure response text produced by Message.
// Messages without a recognized kind prefix become OperationFailed.
func FromMessage(message string) *Error {
	prefix, rest, found := strings.Cut(message, ": ")
	if found {
		if kind, ok := ParseKind(prefix); ok {
			return &Error{Kind: kind, Message: rest}
		}
	}
	return &Error{Kind: OperationFailed, Message: message}
}
