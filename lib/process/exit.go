// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"io"
	"os"

	"github.com/al-berger/regd/lib/failure"
)

// Exit statuses.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitUsage      = 2
	ExitNotFound   = 3
	ExitDenied     = 4
	ExitConnection = 5
)

// ExitCode maps an error to an exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch failure.KindOf(err) {
	case failure.UnrecognizedSyntax, failure.UnrecognizedParameter, failure.MalformedToken:
		return ExitUsage
	case failure.NotFound:
		return ExitNotFound
	case failure.PermissionDenied:
		return ExitDenied
	case failure.ConnectionError, failure.Timeout:
		return ExitConnection
	}
	return ExitFailure
}

// Report writes "error: err" to w and returns the exit status.
func Report(w io.Writer, err error) int {
	fmt.Fprintf(w, "error: %v\n", err)
	return ExitCode(err)
}

// Fatal reports err on stderr and exits with its status.
func Fatal(err error) {
	os.Exit(Report(os.Stderr, err))
}
