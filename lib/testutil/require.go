// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// T is the subset of testing.TB the helpers need.
type T interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test when
// none arrives within timeout or ch is closed.
//
//	err := testutil.RequireReceive(t, done, 10*time.Second, "daemon exit")
func RequireReceive[V any](t T, ch <-chan V, timeout time.Duration, msgAndArgs ...any) V {
	t.Helper()
	timer := time.NewTimer(timeout) //nolint:realclock bounds a hung test
	defer timer.Stop()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", describe(msgAndArgs))
		}
		return v
	case <-timer.C:
		t.Fatalf("%s: nothing received after %v", describe(msgAndArgs), timeout)
	}
	var zero V
	return zero
}

// RequireClosed fails the test unless ch is closed (or yields a value)
// within timeout.
func RequireClosed(t T, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	timer := time.NewTimer(timeout) //nolint:realclock bounds a hung test
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("%s: still open after %v", describe(msgAndArgs), timeout)
	}
}

// describe renders a message given either as one value or as a format
// followed by its arguments.
func describe(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return "waiting on channel"
	case len(msgAndArgs) == 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
