// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets, whose paths are limited to 108 bytes; t.TempDir() can
// exceed that under deeply nested TMPDIRs.
//
// [RequireReceive] and [RequireClosed] wrap the select
// with a wall-clock fallback so that a broken test fails instead of
// hanging. They are the only real-clock timeouts in the test suite.
//
// [WaitFor] polls a condition, for state that another process or
// goroutine changes without a channel to wait on.
package testutil
