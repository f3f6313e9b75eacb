// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon wires a regd server together and runs it.
//
// [Daemon.Run] resolves the listening address, refuses to start when
// another server answers on the same socket (a dead socket file is
// removed), starts the storage worker, and serves connections. Its
// event loop waits for the first of: context cancellation, a
// termination signal, a stop command, a worker fault, removal of the
// socket file, or a failing listener. Shutdown then runs in order:
// stop accepting and drain connections, flush, stop the worker, remove
// the socket file.
package daemon
