// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs the storage tree in a dedicated process and gives
// the connection server a serialized way to reach it.
//
// The worker and the server share two channels. The first is a
// socketpair carrying framed wire requests and responses, one request
// in flight at a time. The second is a one-way pipe on which the worker
// writes CBOR [Fault] records when it fails; the server treats any
// fault as a reason to shut down. The worker is never restarted.
//
// [Start] launches the worker either as a child process (the regd
// binary re-executed with the storage-worker argument, the socket as
// fd 3 and the fault pipe as fd 4, its [Config] as CBOR on stdin) or as
// a goroutine over the same channels, which tests and the in_process
// configuration use. Both modes run the same loop.
//
// [Proxy] is the server side of the socket. Its lock has a bounded
// wait: a caller that cannot acquire it within the lock timeout gets a
// Timeout error instead of queueing forever.
package worker
