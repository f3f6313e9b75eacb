// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package store implements the storage subsystem: the registry tree,
// its persistence, the secure-token tree and the commands operating
// on them.
//
// A [Store] is single-threaded. The worker owns it and feeds it one
// request at a time, which is what makes each command atomic with
// respect to every other.
//
// Relative paths in command parameters resolve under /ses, or under
// /sav with the "pers" option. Paths under /_sys are reserved for
// requests carrying the internal marker. Adding a token under /bin
// does not store anything: "/bin/name=argument" runs the program
// stored at /bin/name with argument, and tokens under /bin/sh run
// through the shell.
package store
