// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Regd is the registry daemon and its command-line client.
//
//	regd start [flags]            run a server in the foreground
//	regd add [flags] name=value   store tokens in a running server
//	regd get [flags] name         read tokens back
//	regd stop                     shut the server down
//
// Every server command has a client subcommand of the same name. The
// exit status reflects the error kind: 2 for usage errors, 3 for
// missing tokens, 4 for denied access and 5 when the server cannot be
// reached.
package main
