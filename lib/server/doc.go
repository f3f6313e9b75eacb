// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package server accepts client connections and routes their requests.
//
// Every connection carries exactly one request and one response and is
// closed afterwards. Each connection runs in its own goroutine; a panic
// in one is answered with a ProgramError response and does not reach
// the accept loop.
//
// Before dispatch the request passes the access [Policy]. On a Unix
// socket the peer is identified by SO_PEERCRED: the server's own user
// has full access, trusted users and the access level decide the rest.
// On TCP the peer address is matched against the trusted networks.
// The "internal" option is reserved for requests the daemon issues
// itself and is refused from any peer.
//
// The server owns two small subsystems of its own: control (stop) and
// info (check, info, version, report, show_log). Storage commands are
// forwarded to the storage worker by the daemon's router.
package server
