// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the slog loggers of regd binaries.
//
// [New] returns a logger writing to one stream, JSON or text, and
// optionally mirroring every record as a text line into a [Ring]. The
// ring backs the show_log command, which returns the most recent
// lines without access to the daemon's stderr.
//
// Library packages never construct loggers. They receive one from the
// binary and default to a discarding logger when given nil.
package logging
