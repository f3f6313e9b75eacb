// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the exit path of regd binaries: reporting an
// error on stderr when no logger may exist yet, and mapping error
// kinds to exit statuses so that scripts can tell "not found" from a
// dead server.
package process
