// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build identity of regd binaries.
//
// The variables are set with -ldflags -X at build time and default to
// development values otherwise. [Short] also names the per-version
// socket directory, so servers and clients of different releases do
// not see each other.
package version
