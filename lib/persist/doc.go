// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package persist reads and writes the registry's backing files.
//
// A bound section is written to its file as lines:
//
//	name = value
//		continuation of a multi-line value
//	//attributes encoding=binary persistPath=data.d/3f1c...
//	blob =
//	[relative/section]
//	name = value
//	//include other.txt relative/bound
//
// Tokens of the bound section itself come first, without a header.
// "[path]" headers are relative to the bound section; an
// "//attributes" line applies to the next token, header or include; an
// "//include file section" line binds section to file, which is
// resolved relative to the including file. Empty leaf sections get a
// header of their own so that they survive a reload. A token line may
// begin with "/", which is ignored; the writer uses that to protect
// names starting with whitespace.
//
// Binary values are stored in side files named by the BLAKE3 hash of
// their content, optionally compressed with zstd or lz4.
//
// The [Flusher] drains the tree's change set, resolves the common
// prefix of the changed nodes to the section owning their file, and
// rewrites only that file (plus any dirty file included below it).
// Every file is replaced atomically.
package persist
