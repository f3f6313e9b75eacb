// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage implements the in-memory registry tree: sections
// holding tokens (values) and nested sections, with stat-like
// attributes on every node.
//
// A section may carry a persistence binding (the [AttrPersist]
// attribute) naming the file it is serialized to. Every node keeps a
// pointer to the nearest bound section above it (itself included for
// bound sections). That pointer is only used to decide where a change
// must be recorded; ownership always flows from parent to child.
//
// Mutations outside of [Tree.Load] append to the tree's [ChangeSet],
// which the persistence engine drains when it flushes. A Tree is not
// safe for concurrent use: the storage worker owns it from a single
// goroutine. Only the ChangeSet has its own lock.
package storage
