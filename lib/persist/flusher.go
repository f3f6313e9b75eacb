// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/al-berger/regd/lib/storage"
)

// Flusher writes pending changes of a tree to the bound files.
type Flusher struct {
	tree   *storage.Tree
	logger *slog.Logger

	mu sync.Mutex
}

// NewFlusher creates a flusher for tree.
func NewFlusher(tree *storage.Tree, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Flusher{tree: tree, logger: logger}
}

// Flush writes every file owning a changed node. When a write fails
// the drained changes are put back so that the next flush retries
// them.
func (f *Flusher) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	changed := f.tree.Changes().Drain()
	if len(changed) == 0 {
		return nil
	}
	if err := distinctFiles(f.tree); err != nil {
		f.tree.Changes().Requeue(changed)
		f.logger.Error("flush refused", "pending", len(changed), "error", err)
		return err
	}
	owners := f.owners(changed)
	output := newWriter()
	for _, owner := range owners {
		if err := output.writeOwner(owner); err != nil {
			f.tree.Changes().Requeue(changed)
			f.logger.Error("flush failed",
				"section", owner.PathString(),
				"pending", len(changed),
				"error", err,
			)
			return err
		}
	}
	f.logger.Debug("flushed",
		"changes", len(changed),
		"files", len(output.written),
	)
	return nil
}

// FlushOwner writes owner's file now. Used before a section's binding
// changes, so that nothing pending is written to the wrong file.
func (f *Flusher) FlushOwner(owner *storage.Node) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !owner.Dirty() || !f.attached(owner) {
		return nil
	}
	if err := distinctFiles(f.tree); err != nil {
		return err
	}
	return newWriter().writeOwner(owner)
}

// owners maps changed nodes to the distinct, still attached sections
// owning their files, ordered by path so that output is deterministic.
func (f *Flusher) owners(changed []*storage.Node) []*storage.Node {
	seen := make(map[*storage.Node]bool)
	var owners []*storage.Node
	for _, node := range changed {
		owner := node.Binding()
		if owner == nil || seen[owner] {
			continue
		}
		seen[owner] = true
		if f.attached(owner) {
			owners = append(owners, owner)
		}
	}
	slices.SortFunc(owners, func(a, b *storage.Node) int {
		return slices.Compare(a.Path(), b.Path())
	})
	return owners
}

// attached reports whether node is still reachable from the root.
// Removed nodes keep their former path.
func (f *Flusher) attached(node *storage.Node) bool {
	current, err := f.tree.Get(node.Path())
	return err == nil && current == node
}
