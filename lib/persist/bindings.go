// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/storage"
)

// BindingChecker returns a storage.Options.CheckBinding hook for tree.
// It refuses a binding that resolves to a file another section of the
// tree is already bound to, whether or not that section has pending
// changes.
func BindingChecker(tree func() *storage.Tree) func(*storage.Node, string) error {
	return func(section *storage.Node, binding string) error {
		file, err := resolveBinding(section, binding)
		if err != nil {
			return err
		}
		var conflict error
		walkOwners(tree().Root(), func(owner *storage.Node) bool {
			if owner == section {
				return true
			}
			if bound, err := ResolveFile(owner); err == nil && bound == file {
				conflict = failure.Errorf(failure.AlreadyExists, "%s is already bound to %s", owner.PathString(), file)
				return false
			}
			return true
		})
		return conflict
	}
}

// distinctFiles fails when two sections of tree resolve to the same
// file. Flushing such a tree would let one section overwrite the other.
func distinctFiles(tree *storage.Tree) error {
	seen := make(map[string]*storage.Node)
	var conflict error
	walkOwners(tree.Root(), func(owner *storage.Node) bool {
		file, err := ResolveFile(owner)
		if err != nil {
			conflict = err
			return false
		}
		if previous, found := seen[file]; found {
			conflict = failure.Errorf(failure.AlreadyExists, "%s and %s are bound to the same file %s",
				previous.PathString(), owner.PathString(), file)
			return false
		}
		seen[file] = owner
		return true
	})
	return conflict
}

// walkOwners calls visit for every section with its own binding, in
// path order, until visit returns false.
func walkOwners(node *storage.Node, visit func(*storage.Node) bool) bool {
	if node.OwnsBinding() && !visit(node) {
		return false
	}
	for _, child := range node.Children() {
		if child.IsSection() && !walkOwners(child, visit) {
			return false
		}
	}
	return true
}
