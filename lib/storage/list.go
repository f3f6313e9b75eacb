// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"iter"
	"strings"

	"github.com/al-berger/regd/lib/token"
)

// ListOptions selects the listing format.
type ListOptions struct {
	// Tree indents nested sections by four spaces and prints tokens
	// as "- name  : value". Otherwise tokens are grouped under
	// "[/path]" headers in the persisted-file style.
	Tree bool

	Recursive  bool
	OmitValues bool
}

// List returns the lines describing the node at path. The sequence is
// computed lazily and walks the tree again on every iteration.
func (t *Tree) List(path []string, options ListOptions) (iter.Seq[string], error) {
	node, err := t.Get(path)
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		switch {
		case node.kind == ValueKind:
			yield(valueLine(node, options))
		case options.Tree:
			listTree(node, "", options, yield)
		default:
			listFlat(node, options, !options.Recursive, yield)
		}
	}, nil
}

func listTree(section *Node, indent string, options ListOptions, yield func(string) bool) bool {
	values, sections := section.split()
	for _, value := range values {
		line := indent + "- " + value.name
		if !options.OmitValues {
			line += "  : " + value.displayText()
		}
		if !yield(line) {
			return false
		}
	}
	for _, child := range sections {
		if !yield(indent + "[" + child.name + "]:") {
			return false
		}
		if options.Recursive && !listTree(child, indent+strings.Repeat(" ", 4), options, yield) {
			return false
		}
	}
	return true
}

func listFlat(section *Node, options ListOptions, headerPrinted bool, yield func(string) bool) bool {
	values, sections := section.split()
	for _, value := range values {
		if !headerPrinted {
			if !yield("") || !yield("["+section.PathString()+"]") {
				return false
			}
			headerPrinted = true
		}
		if !yield(valueLine(value, options)) {
			return false
		}
	}
	for _, child := range sections {
		if options.Recursive {
			if !listFlat(child, options, false, yield) {
				return false
			}
		} else if !yield("[" + child.name + "]") {
			return false
		}
	}
	return true
}

func valueLine(value *Node, options ListOptions) string {
	if options.OmitValues {
		return value.name
	}
	return token.EscapeName(value.name) + " = " + value.displayText()
}
