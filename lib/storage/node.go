// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/al-berger/regd/lib/token"
)

// Kind distinguishes sections from values.
type Kind uint8

const (
	SectionKind Kind = iota
	ValueKind
)

func (k Kind) String() string {
	if k == SectionKind {
		return "section"
	}
	return "value"
}

// Reserved attribute names.
const (
	// AttrPersist on a section names its backing file. On a binary
	// value it names the side file holding the raw bytes.
	AttrPersist = "persistPath"

	// AttrEncoding set to EncodingBinary marks a value as raw bytes.
	AttrEncoding = "encoding"

	// AttrCompression selects the side-file compression of a binary
	// value: "zstd", "lz4" or "none".
	AttrCompression = "compression"

	EncodingBinary = "binary"
)

// Stat is the stat-like attribute block carried by every node.
type Stat struct {
	Mode  os.FileMode
	UID   int
	GID   int
	Ctime time.Time
	Mtime time.Time
	Atime time.Time
}

// Node is a section or a value. Section-only and value-only methods
// check the kind and return zero results for the other kind.
type Node struct {
	kind   Kind
	name   string
	parent *Node
	stat   Stat
	attrs  map[string]string

	children map[string]*Node
	data     []byte

	// binding is the nearest section, self included, that carries
	// AttrPersist. Nil for unbound nodes.
	binding *Node

	// dirty is meaningful on bound sections: their file no longer
	// matches memory.
	dirty bool
}

func (n *Node) Kind() Kind               { return n.kind }
func (n *Node) Name() string             { return n.name }
func (n *Node) IsSection() bool          { return n.kind == SectionKind }
func (n *Node) Parent() *Node            { return n.parent }
func (n *Node) Stat() Stat               { return n.stat }
func (n *Node) Binding() *Node           { return n.binding }
func (n *Node) Dirty() bool              { return n.dirty }
func (n *Node) MarkClean()               { n.dirty = false }
func (n *Node) MarkDirty()               { n.dirty = true }
func (n *Node) Bytes() []byte            { return n.data }
func (n *Node) Text() string             { return string(n.data) }
func (n *Node) Attrs() map[string]string { return maps.Clone(n.attrs) }

// Attr returns a single attribute.
func (n *Node) Attr(name string) (string, bool) {
	value, found := n.attrs[name]
	return value, found
}

// IsBinary reports whether a value holds raw bytes.
func (n *Node) IsBinary() bool { return n.attrs[AttrEncoding] == EncodingBinary }

// OwnsBinding reports whether n is a section with its own backing
// file.
func (n *Node) OwnsBinding() bool {
	return n.kind == SectionKind && n.attrs[AttrPersist] != ""
}

// Size is the payload length of a value or the child count of a
// section.
func (n *Node) Size() int {
	if n.kind == SectionKind {
		return len(n.children)
	}
	return len(n.data)
}

// Child returns the named child of a section.
func (n *Node) Child(name string) *Node { return n.children[name] }

// Children returns the children of a section sorted by name.
func (n *Node) Children() []*Node {
	names := slices.Sorted(maps.Keys(n.children))
	children := make([]*Node, len(names))
	for index, name := range names {
		children[index] = n.children[name]
	}
	return children
}

// split returns the values and the sections among the children, each
// sorted by name.
func (n *Node) split() (values, sections []*Node) {
	for _, child := range n.Children() {
		if child.kind == SectionKind {
			sections = append(sections, child)
		} else {
			values = append(values, child)
		}
	}
	return values, sections
}

// Path returns the segments from the tree root to n. A detached node
// keeps the path it had when it was removed.
func (n *Node) Path() []string {
	var reversed []string
	for node := n; node != nil && node.parent != nil; node = node.parent {
		reversed = append(reversed, node.name)
	}
	slices.Reverse(reversed)
	return reversed
}

// PathString formats Path as an absolute token path.
func (n *Node) PathString() string {
	return token.FormatPath(true, n.Path())
}

// displayText is the value shown in listings.
func (n *Node) displayText() string {
	if n.IsBinary() {
		return fmt.Sprintf("<binary, %d bytes>", len(n.data))
	}
	return string(n.data)
}

// isWithin reports whether n is ancestor or equal to other.
func (n *Node) isWithin(other *Node) bool {
	for node := other; node != nil; node = node.parent {
		if node == n {
			return true
		}
	}
	return false
}

func (n *Node) clone(parent *Node) *Node {
	copied := &Node{
		kind:   n.kind,
		name:   n.name,
		parent: parent,
		stat:   n.stat,
		attrs:  maps.Clone(n.attrs),
		data:   slices.Clone(n.data),
	}
	if n.kind == SectionKind {
		copied.children = make(map[string]*Node, len(n.children))
		for name, child := range n.children {
			copied.children[name] = child.clone(copied)
		}
	}
	return copied
}
