// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"maps"
	"math/big"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/token"
)

// Names of the fixed top-level sections of the registry namespace.
const (
	RootSession    = "ses"
	RootPersistent = "sav"
	RootExecutable = "bin"
	RootSystem     = "_sys"
)

// Root declares a fixed top-level section.
type Root struct {
	Name string
	Mode os.FileMode

	// Serializable roots are the only places a persistence binding
	// may be set.
	Serializable bool
}

// RegistryRoots is the namespace of the registry tree.
func RegistryRoots() []Root {
	return []Root{
		{Name: RootSession, Mode: 0o777},
		{Name: RootPersistent, Mode: 0o777, Serializable: true},
		{Name: RootExecutable, Mode: 0o777, Serializable: true},
		{Name: RootSystem, Mode: 0o555},
	}
}

// AddMode selects what AddToken does when the name already exists.
type AddMode int

const (
	NoOverwrite AddMode = iota
	Overwrite
	Sum
)

// Options configures a Tree.
type Options struct {
	Clock clock.Clock
	UID   int
	GID   int

	// Roots fixes the top-level sections. With no roots any
	// top-level section may be created (the secure-token tree).
	Roots []Root

	// BeforeRebind is called with the section currently owning a
	// node's binding before that binding is replaced, so that pending
	// changes reach the old file first.
	BeforeRebind func(previousOwner *Node) error

	// CheckBinding vets a new file binding for section before it is
	// accepted. Two sections bound to one file are refused here.
	CheckBinding func(section *Node, binding string) error
}

// Tree is the registry tree.
type Tree struct {
	root         *Node
	roots        map[string]Root
	changes      ChangeSet
	loading      int
	clock        clock.Clock
	uid          int
	gid          int
	beforeRebind func(*Node) error
	checkBinding func(*Node, string) error
}

// New creates a tree with the configured top-level sections.
func New(options Options) *Tree {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	tree := &Tree{
		roots:        make(map[string]Root),
		clock:        options.Clock,
		uid:          options.UID,
		gid:          options.GID,
		beforeRebind: options.BeforeRebind,
		checkBinding: options.CheckBinding,
	}
	tree.root = tree.newNode(nil, "", SectionKind, 0o755)
	for _, root := range options.Roots {
		tree.roots[root.Name] = root
		tree.attach(tree.root, tree.newNode(tree.root, root.Name, SectionKind, root.Mode))
	}
	return tree
}

// Root returns the unnamed node above the top-level sections.
func (t *Tree) Root() *Node { return t.root }

// Changes returns the tree's change set.
func (t *Tree) Changes() *ChangeSet { return &t.changes }

// Load runs fn with change tracking suppressed.
func (t *Tree) Load(fn func() error) error {
	t.loading++
	defer func() { t.loading-- }()
	return fn()
}

// Loading reports whether change tracking is suppressed.
func (t *Tree) Loading() bool { return t.loading > 0 }

// Get returns the node at path. The empty path is the tree root.
func (t *Tree) Get(path []string) (*Node, error) {
	node := t.root
	for index, segment := range path {
		if node.kind != SectionKind {
			return nil, failure.Errorf(failure.NotFound, "%s is not a section", formatPath(path[:index]))
		}
		child := node.children[segment]
		if child == nil {
			return nil, failure.Errorf(failure.NotFound, "%s does not exist", formatPath(path[:index+1]))
		}
		node = child
	}
	return node, nil
}

// Touch updates a node's access time.
func (t *Tree) Touch(node *Node) {
	node.stat.Atime = t.clock.Now()
}

// AddToken stores value under name in the section at path, creating
// missing sections.
func (t *Tree) AddToken(path []string, name string, value []byte, mode AddMode, attrs map[string]string) (*Node, error) {
	if name == "" {
		return nil, failure.New(failure.MalformedToken, "token has no name")
	}
	if err := validateValueAttrs(attrs); err != nil {
		return nil, err
	}
	section, err := t.ensureSection(path)
	if err != nil {
		return nil, err
	}

	existing := section.children[name]
	if existing == nil {
		node := t.newNode(section, name, ValueKind, 0o644)
		node.data = slices.Clone(value)
		node.attrs = maps.Clone(attrs)
		t.attach(section, node)
		t.recordChange(node)
		return node, nil
	}

	if existing.kind == SectionKind {
		return nil, failure.Errorf(failure.AlreadyExists, "%s is a section", existing.PathString())
	}
	switch mode {
	case NoOverwrite:
		return nil, failure.Errorf(failure.AlreadyExists, "%s already exists", existing.PathString())
	case Sum:
		value = sumValues(existing.data, value)
	}
	existing.data = slices.Clone(value)
	if attrs != nil {
		existing.attrs = maps.Clone(attrs)
	}
	existing.stat.Mtime = t.clock.Now()
	t.recordChange(existing)
	return existing, nil
}

// CreateSection creates the section at path and any missing ancestor.
// An existing section is returned unchanged apart from attrs.
func (t *Tree) CreateSection(path []string, attrs map[string]string) (*Node, error) {
	if len(path) == 0 {
		return t.root, nil
	}
	section, err := t.ensureSection(path)
	if err != nil {
		return nil, err
	}
	if len(attrs) > 0 {
		if err := t.setAttrs(section, attrs); err != nil {
			return nil, err
		}
	}
	return section, nil
}

// Remove deletes the token or section at path. With prune, sections
// left empty by the removal are deleted as well, up to (not
// including) the top-level section.
func (t *Tree) Remove(path []string, prune bool) error {
	node, err := t.removable(path)
	if err != nil {
		return err
	}
	parent := node.parent
	t.detach(node)
	for prune && parent.parent != t.root && parent != t.root && len(parent.children) == 0 {
		grandparent := parent.parent
		t.detach(parent)
		parent = grandparent
	}
	return nil
}

// RemoveSection deletes the section at path.
func (t *Tree) RemoveSection(path []string) error {
	node, err := t.removable(path)
	if err != nil {
		return err
	}
	if node.kind != SectionKind {
		return failure.Errorf(failure.NotFound, "%s is not a section", node.PathString())
	}
	t.detach(node)
	return nil
}

// Clear removes every child of the section at path.
func (t *Tree) Clear(path []string) error {
	section, err := t.Get(path)
	if err != nil {
		return err
	}
	if section.kind != SectionKind {
		return failure.Errorf(failure.NotFound, "%s is not a section", section.PathString())
	}
	if len(section.children) == 0 {
		return nil
	}
	clear(section.children)
	section.stat.Mtime = t.clock.Now()
	t.recordChange(section)
	return nil
}

// Rename moves the node at source to destination. When destination
// names an existing section the node keeps its name inside it.
func (t *Tree) Rename(source, destination []string, overwrite bool) (*Node, error) {
	node, err := t.removable(source)
	if err != nil {
		return nil, err
	}

	parentPath, name := destination, node.name
	if target, err := t.Get(destination); err != nil || target.kind != SectionKind {
		if len(destination) == 0 {
			return nil, failure.New(failure.MalformedToken, "empty rename destination")
		}
		parentPath, name = destination[:len(destination)-1], destination[len(destination)-1]
	}
	if len(parentPath) == 0 && len(t.roots) > 0 {
		return nil, failure.New(failure.PermissionDenied, "cannot rename into the top level")
	}

	parent, err := t.ensureSection(parentPath)
	if err != nil {
		return nil, err
	}
	if node.isWithin(parent) {
		return nil, failure.Errorf(failure.OperationFailed, "cannot move %s inside itself", node.PathString())
	}
	if existing := parent.children[name]; existing != nil {
		if existing == node {
			return node, nil
		}
		if !overwrite || existing.kind != node.kind {
			return nil, failure.Errorf(failure.AlreadyExists, "%s already exists", existing.PathString())
		}
		t.detach(existing)
	}

	moved := node.clone(parent)
	moved.name = name
	moved.stat.Ctime = t.clock.Now()
	t.attach(parent, moved)
	t.detach(node)
	t.recordChange(moved)
	return moved, nil
}

// ensureSection walks path creating missing sections.
func (t *Tree) ensureSection(path []string) (*Node, error) {
	if len(path) > 0 && len(t.roots) > 0 {
		if _, known := t.roots[path[0]]; !known {
			return nil, failure.Errorf(failure.NotFound, "no top-level section %q", path[0])
		}
	}
	node := t.root
	for index, segment := range path {
		if segment == "" {
			return nil, failure.New(failure.MalformedToken, "empty path segment")
		}
		child := node.children[segment]
		switch {
		case child == nil:
			child = t.newNode(node, segment, SectionKind, 0o755)
			t.attach(node, child)
			t.recordChange(child)
		case child.kind != SectionKind:
			return nil, failure.Errorf(failure.AlreadyExists, "%s is a value", formatPath(path[:index+1]))
		}
		node = child
	}
	return node, nil
}

func (t *Tree) removable(path []string) (*Node, error) {
	if len(path) == 0 {
		return nil, failure.New(failure.PermissionDenied, "cannot remove the root")
	}
	if len(path) == 1 && len(t.roots) > 0 {
		return nil, failure.Errorf(failure.PermissionDenied, "cannot remove top-level section %q", path[0])
	}
	return t.Get(path)
}

func (t *Tree) newNode(parent *Node, name string, kind Kind, mode os.FileMode) *Node {
	now := t.clock.Now()
	node := &Node{
		kind:   kind,
		name:   name,
		parent: parent,
		stat:   Stat{Mode: mode, UID: t.uid, GID: t.gid, Ctime: now, Mtime: now, Atime: now},
	}
	if kind == SectionKind {
		node.children = make(map[string]*Node)
	}
	return node
}

// attach links child into parent and inherits the parent's binding.
func (t *Tree) attach(parent, child *Node) {
	child.parent = parent
	parent.children[child.name] = child
	parent.stat.Mtime = t.clock.Now()
	assignBindings(child, parent.binding)
}

// detach unlinks node from its parent. The node keeps its parent
// pointer so that its path stays meaningful in the change set.
func (t *Tree) detach(node *Node) {
	parent := node.parent
	delete(parent.children, node.name)
	parent.stat.Mtime = t.clock.Now()
	t.recordChange(parent)
}

// assignBindings points node and its descendants at inherited, except
// where a section carries its own binding.
func assignBindings(node, inherited *Node) {
	if node.OwnsBinding() {
		inherited = node
	}
	node.binding = inherited
	for _, child := range node.children {
		assignBindings(child, inherited)
	}
}

// recordChange appends node to the change set and marks its owning
// file dirty. Nodes without a binding are session data and are not
// tracked.
func (t *Tree) recordChange(node *Node) {
	if t.loading > 0 || node.binding == nil {
		return
	}
	node.binding.dirty = true
	t.changes.add(node)
}

var numberPattern = regexp.MustCompile(`^-?([0-9]*\.)?[0-9]+$`)

// sumValues adds two numbers, or concatenates when either side is not
// a number. Integers use arbitrary precision; a '.' on either side
// makes the sum a float.
func sumValues(previous, addend []byte) []byte {
	if !numberPattern.Match(previous) || !numberPattern.Match(addend) {
		return append(slices.Clone(previous), addend...)
	}
	left, right := string(previous), string(addend)
	if strings.Contains(left, ".") || strings.Contains(right, ".") {
		a, errA := strconv.ParseFloat(left, 64)
		b, errB := strconv.ParseFloat(right, 64)
		if errA != nil || errB != nil {
			return append(slices.Clone(previous), addend...)
		}
		sum := strconv.FormatFloat(a+b, 'f', -1, 64)
		if !strings.Contains(sum, ".") {
			sum += ".0"
		}
		return []byte(sum)
	}
	a, _ := new(big.Int).SetString(left, 10)
	b, _ := new(big.Int).SetString(right, 10)
	return []byte(a.Add(a, b).String())
}

func formatPath(path []string) string {
	return token.FormatPath(true, path)
}
