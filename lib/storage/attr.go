// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/al-berger/regd/lib/failure"
)

// Stat attribute names returned by GetAttr.
const (
	StatMode  = "st_mode"
	StatUID   = "st_uid"
	StatGID   = "st_gid"
	StatSize  = "st_size"
	StatNlink = "st_nlink"
	StatCtime = "st_ctime"
	StatMtime = "st_mtime"
	StatAtime = "st_atime"
)

const (
	typeDirectory = 0o040000
	typeRegular   = 0o100000
)

// GetAttr returns the stat attributes of the node at path when names
// is empty, otherwise the named stat fields or attributes.
func (t *Tree) GetAttr(path []string, names []string) (map[string]string, error) {
	node, err := t.Get(path)
	if err != nil {
		return nil, err
	}
	stat := statAttrs(node)
	if len(names) == 0 {
		return stat, nil
	}
	result := make(map[string]string, len(names))
	for _, name := range names {
		if value, found := stat[name]; found {
			result[name] = value
			continue
		}
		value, found := node.attrs[name]
		if !found {
			return nil, failure.Errorf(failure.NotFound, "%s has no attribute %q", node.PathString(), name)
		}
		result[name] = value
	}
	return result, nil
}

func statAttrs(node *Node) map[string]string {
	mode := uint64(node.stat.Mode.Perm())
	nlink := 1
	if node.kind == SectionKind {
		mode |= typeDirectory
		nlink = 2
	} else {
		mode |= typeRegular
	}
	return map[string]string{
		StatMode:  "0" + strconv.FormatUint(mode, 8),
		StatUID:   strconv.Itoa(node.stat.UID),
		StatGID:   strconv.Itoa(node.stat.GID),
		StatSize:  strconv.Itoa(node.Size()),
		StatNlink: strconv.Itoa(nlink),
		StatCtime: strconv.FormatInt(node.stat.Ctime.Unix(), 10),
		StatMtime: strconv.FormatInt(node.stat.Mtime.Unix(), 10),
		StatAtime: strconv.FormatInt(node.stat.Atime.Unix(), 10),
	}
}

// SetAttr sets attributes on the node at path. "st_mode" (or "mode")
// takes octal permission bits; an empty value deletes an ordinary
// attribute. Setting AttrPersist on a section rebinds it: the
// previous owner is flushed through Options.BeforeRebind first.
func (t *Tree) SetAttr(path []string, attrs map[string]string) error {
	node, err := t.Get(path)
	if err != nil {
		return err
	}
	return t.setAttrs(node, attrs)
}

func (t *Tree) setAttrs(node *Node, attrs map[string]string) error {
	// Validate everything before changing anything.
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		value := attrs[name]
		switch name {
		case StatMode, "mode":
			if _, err := parseMode(value); err != nil {
				return err
			}
		case StatUID, StatGID, StatSize, StatNlink, StatCtime, StatMtime, StatAtime:
			return failure.Errorf(failure.UnrecognizedParameter, "attribute %q is read-only", name)
		case AttrPersist:
			if node.kind != SectionKind {
				return failure.Errorf(failure.UnrecognizedParameter, "%q can only be set on a section", name)
			}
			if err := t.checkBindable(node); err != nil {
				return err
			}
		case AttrEncoding, AttrCompression:
			if node.kind != ValueKind {
				return failure.Errorf(failure.UnrecognizedParameter, "%q can only be set on a value", name)
			}
		}
	}
	if err := validateValueAttrs(attrs); err != nil {
		return err
	}
	binding, rebinding := attrs[AttrPersist]
	rebinding = rebinding && binding != node.attrs[AttrPersist]
	if rebinding && binding != "" && t.checkBinding != nil {
		if err := t.checkBinding(node, binding); err != nil {
			return err
		}
	}

	// The rebind flushes the previous owner and may fail; nothing else
	// changes until it has succeeded.
	if rebinding {
		if err := t.rebind(node, binding); err != nil {
			return err
		}
	}
	for name, value := range attrs {
		switch name {
		case StatMode, "mode":
			mode, _ := parseMode(value)
			node.stat.Mode = mode
		case AttrPersist:
		default:
			if value == "" {
				delete(node.attrs, name)
				continue
			}
			if node.attrs == nil {
				node.attrs = make(map[string]string)
			}
			node.attrs[name] = value
		}
	}
	node.stat.Ctime = t.clock.Now()
	t.recordChange(node)
	return nil
}

// Bind sets the backing file of the section at path without change
// tracking or flushing. Used when the worker attaches its data files
// at startup.
func (t *Tree) Bind(path []string, file string) (*Node, error) {
	section, err := t.Get(path)
	if err != nil {
		return nil, err
	}
	if section.kind != SectionKind {
		return nil, failure.Errorf(failure.NotFound, "%s is not a section", section.PathString())
	}
	if err := t.checkBindable(section); err != nil {
		return nil, err
	}
	if t.checkBinding != nil && file != section.attrs[AttrPersist] {
		if err := t.checkBinding(section, file); err != nil {
			return nil, err
		}
	}
	if section.attrs == nil {
		section.attrs = make(map[string]string)
	}
	section.attrs[AttrPersist] = file
	assignBindings(section, section.binding)
	return section, nil
}

// rebind replaces the binding of section. The previous owner is
// flushed first. Afterwards the file that holds the include line for
// section and the section itself are recorded as changed.
func (t *Tree) rebind(section *Node, binding string) error {
	previous := section.binding
	if previous != nil && t.beforeRebind != nil && t.loading == 0 {
		if err := t.beforeRebind(previous); err != nil {
			return failure.Wrap(failure.OperationFailed, err, "flushing previous binding")
		}
	}

	if binding == "" {
		delete(section.attrs, AttrPersist)
	} else {
		if section.attrs == nil {
			section.attrs = make(map[string]string)
		}
		section.attrs[AttrPersist] = binding
	}
	var inherited *Node
	if section.parent != nil {
		inherited = section.parent.binding
	}
	assignBindings(section, inherited)

	if previous != nil && previous != section {
		t.recordChange(previous)
	}
	if section.parent != nil {
		t.recordChange(section.parent)
	}
	t.recordChange(section)
	return nil
}

// checkBindable rejects bindings outside the serializable roots.
func (t *Tree) checkBindable(section *Node) error {
	path := section.Path()
	if len(path) > 0 {
		if root, known := t.roots[path[0]]; known && root.Serializable {
			return nil
		}
	}
	return failure.Errorf(failure.PermissionDenied, "%s cannot be bound to a file: persistence is only available under the serializable roots", section.PathString())
}

func validateValueAttrs(attrs map[string]string) error {
	for name := range attrs {
		if name == "" || strings.ContainsAny(name, " =\t\n\r\"") {
			return failure.Errorf(failure.UnrecognizedParameter, "invalid attribute name %q", name)
		}
	}
	if encoding, found := attrs[AttrEncoding]; found && encoding != "" && encoding != EncodingBinary {
		return failure.Errorf(failure.UnrecognizedParameter, "unknown encoding %q", encoding)
	}
	switch attrs[AttrCompression] {
	case "", "none", "zstd", "lz4":
	default:
		return failure.Errorf(failure.UnrecognizedParameter, "unknown compression %q", attrs[AttrCompression])
	}
	return nil
}

func parseMode(value string) (os.FileMode, error) {
	parsed, err := strconv.ParseUint(value, 8, 32)
	if err != nil || parsed > 0o7777 {
		return 0, failure.Errorf(failure.UnrecognizedParameter, "invalid mode %q", value)
	}
	return os.FileMode(parsed).Perm(), nil
}
