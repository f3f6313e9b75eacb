// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/failure"
)

func newTestTree(t *testing.T) *Tree {
	t.Helper()
	return New(Options{
		Clock: clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		UID:   1000,
		GID:   1000,
		Roots: RegistryRoots(),
	})
}

// at splits "/ses/a/b" into path segments.
func at(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mustAdd(t *testing.T, tree *Tree, path, name, value string) *Node {
	t.Helper()
	node, err := tree.AddToken(at(path), name, []byte(value), Overwrite, nil)
	if err != nil {
		t.Fatalf("AddToken(%s/%s): %v", path, name, err)
	}
	return node
}

func TestAddTokenNoOverwrite(t *testing.T) {
	tree := newTestTree(t)
	if _, err := tree.AddToken(at("/ses/a"), "b", []byte("v1"), NoOverwrite, nil); err != nil {
		t.Fatal(err)
	}
	_, err := tree.AddToken(at("/ses/a"), "b", []byte("v2"), NoOverwrite, nil)
	if !failure.Is(err, failure.AlreadyExists) {
		t.Fatalf("second add: err = %v, want AlreadyExists", err)
	}
	node, err := tree.Get(at("/ses/a/b"))
	if err != nil {
		t.Fatal(err)
	}
	if node.Text() != "v1" {
		t.Errorf("value = %q, want v1", node.Text())
	}
}

func TestAddTokenSum(t *testing.T) {
	tree := newTestTree(t)
	mustAdd(t, tree, "/ses", "n", "5")
	node, err := tree.AddToken(at("/ses"), "n", []byte("3"), Sum, nil)
	if err != nil {
		t.Fatal(err)
	}
	if node.Text() != "8" {
		t.Errorf("5 + 3 = %q", node.Text())
	}

	mustAdd(t, tree, "/ses", "s", "a")
	node, err = tree.AddToken(at("/ses"), "s", []byte("b"), Sum, nil)
	if err != nil {
		t.Fatal(err)
	}
	if node.Text() != "ab" {
		t.Errorf("a + b = %q", node.Text())
	}

	// Sum on a missing name just stores the value.
	node, err = tree.AddToken(at("/ses"), "fresh", []byte("4"), Sum, nil)
	if err != nil || node.Text() != "4" {
		t.Errorf("sum on missing name: %q, %v", node.Text(), err)
	}
}

func TestSumValuesBoundaries(t *testing.T) {
	tests := []struct{ previous, addend, want string }{
		{"5", "3", "8"},
		{"-2", "5", "3"},
		{"007", "1", "8"},
		{"1.5", "2", "3.5"},
		{"1.5", "1.5", "3.0"},
		{".5", "1", "1.5"},
		{"99999999999999999999", "1", "100000000000000000000"},
		// Not numbers: concatenated.
		{"+5", "1", "+51"},
		{"1e3", "1", "1e31"},
		{"1.", "1", "1.1"},
		{"", "5", "5"},
		{"a", "b", "ab"},
	}
	for _, test := range tests {
		got := string(sumValues([]byte(test.previous), []byte(test.addend)))
		if got != test.want {
			t.Errorf("sum(%q, %q) = %q, want %q", test.previous, test.addend, got, test.want)
		}
	}
}

func TestGetNotFound(t *testing.T) {
	tree := newTestTree(t)
	mustAdd(t, tree, "/ses/a", "v", "1")
	for _, path := range []string{"/ses/missing", "/ses/a/v/below", "/nope"} {
		if _, err := tree.Get(at(path)); !failure.Is(err, failure.NotFound) {
			t.Errorf("Get(%s) err = %v, want NotFound", path, err)
		}
	}
	if _, err := tree.AddToken(at("/nope"), "x", nil, Overwrite, nil); !failure.Is(err, failure.NotFound) {
		t.Errorf("add under unknown root: err = %v", err)
	}
	if _, err := tree.AddToken(at("/ses/a/v"), "x", nil, Overwrite, nil); !failure.Is(err, failure.AlreadyExists) {
		t.Errorf("add below a value: err = %v", err)
	}
}

func TestRemove(t *testing.T) {
	tree := newTestTree(t)
	mustAdd(t, tree, "/ses/a/b", "c", "1")

	if err := tree.Remove(at("/ses/a/b/c"), false); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Get(at("/ses/a/b")); err != nil {
		t.Errorf("empty section removed without prune: %v", err)
	}

	mustAdd(t, tree, "/ses/a/b", "c", "1")
	if err := tree.Remove(at("/ses/a/b/c"), true); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.Get(at("/ses/a")); !failure.Is(err, failure.NotFound) {
		t.Errorf("prune left /ses/a behind: %v", err)
	}
	if _, err := tree.Get(at("/ses")); err != nil {
		t.Errorf("prune removed the top-level section: %v", err)
	}

	if err := tree.Remove(at("/ses"), false); !failure.Is(err, failure.PermissionDenied) {
		t.Errorf("removing a root: err = %v", err)
	}
	if err := tree.RemoveSection(at("/ses/missing")); !failure.Is(err, failure.NotFound) {
		t.Errorf("removing a missing section: err = %v", err)
	}
}

func TestRename(t *testing.T) {
	tree := newTestTree(t)
	mustAdd(t, tree, "/ses", "a", "1")
	mustAdd(t, tree, "/ses", "taken", "2")
	mustAdd(t, tree, "/ses/dir/inner", "x", "3")

	if _, err := tree.Rename(at("/ses/a"), at("/ses/moved/b"), false); err != nil {
		t.Fatal(err)
	}
	if node, err := tree.Get(at("/ses/moved/b")); err != nil || node.Text() != "1" {
		t.Errorf("renamed token: %v", err)
	}
	if _, err := tree.Get(at("/ses/a")); !failure.Is(err, failure.NotFound) {
		t.Errorf("source still present: %v", err)
	}

	if _, err := tree.Rename(at("/ses/moved/b"), at("/ses/taken"), false); !failure.Is(err, failure.AlreadyExists) {
		t.Errorf("rename onto existing: err = %v", err)
	}
	if _, err := tree.Rename(at("/ses/moved/b"), at("/ses/taken"), true); err != nil {
		t.Errorf("rename with overwrite: %v", err)
	}

	// An existing section as destination keeps the name.
	moved, err := tree.Rename(at("/ses/dir/inner"), at("/ses/moved"), false)
	if err != nil {
		t.Fatal(err)
	}
	if got := moved.PathString(); got != "/ses/moved/inner" {
		t.Errorf("moved to %s", got)
	}
	if _, err := tree.Get(at("/ses/moved/inner/x")); err != nil {
		t.Errorf("children not moved: %v", err)
	}

	if _, err := tree.Rename(at("/ses/moved"), at("/ses/moved/inner"), false); !failure.Is(err, failure.OperationFailed) {
		t.Errorf("move into itself: err = %v", err)
	}
}

func collect(t *testing.T, tree *Tree, path string, options ListOptions) []string {
	t.Helper()
	lines, err := tree.List(at(path), options)
	if err != nil {
		t.Fatal(err)
	}
	return slices.Collect(lines)
}

func TestList(t *testing.T) {
	tree := newTestTree(t)
	mustAdd(t, tree, "/ses", "b", "2")
	mustAdd(t, tree, "/ses", "a", "1")
	mustAdd(t, tree, "/ses/sub", "x", "y")
	mustAdd(t, tree, "/ses/sub/deep", "z=q", "1")
	if _, err := tree.CreateSection(at("/ses/empty"), nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		options ListOptions
		want    []string
	}{
		{"tree recursive", ListOptions{Tree: true, Recursive: true}, []string{
			"- a  : 1",
			"- b  : 2",
			"[empty]:",
			"[sub]:",
			"    - x  : y",
			"    [deep]:",
			"        - z=q  : 1",
		}},
		{"tree shallow without values", ListOptions{Tree: true, OmitValues: true}, []string{
			"- a", "- b", "[empty]:", "[sub]:",
		}},
		{"flat recursive", ListOptions{Recursive: true}, []string{
			"", "[/ses]", "a = 1", "b = 2",
			"", "[/ses/sub]", "x = y",
			"", "[/ses/sub/deep]", `z\=q = 1`,
		}},
		{"flat shallow", ListOptions{}, []string{
			"a = 1", "b = 2", "[empty]", "[sub]",
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if diff := cmp.Diff(test.want, collect(t, tree, "/ses", test.options)); diff != "" {
				t.Errorf("listing mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListIsLazyAndRestartable(t *testing.T) {
	tree := newTestTree(t)
	for _, name := range []string{"a", "b", "c", "d"} {
		mustAdd(t, tree, "/ses", name, name)
	}
	lines, err := tree.List(at("/ses"), ListOptions{Tree: true})
	if err != nil {
		t.Fatal(err)
	}
	var first []string
	for line := range lines {
		first = append(first, line)
		if len(first) == 2 {
			break
		}
	}
	if len(first) != 2 {
		t.Fatalf("early stop yielded %d lines", len(first))
	}

	mustAdd(t, tree, "/ses", "e", "e")
	if got := len(slices.Collect(lines)); got != 5 {
		t.Errorf("second iteration yielded %d lines, want 5", got)
	}
}

func TestAttributes(t *testing.T) {
	tree := newTestTree(t)
	mustAdd(t, tree, "/ses", "a", "1")

	stat, err := tree.GetAttr(at("/ses/a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if stat[StatMode] != "0100644" || stat[StatUID] != "1000" || stat[StatSize] != "1" {
		t.Errorf("stat = %v", stat)
	}

	if err := tree.SetAttr(at("/ses/a"), map[string]string{"mode": "600", "color": "blue"}); err != nil {
		t.Fatal(err)
	}
	named, err := tree.GetAttr(at("/ses/a"), []string{StatMode, "color"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{StatMode: "0100600", "color": "blue"}, named); diff != "" {
		t.Errorf("named attributes (-want +got):\n%s", diff)
	}

	if _, err := tree.GetAttr(at("/ses/a"), []string{"missing"}); !failure.Is(err, failure.NotFound) {
		t.Errorf("missing attribute: err = %v", err)
	}
	for _, attrs := range []map[string]string{
		{StatUID: "0"},
		{"mode": "999"},
		{AttrCompression: "gzip"},
		{AttrPersist: "file.txt"},
	} {
		if err := tree.SetAttr(at("/ses/a"), attrs); err == nil {
			t.Errorf("SetAttr(%v) succeeded", attrs)
		}
	}
	if err := tree.SetAttr(at("/ses"), map[string]string{AttrEncoding: EncodingBinary}); !failure.Is(err, failure.UnrecognizedParameter) {
		t.Errorf("encoding on a section: err = %v", err)
	}
}

func TestChangeTracking(t *testing.T) {
	tree := newTestTree(t)
	if _, err := tree.Bind(at("/sav"), "/data/persistent"); err != nil {
		t.Fatal(err)
	}

	mustAdd(t, tree, "/ses", "session", "1")
	if tree.Changes().Len() != 0 {
		t.Errorf("session change recorded")
	}

	node := mustAdd(t, tree, "/sav", "a", "1")
	if node.Binding() == nil || node.Binding().PathString() != "/sav" {
		t.Fatalf("binding of /sav/a = %v", node.Binding())
	}
	if tree.Changes().Len() != 1 || !node.Binding().Dirty() {
		t.Errorf("persistent change not recorded: %d", tree.Changes().Len())
	}

	drained := tree.Changes().Drain()
	if err := tree.Load(func() error {
		_, err := tree.AddToken(at("/sav/loaded"), "x", []byte("1"), Overwrite, nil)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if tree.Changes().Len() != 0 {
		t.Errorf("change recorded during load")
	}

	mustAdd(t, tree, "/sav", "b", "2")
	tree.Changes().Requeue(drained)
	pending := tree.Changes().Drain()
	if len(pending) != 2 || pending[0] != node {
		t.Errorf("requeued entries not in front: %v", pending)
	}
}

func TestRebindFlushesPreviousOwner(t *testing.T) {
	var flushed []string
	tree := New(Options{
		Clock: clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Roots: RegistryRoots(),
		BeforeRebind: func(previous *Node) error {
			flushed = append(flushed, previous.PathString())
			return nil
		},
	})
	if _, err := tree.Bind(at("/sav"), "/data/persistent"); err != nil {
		t.Fatal(err)
	}
	mustAdd(t, tree, "/sav/sub", "x", "1")
	tree.Changes().Drain()

	if err := tree.SetAttr(at("/sav/sub"), map[string]string{AttrPersist: "sub.txt"}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"/sav"}, flushed); diff != "" {
		t.Errorf("flushed owners (-want +got):\n%s", diff)
	}

	sub, _ := tree.Get(at("/sav/sub"))
	x, _ := tree.Get(at("/sav/sub/x"))
	if sub.Binding() != sub || x.Binding() != sub {
		t.Errorf("descendants not re-pointed at the new binding")
	}
	root, _ := tree.Get(at("/sav"))
	if !root.Dirty() || !sub.Dirty() {
		t.Errorf("dirty flags: /sav %v, /sav/sub %v", root.Dirty(), sub.Dirty())
	}

	// Dropping the binding hands the subtree back to /sav.
	if err := tree.SetAttr(at("/sav/sub"), map[string]string{AttrPersist: ""}); err != nil {
		t.Fatal(err)
	}
	if x.Binding() != root {
		t.Errorf("binding after unbind = %v", x.Binding().PathString())
	}

	if err := tree.SetAttr(at("/ses"), map[string]string{AttrPersist: "x"}); !failure.Is(err, failure.PermissionDenied) {
		t.Errorf("binding under /ses: err = %v", err)
	}
}

func TestFailedRebindLeavesSectionUnchanged(t *testing.T) {
	tree := New(Options{
		Clock: clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Roots: RegistryRoots(),
		BeforeRebind: func(*Node) error {
			return errors.New("disk full")
		},
	})
	if _, err := tree.Bind(at("/sav"), "/data/persistent"); err != nil {
		t.Fatal(err)
	}
	section := mustAdd(t, tree, "/sav/sub", "x", "1").Parent()
	mode := section.Stat().Mode
	tree.Changes().Drain()

	err := tree.SetAttr(at("/sav/sub"), map[string]string{"mode": "0600", "note": "n", AttrPersist: "sub.txt"})
	if !failure.Is(err, failure.OperationFailed) {
		t.Fatalf("SetAttr: got %v, want OperationFailed", err)
	}
	if got := section.Stat().Mode; got != mode {
		t.Errorf("mode = %v, want %v", got, mode)
	}
	if attrs := section.Attrs(); len(attrs) != 0 {
		t.Errorf("attributes changed by a failed rebind: %v", attrs)
	}
	if section.OwnsBinding() || section.Binding().PathString() != "/sav" {
		t.Errorf("binding = %s, want /sav", section.Binding().PathString())
	}
	if n := tree.Changes().Len(); n != 0 {
		t.Errorf("failed rebind recorded %d changes", n)
	}
}

func TestCheckBindingVetsNewBindings(t *testing.T) {
	var checked []string
	tree := New(Options{
		Clock: clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Roots: RegistryRoots(),
		CheckBinding: func(section *Node, binding string) error {
			checked = append(checked, section.PathString()+"="+binding)
			if binding == "taken.data" {
				return failure.New(failure.AlreadyExists, "taken")
			}
			return nil
		},
	})
	if _, err := tree.Bind(at("/sav"), "/data/persistent"); err != nil {
		t.Fatal(err)
	}
	if _, err := tree.CreateSection(at("/sav/a"), map[string]string{AttrPersist: "taken.data", "note": "n"}); !failure.Is(err, failure.AlreadyExists) {
		t.Fatalf("CreateSection: got %v, want AlreadyExists", err)
	}
	a, err := tree.Get(at("/sav/a"))
	if err != nil {
		t.Fatal(err)
	}
	if a.OwnsBinding() || len(a.Attrs()) != 0 {
		t.Errorf("refused binding left state behind: owns %v, attrs %v", a.OwnsBinding(), a.Attrs())
	}
	if err := tree.SetAttr(at("/sav/a"), map[string]string{AttrPersist: "a.data"}); err != nil {
		t.Fatal(err)
	}
	// Unchanged and cleared bindings are not vetted.
	if err := tree.SetAttr(at("/sav/a"), map[string]string{AttrPersist: "a.data"}); err != nil {
		t.Fatal(err)
	}
	if err := tree.SetAttr(at("/sav/a"), map[string]string{AttrPersist: ""}); err != nil {
		t.Fatal(err)
	}
	want := []string{"/sav=/data/persistent", "/sav/a=taken.data", "/sav/a=a.data"}
	if diff := cmp.Diff(want, checked); diff != "" {
		t.Errorf("vetted bindings (-want +got):\n%s", diff)
	}
}

func TestStats(t *testing.T) {
	tree := newTestTree(t)
	mustAdd(t, tree, "/ses", "ab", "1234")
	mustAdd(t, tree, "/ses/s", "c", "12")
	stats, err := tree.Stats(at("/ses"))
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Sections: 1, Tokens: 2, MaxKeyLength: 2, MaxValueLength: 4, AvgKeyLength: 1.5, AvgValueLength: 3, TotalBytes: 9}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}
}
