// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/al-berger/regd/lib/storage"
)

var (
	propertySections = []string{"/sav", "/sav/a", "/sav/a/b"}
	propertyNames    = []string{"k", " s", "x=y", "n/l"}
	propertyValues   = []string{"", "v", "line\nbreak", "\t lead", "[x]", "a\r\nb", "x\r"}
)

// applyOperation decodes one generated integer into an add, a remove
// or a flush.
func applyOperation(tree *storage.Tree, flusher *Flusher, code int) error {
	section := at(propertySections[(code/3)%len(propertySections)])
	name := propertyNames[(code/9)%len(propertyNames)]
	value := propertyValues[(code/36)%len(propertyValues)]
	switch code % 3 {
	case 0:
		_, err := tree.AddToken(section, name, []byte(value), storage.Overwrite, nil)
		return err
	case 1:
		// Removing something absent is fine here.
		tree.Remove(append(section, name), code%2 == 0)
		return nil
	default:
		return flusher.Flush()
	}
}

func TestFlushReloadProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("reloading a flushed tree reproduces it", prop.ForAll(
		func(codes []int) bool {
			file := filepath.Join(t.TempDir(), "regd.data")
			tree := newTree(t)
			if err := Load(tree, at("/sav"), file); err != nil {
				t.Logf("Load: %v", err)
				return false
			}
			flusher := NewFlusher(tree, nil)
			for _, code := range codes {
				if err := applyOperation(tree, flusher, code); err != nil {
					t.Logf("operation %d: %v", code, err)
					return false
				}
			}
			if err := flusher.Flush(); err != nil {
				t.Logf("final flush: %v", err)
				return false
			}
			if diff := cmp.Diff(snapshot(t, tree, "/sav"), snapshot(t, reload(t, file), "/sav")); diff != "" {
				t.Logf("codes %v (-want +got):\n%s", codes, diff)
				return false
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 999)),
	))

	properties.TestingRun(t)
}
