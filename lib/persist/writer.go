// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/storage"
)

// ResolveFile returns the absolute path of the file bound to owner. A
// relative binding is resolved against the directory of the file
// bound to the nearest ancestor with a binding.
func ResolveFile(owner *storage.Node) (string, error) {
	binding, found := owner.Attr(storage.AttrPersist)
	if !found || binding == "" {
		return "", failure.Errorf(failure.OperationFailed, "%s has no backing file", owner.PathString())
	}
	return resolveBinding(owner, binding)
}

// resolveBinding resolves binding as if it were set on section.
func resolveBinding(section *storage.Node, binding string) (string, error) {
	if filepath.IsAbs(binding) {
		return filepath.Clean(binding), nil
	}
	if parent := section.Parent(); parent != nil && parent.Binding() != nil {
		including, err := ResolveFile(parent.Binding())
		if err != nil {
			return "", err
		}
		return filepath.Join(filepath.Dir(including), binding), nil
	}
	return filepath.Abs(binding)
}

// writer serializes one or more owners during a single flush.
type writer struct {
	// written maps files to the owner written to them in this pass.
	written map[string]*storage.Node
}

func newWriter() *writer {
	return &writer{written: make(map[string]*storage.Node)}
}

// writeOwner rewrites the file bound to owner, then any included
// file that is dirty or missing.
func (w *writer) writeOwner(owner *storage.Node) error {
	file, err := ResolveFile(owner)
	if err != nil {
		return err
	}
	if previous, found := w.written[file]; found {
		if previous == owner {
			return nil
		}
		return failure.Errorf(failure.AlreadyExists, "%s and %s are bound to the same file %s",
			previous.PathString(), owner.PathString(), file)
	}
	w.written[file] = owner

	output := &fileOutput{file: file, referenced: make(map[string]bool)}
	if err := output.writeValues(owner); err != nil {
		return err
	}
	for _, child := range owner.Children() {
		if child.IsSection() {
			if err := w.writeSection(output, child, []string{child.Name()}); err != nil {
				return err
			}
		}
	}

	if err := writeFileAtomic(file, []byte(output.builder.String())); err != nil {
		return failure.Wrap(failure.OperationFailed, err, "writing "+owner.PathString())
	}
	pruneSideFiles(file, output.referenced)
	owner.MarkClean()

	for _, included := range output.includes {
		includedFile, err := ResolveFile(included)
		if err != nil {
			return err
		}
		if _, statErr := os.Stat(includedFile); included.Dirty() || statErr != nil {
			if err := w.writeOwner(included); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *writer) writeSection(output *fileOutput, section *storage.Node, relative []string) error {
	attrs := section.Attrs()
	delete(attrs, storage.AttrPersist)

	if section.OwnsBinding() {
		binding, _ := section.Attr(storage.AttrPersist)
		if len(attrs) > 0 {
			output.line(formatAttributes(attrs))
		}
		output.line(formatInclude(binding, relative))
		output.includes = append(output.includes, section)
		return nil
	}

	var values, sections []*storage.Node
	for _, child := range section.Children() {
		if child.IsSection() {
			sections = append(sections, child)
		} else {
			values = append(values, child)
		}
	}
	if len(values) > 0 || len(attrs) > 0 || len(sections) == 0 {
		if len(attrs) > 0 {
			output.line(formatAttributes(attrs))
		}
		output.line(formatHeader(relative))
		if err := output.writeValues(section); err != nil {
			return err
		}
	}
	for _, child := range sections {
		if err := w.writeSection(output, child, append(slices.Clip(relative), child.Name())); err != nil {
			return err
		}
	}
	return nil
}

// fileOutput accumulates the text of one bound file.
type fileOutput struct {
	file       string
	builder    strings.Builder
	referenced map[string]bool
	includes   []*storage.Node
}

func (o *fileOutput) line(text string) {
	o.builder.WriteString(text)
	o.builder.WriteByte('\n')
}

func (o *fileOutput) writeValues(section *storage.Node) error {
	for _, value := range section.Children() {
		if value.IsSection() {
			continue
		}
		attrs := value.Attrs()
		text := value.Text()
		if value.IsBinary() {
			side, err := writeSideFile(o.file, value)
			if err != nil {
				return failure.Wrap(failure.OperationFailed, err, "writing "+value.PathString())
			}
			o.referenced[side] = true
			attrs[storage.AttrPersist] = side
			text = ""
		}
		if len(attrs) > 0 {
			o.line(formatAttributes(attrs))
		}
		o.line(formatTokenLine(value.Name(), text))
	}
	return nil
}
