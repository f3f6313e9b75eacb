// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/storage"
	"github.com/al-berger/regd/lib/token"
)

// maxIncludeDepth bounds include chains, which also stops include
// cycles.
const maxIncludeDepth = 32

// Reader loads bound files into a tree.
type Reader struct {
	Tree *storage.Tree

	// Mode decides what happens to names already in the tree.
	Mode storage.AddMode
}

// Load binds section to file and reads the file, with change
// tracking suppressed. A missing file leaves the section empty; it is
// created on the first flush.
func Load(tree *storage.Tree, section []string, file string) error {
	return tree.Load(func() error {
		if _, err := tree.CreateSection(section, nil); err != nil {
			return err
		}
		if _, err := tree.Bind(section, file); err != nil {
			return err
		}
		if !exists(file) {
			return nil
		}
		reader := Reader{Tree: tree, Mode: storage.Overwrite}
		return reader.ReadFile(file, section)
	})
}

// ReadFile reads file into the section at path.
func (r *Reader) ReadFile(file string, section []string) error {
	return r.readFile(file, section, 0)
}

func (r *Reader) readFile(file string, section []string, depth int) error {
	if depth > maxIncludeDepth {
		return failure.Errorf(failure.OperationFailed, "include chain too deep at %s", file)
	}
	handle, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return failure.Errorf(failure.NotFound, "%s does not exist", file)
		}
		return failure.Wrap(failure.OperationFailed, err, "opening "+file)
	}
	defer handle.Close()
	if err := r.read(handle, filepath.Dir(file), section, depth); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	return nil
}

// Read parses bound-file text from source. Relative includes and side
// files are resolved against directory.
func (r *Reader) Read(source io.Reader, directory string, section []string) error {
	return r.read(source, directory, section, 0)
}

func (r *Reader) read(source io.Reader, directory string, section []string, depth int) error {
	lines, err := logicalLines(source)
	if err != nil {
		return failure.Wrap(failure.OperationFailed, err, "reading")
	}

	current := section
	var pending map[string]string
	for _, line := range lines {
		// A '\r' ending a token line is part of the value; on directive
		// and header lines it is only a line ending.
		text := strings.TrimSuffix(line.text, "\r")
		switch {
		case strings.HasPrefix(text, attributesDirective+" "):
			pending, err = parseAttributes(text[len(attributesDirective)+1:])
			if err != nil {
				return lineError(line.number, err)
			}
			continue

		case strings.HasPrefix(text, includeDirective+" "):
			file, relative, err := parseInclude(text[len(includeDirective)+1:])
			if err != nil {
				return lineError(line.number, err)
			}
			target := append(slices.Clone(section), relative...)
			attrs := pending
			if attrs == nil {
				attrs = make(map[string]string)
			}
			attrs[storage.AttrPersist] = file
			if _, err := r.Tree.CreateSection(target, attrs); err != nil {
				return lineError(line.number, err)
			}
			resolved := file
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(directory, file)
			}
			if exists(resolved) {
				if err := r.readFile(resolved, target, depth+1); err != nil {
					return err
				}
			}

		case strings.HasPrefix(text, directivePrefix):
			return lineError(line.number, failure.Errorf(failure.UnrecognizedSyntax, "unknown directive %q", text))

		case isHeader(text):
			relative, err := parseHeader(text)
			if err != nil {
				return lineError(line.number, err)
			}
			current = append(slices.Clone(section), relative...)
			if _, err := r.Tree.CreateSection(current, pending); err != nil {
				return lineError(line.number, err)
			}

		default:
			if err := r.readToken(line.text, directory, current, pending); err != nil {
				return lineError(line.number, err)
			}
		}
		pending = nil
	}
	return nil
}

func (r *Reader) readToken(text, directory string, section []string, attrs map[string]string) error {
	parsed, err := token.Parse(text)
	if err != nil {
		return err
	}
	if !parsed.HasValue {
		return failure.Errorf(failure.UnrecognizedSyntax, "line has no value: %q", text)
	}
	value := []byte(parsed.Value)
	if attrs[storage.AttrEncoding] == storage.EncodingBinary {
		value, err = readSideFile(directory, attrs)
		if err != nil {
			return failure.Wrap(failure.OperationFailed, err, parsed.Name)
		}
		delete(attrs, storage.AttrPersist)
	}
	path := append(slices.Clone(section), parsed.Path...)
	_, err = r.Tree.AddToken(path, parsed.Name, value, r.Mode, attrs)
	return err
}

type logicalLine struct {
	number int
	text   string
}

// logicalLines joins tab-indented continuation lines onto the line
// before them and drops blank lines. Lines end at '\n' only, so a
// '\r' inside a value survives.
func logicalLines(source io.Reader) ([]logicalLine, error) {
	scanner := bufio.NewScanner(source)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	scanner.Split(scanNewlines)
	var lines []logicalLine
	number := 0
	for scanner.Scan() {
		number++
		text := scanner.Text()
		if strings.HasPrefix(text, "\t") && len(lines) > 0 {
			lines[len(lines)-1].text += "\n" + text[1:]
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		lines = append(lines, logicalLine{number: number, text: text})
	}
	return lines, scanner.Err()
}

// scanNewlines is bufio.ScanLines without the '\r' stripping.
func scanNewlines(data []byte, atEOF bool) (advance int, line []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if index := bytes.IndexByte(data, '\n'); index >= 0 {
		return index + 1, data[:index], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func lineError(number int, err error) error {
	return failure.Wrap(failure.KindOf(err), err, fmt.Sprintf("line %d", number))
}
