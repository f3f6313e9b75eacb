// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package persist

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/token"
)

const (
	directivePrefix     = "//"
	attributesDirective = "//attributes"
	includeDirective    = "//include"
)

// formatTokenLine writes a name/value pair. Continuation lines of a
// multi-line value start with a tab.
func formatTokenLine(name string, value string) string {
	line := token.Token{
		Absolute: name != "" && (name[0] == ' ' || name[0] == '\t'),
		Name:     name,
		Value:    value,
		HasValue: true,
	}.String()
	return strings.ReplaceAll(line, "\n", "\n\t")
}

func formatHeader(relative []string) string {
	return "[" + token.FormatPath(false, relative) + "]"
}

func isHeader(line string) bool {
	return len(line) >= 2 && line[0] == '[' && line[len(line)-1] == ']' &&
		!token.ContainsUnescaped(line, '=')
}

func parseHeader(line string) ([]string, error) {
	parsed, err := token.Parse(line[1:len(line)-1] + "/")
	if err != nil {
		return nil, err
	}
	return parsed.Path, nil
}

// quoteIfNeeded quotes values that would otherwise be split or
// trimmed.
func quoteIfNeeded(value string) string {
	if value == "" || strings.ContainsAny(value, " \t\n\r\"\\") {
		return strconv.Quote(value)
	}
	return value
}

func formatAttributes(attrs map[string]string) string {
	var builder strings.Builder
	builder.WriteString(attributesDirective)
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		builder.WriteByte(' ')
		builder.WriteString(name)
		builder.WriteByte('=')
		builder.WriteString(quoteIfNeeded(attrs[name]))
	}
	return builder.String()
}

// nextField returns the first space-separated field of s, honoring
// Go-quoted strings, and the remainder.
func nextField(s string) (field, rest string, err error) {
	s = strings.TrimLeft(s, " ")
	if strings.HasPrefix(s, `"`) {
		quoted, err := strconv.QuotedPrefix(s)
		if err != nil {
			return "", "", failure.Errorf(failure.UnrecognizedSyntax, "bad quoted string in %q", s)
		}
		field, _ = strconv.Unquote(quoted)
		return field, s[len(quoted):], nil
	}
	if index := strings.IndexByte(s, ' '); index >= 0 {
		return s[:index], s[index:], nil
	}
	return s, "", nil
}

func parseAttributes(body string) (map[string]string, error) {
	attrs := make(map[string]string)
	rest := strings.TrimLeft(body, " ")
	for rest != "" {
		separator := strings.IndexByte(rest, '=')
		if separator <= 0 {
			return nil, failure.Errorf(failure.UnrecognizedSyntax, "malformed attribute in %q", body)
		}
		name := rest[:separator]
		if strings.ContainsAny(name, " \t") {
			return nil, failure.Errorf(failure.UnrecognizedSyntax, "malformed attribute name %q", name)
		}
		value, remainder, err := nextField(rest[separator+1:])
		if err != nil {
			return nil, err
		}
		attrs[name] = value
		rest = strings.TrimLeft(remainder, " ")
	}
	return attrs, nil
}

func formatInclude(file string, relative []string) string {
	return includeDirective + " " + quoteIfNeeded(file) + " " + token.FormatPath(false, relative)
}

func parseInclude(body string) (string, []string, error) {
	file, rest, err := nextField(body)
	if err != nil {
		return "", nil, err
	}
	if file == "" || len(rest) < 2 || rest[0] != ' ' {
		return "", nil, failure.Errorf(failure.UnrecognizedSyntax, "malformed include %q", body)
	}
	parsed, err := token.Parse(rest[1:] + "/")
	if err != nil {
		return "", nil, err
	}
	return file, parsed.Path, nil
}
