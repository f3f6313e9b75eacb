// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package token parses and formats the "path/name=value" strings that
// clients use to address the registry.
//
// A raw token is split on unescaped '/' into path segments, and the
// final segment is split on its last unescaped '=' into name and
// value. "\/" and "\=" stand for literal characters. One whitespace
// character on either side of a separator is not part of the adjacent
// component, so "a / b = c" parses the same as "a/b=c"; a component
// that genuinely starts or ends with whitespace (or ends with a
// backslash) is written with one extra space by [Token.String].
package token

import (
	"strings"

	"github.com/al-berger/regd/lib/failure"
)

// Token is a parsed token. A token with an empty Name addresses a
// section ("/ses/a/"), and carries no value.
type Token struct {
	// Absolute is true when the raw text started with '/'.
	Absolute bool

	// Path holds the unescaped section segments, root first.
	Path []string

	Name string

	Value    string
	HasValue bool
}

// SectionOnly reports whether the token names a section rather than
// a value.
func (t Token) SectionOnly() bool { return t.Name == "" }

// Segments returns Path followed by Name (when present).
func (t Token) Segments() []string {
	segments := make([]string, 0, len(t.Path)+1)
	segments = append(segments, t.Path...)
	if t.Name != "" {
		segments = append(segments, t.Name)
	}
	return segments
}

// Parse splits raw into path segments, name and value.
func Parse(raw string) (Token, error) {
	if raw == "" {
		return Token{}, failure.New(failure.MalformedToken, "empty token")
	}

	parts := splitUnescaped(raw, '/')
	last := len(parts) - 1

	var parsed Token
	for index, part := range parts[:last] {
		if index == 0 && part == "" {
			parsed.Absolute = true
			continue
		}
		if index > 0 {
			part = trimOneLeft(part)
		}
		part = trimOneRight(part)
		if part == "" {
			return Token{}, failure.Errorf(failure.MalformedToken, "null path segment in %q", raw)
		}
		parsed.Path = append(parsed.Path, Unescape(part))
	}

	tail := parts[last]
	if last > 0 {
		tail = trimOneLeft(tail)
	}
	if tail == "" {
		// Trailing '/': the token names a section.
		return parsed, nil
	}

	if separator := lastUnescaped(tail, '='); separator >= 0 {
		parsed.Name = Unescape(trimOneRight(tail[:separator]))
		parsed.Value = Unescape(trimOneLeft(tail[separator+1:]))
		parsed.HasValue = true
	} else {
		parsed.Name = Unescape(tail)
	}
	if parsed.Name == "" {
		return Token{}, failure.Errorf(failure.MalformedToken, "no name in %q", raw)
	}
	return parsed, nil
}

// String formats the token so that Parse returns it unchanged.
func (t Token) String() string {
	var builder strings.Builder
	if t.Absolute {
		builder.WriteByte('/')
	}
	for index, segment := range t.Path {
		builder.WriteString(pad(Escape(segment), index > 0 || t.Absolute, true))
		builder.WriteByte('/')
	}
	if t.Name == "" {
		return builder.String()
	}
	notFirst := t.Absolute || len(t.Path) > 0
	builder.WriteString(pad(Escape(t.Name), notFirst, t.HasValue))
	if t.HasValue {
		builder.WriteByte('=')
		builder.WriteString(pad(Escape(t.Value), true, false))
	}
	return builder.String()
}

// FormatPath formats a section path (no trailing '/'). The result
// parses back with Parse(FormatPath(...) + "/").
func FormatPath(absolute bool, segments []string) string {
	formatted := Token{Absolute: absolute, Path: segments}.String()
	if len(segments) == 0 {
		return formatted
	}
	return strings.TrimSuffix(formatted, "/")
}

// Escape prefixes every '/' and '=' in s with a backslash.
func Escape(s string) string {
	if !strings.ContainsAny(s, "/=") {
		return s
	}
	var builder strings.Builder
	builder.Grow(len(s) + 4)
	for index := 0; index < len(s); index++ {
		if s[index] == '/' || s[index] == '=' {
			builder.WriteByte('\\')
		}
		builder.WriteByte(s[index])
	}
	return builder.String()
}

// Unescape replaces "\/" and "\=" with the literal character. Any
// other backslash is kept.
func Unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var builder strings.Builder
	builder.Grow(len(s))
	for index := 0; index < len(s); index++ {
		if s[index] == '\\' && index+1 < len(s) && (s[index+1] == '/' || s[index+1] == '=') {
			index++
		}
		builder.WriteByte(s[index])
	}
	return builder.String()
}

// EscapeName escapes only '='. Used where names appear outside of a
// path context (listing output).
func EscapeName(name string) string {
	return strings.ReplaceAll(name, "=", `\=`)
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' }

func trimOneLeft(s string) string {
	if s != "" && isSpace(s[0]) {
		return s[1:]
	}
	return s
}

func trimOneRight(s string) string {
	if s != "" && isSpace(s[len(s)-1]) {
		return s[:len(s)-1]
	}
	return s
}

// pad adds the extra space that survives trimming on re-parse.
func pad(escaped string, left, right bool) string {
	if escaped == "" {
		return escaped
	}
	if left && isSpace(escaped[0]) {
		escaped = " " + escaped
	}
	if right {
		tail := escaped[len(escaped)-1]
		if isSpace(tail) || tail == '\\' {
			escaped += " "
		}
	}
	return escaped
}

func escapedAt(s string, index int) bool {
	return index > 0 && s[index-1] == '\\'
}

func splitUnescaped(s string, separator byte) []string {
	var parts []string
	start := 0
	for index := 0; index < len(s); index++ {
		if s[index] == separator && !escapedAt(s, index) {
			parts = append(parts, s[start:index])
			start = index + 1
		}
	}
	return append(parts, s[start:])
}

func lastUnescaped(s string, separator byte) int {
	for index := len(s) - 1; index >= 0; index-- {
		if s[index] == separator && !escapedAt(s, index) {
			return index
		}
	}
	return -1
}

// ContainsUnescaped reports whether s contains c not preceded by a
// backslash.
func ContainsUnescaped(s string, c byte) bool {
	return lastUnescaped(s, c) >= 0
}
