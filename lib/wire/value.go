// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/al-berger/regd/lib/failure"
)

// Value is one of Null, Int, Float, Bytes, String, List or Dict.
type Value interface {
	appendTo(dst []byte) []byte
}

type (
	Null   struct{}
	Int    int64
	Float  float64
	Bytes  []byte
	String string
	List   []Value
	Dict   []Pair
)

// Pair is one entry of a Dict. Dict keeps insertion order so that
// encoding is deterministic.
type Pair struct {
	Key   Value
	Value Value
}

func (Null) appendTo(dst []byte) []byte { return append(dst, 'N') }

func (v Int) appendTo(dst []byte) []byte {
	return appendSized(dst, 'I', strconv.FormatInt(int64(v), 10))
}

func (v Float) appendTo(dst []byte) []byte {
	return appendSized(dst, 'F', strconv.FormatFloat(float64(v), 'g', -1, 64))
}

func (v Bytes) appendTo(dst []byte) []byte { return appendSized(dst, 'B', string(v)) }

func (v String) appendTo(dst []byte) []byte { return appendSized(dst, 'S', string(v)) }

func (v List) appendTo(dst []byte) []byte {
	dst = fmt.Appendf(dst, "L%d ", len(v))
	for _, item := range v {
		dst = encodeValue(dst, item)
	}
	return dst
}

func (v Dict) appendTo(dst []byte) []byte {
	dst = fmt.Appendf(dst, "D%d ", len(v)*2)
	for _, pair := range v {
		dst = encodeValue(dst, pair.Key)
		dst = encodeValue(dst, pair.Value)
	}
	return dst
}

func appendSized(dst []byte, tag byte, body string) []byte {
	dst = append(dst, tag)
	dst = strconv.AppendInt(dst, int64(len(body)), 10)
	dst = append(dst, ' ')
	return append(dst, body...)
}

func encodeValue(dst []byte, v Value) []byte {
	if v == nil {
		return Null{}.appendTo(dst)
	}
	return v.appendTo(dst)
}

// EncodeValue returns the wire encoding of v. A nil Value encodes as
// Null.
func EncodeValue(v Value) []byte { return encodeValue(nil, v) }

// DecodeValue decodes exactly one value occupying all of data.
func DecodeValue(data []byte) (Value, error) {
	cursor := &cursor{data: data}
	value, err := cursor.value(0)
	if err != nil {
		return nil, err
	}
	if !cursor.done() {
		return nil, malformed("%d trailing bytes after value", len(data)-cursor.position)
	}
	return value, nil
}

// maxNesting bounds List/Dict recursion while decoding.
const maxNesting = 64

func (c *cursor) value(depth int) (Value, error) {
	if depth > maxNesting {
		return nil, malformed("values nested deeper than %d", maxNesting)
	}
	tag, err := c.byte()
	if err != nil {
		return nil, err
	}
	if tag == 'N' {
		return Null{}, nil
	}
	size, err := c.count()
	if err != nil {
		return nil, err
	}

	switch tag {
	case 'I':
		body, err := c.take(size)
		if err != nil {
			return nil, err
		}
		parsed, err := strconv.ParseInt(string(body), 10, 64)
		if err != nil {
			return nil, malformed("integer %q", body)
		}
		return Int(parsed), nil
	case 'F':
		body, err := c.take(size)
		if err != nil {
			return nil, err
		}
		parsed, err := strconv.ParseFloat(string(body), 64)
		if err != nil {
			return nil, malformed("float %q", body)
		}
		return Float(parsed), nil
	case 'B':
		body, err := c.take(size)
		if err != nil {
			return nil, err
		}
		return Bytes(append([]byte(nil), body...)), nil
	case 'S':
		body, err := c.take(size)
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(body) {
			return nil, malformed("string value is not UTF-8")
		}
		return String(body), nil
	case 'L':
		list := make(List, 0, min(size, 1024))
		for range size {
			item, err := c.value(depth + 1)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	case 'D':
		if size%2 != 0 {
			return nil, malformed("mapping with odd element count %d", size)
		}
		dict := make(Dict, 0, min(size/2, 1024))
		for range size / 2 {
			key, err := c.value(depth + 1)
			if err != nil {
				return nil, err
			}
			item, err := c.value(depth + 1)
			if err != nil {
				return nil, err
			}
			dict = append(dict, Pair{Key: key, Value: item})
		}
		return dict, nil
	default:
		return nil, malformed("unknown value tag %q", tag)
	}
}

// Strings converts a slice of strings into a List of String values.
func Strings(values []string) List {
	list := make(List, len(values))
	for index, value := range values {
		list[index] = String(value)
	}
	return list
}

// StringMap converts a map into a Dict with keys in sorted order.
func StringMap(values map[string]string) Dict {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	dict := make(Dict, len(keys))
	for index, key := range keys {
		dict[index] = Pair{Key: String(key), Value: String(values[key])}
	}
	return dict
}

// Lookup returns the value stored under a String key.
func (d Dict) Lookup(key string) (Value, bool) {
	for _, pair := range d {
		if text, ok := pair.Key.(String); ok && string(text) == key {
			return pair.Value, true
		}
	}
	return nil, false
}

// Text renders v for display: scalars as their text, lists one item
// per line, mappings as "key: value" lines.
func Text(v Value) string {
	switch typed := v.(type) {
	case nil, Null:
		return ""
	case Int:
		return strconv.FormatInt(int64(typed), 10)
	case Float:
		return strconv.FormatFloat(float64(typed), 'g', -1, 64)
	case Bytes:
		return string(typed)
	case String:
		return string(typed)
	case List:
		lines := make([]string, len(typed))
		for index, item := range typed {
			lines[index] = Text(item)
		}
		return strings.Join(lines, "\n")
	case Dict:
		lines := make([]string, len(typed))
		for index, pair := range typed {
			lines[index] = Text(pair.Key) + ": " + Text(pair.Value)
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprintf("%v", typed)
	}
}

func malformed(format string, args ...any) error {
	return failure.Errorf(failure.UnrecognizedSyntax, "malformed payload: "+format, args...)
}
