// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// BinaryOption is the option whose values are raw bytes rather than
// UTF-8 text.
const BinaryOption = "binary"

// InternalOption marks a request issued by the server itself. The
// connection server refuses it from peers.
const InternalOption = "internal"

// Option is a named option with zero or more values.
type Option struct {
	Name   string
	Values []string
}

// Request is a decoded command record.
type Request struct {
	Command string
	Params  []string
	Options []Option
}

// NewRequest returns a request for command with the given params.
func NewRequest(command string, params ...string) *Request {
	return &Request{Command: command, Params: params}
}

// With appends an option and returns the request for chaining. Adding
// an option that is already present appends to its values.
func (r *Request) With(name string, values ...string) *Request {
	for index := range r.Options {
		if r.Options[index].Name == name {
			r.Options[index].Values = append(r.Options[index].Values, values...)
			return r
		}
	}
	r.Options = append(r.Options, Option{Name: name, Values: values})
	return r
}

// Has reports whether the option is present.
func (r *Request) Has(name string) bool {
	_, found := r.option(name)
	return found
}

// Values returns the values of an option, nil when absent.
func (r *Request) Values(name string) []string {
	option, _ := r.option(name)
	return option.Values
}

// Value returns the first value of an option, or "".
func (r *Request) Value(name string) string {
	values := r.Values(name)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Without returns a copy of the request with the named option removed.
func (r *Request) Without(name string) *Request {
	clone := &Request{Command: r.Command, Params: r.Params}
	for _, option := range r.Options {
		if option.Name != name {
			clone.Options = append(clone.Options, option)
		}
	}
	return clone
}

// Internal reports whether the request carries the internal flag.
func (r *Request) Internal() bool { return r.Has(InternalOption) }

func (r *Request) option(name string) (Option, bool) {
	for _, option := range r.Options {
		if option.Name == name {
			return option, true
		}
	}
	return Option{}, false
}

// Encode returns the request payload.
func (r *Request) Encode() []byte {
	var builder strings.Builder
	builder.WriteString(r.Command)
	builder.WriteByte(' ')
	builder.WriteString(strconv.Itoa(len(r.Params)))
	for _, param := range r.Params {
		writeSized(&builder, param)
	}
	for _, option := range r.Options {
		builder.WriteByte(' ')
		builder.WriteString(option.Name)
		builder.WriteByte(' ')
		builder.WriteString(strconv.Itoa(len(option.Values)))
		for _, value := range option.Values {
			writeSized(&builder, value)
		}
	}
	return []byte(builder.String())
}

func writeSized(builder *strings.Builder, element string) {
	builder.WriteByte(' ')
	builder.WriteString(strconv.Itoa(len(element)))
	builder.WriteByte(' ')
	builder.WriteString(element)
}

// DecodeRequest parses a request payload. Params and the values of
// every option except BinaryOption must be valid UTF-8.
func DecodeRequest(payload []byte) (*Request, error) {
	cursor := &cursor{data: payload}
	command, err := cursor.word()
	if err != nil {
		return nil, err
	}
	request := &Request{Command: command}

	params, err := cursor.sizedList(true)
	if err != nil {
		return nil, err
	}
	request.Params = params

	for !cursor.done() {
		name, err := cursor.word()
		if err != nil {
			return nil, err
		}
		if request.Has(name) {
			return nil, malformed("option %q given twice", name)
		}
		values, err := cursor.sizedList(name != BinaryOption)
		if err != nil {
			return nil, err
		}
		request.Options = append(request.Options, Option{Name: name, Values: values})
	}
	return request, nil
}

// sizedList reads "<count> (<len> <bytes>)*".
func (c *cursor) sizedList(text bool) ([]string, error) {
	count, err := c.count()
	if err != nil {
		return nil, err
	}
	if count > len(c.data) {
		return nil, malformed("count %d exceeds payload size", count)
	}
	var elements []string
	for range count {
		length, err := c.count()
		if err != nil {
			return nil, err
		}
		body, err := c.take(length)
		if err != nil {
			return nil, err
		}
		if text && !utf8.Valid(body) {
			return nil, malformed("non UTF-8 text element")
		}
		elements = append(elements, string(body))
		if err := c.separator(); err != nil {
			return nil, err
		}
	}
	return elements, nil
}
