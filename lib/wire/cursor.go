// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import "strconv"

// cursor walks a payload. Every method fails with an
// UnrecognizedSyntax error instead of reading past the end.
type cursor struct {
	data     []byte
	position int
}

func (c *cursor) done() bool { return c.position >= len(c.data) }

func (c *cursor) byte() (byte, error) {
	if c.done() {
		return 0, malformed("unexpected end of payload")
	}
	b := c.data[c.position]
	c.position++
	return b, nil
}

// word returns the bytes up to the next space (or the end) and
// consumes the space.
func (c *cursor) word() (string, error) {
	start := c.position
	for c.position < len(c.data) && c.data[c.position] != ' ' {
		c.position++
	}
	if c.position == start {
		return "", malformed("empty element at offset %d", start)
	}
	word := string(c.data[start:c.position])
	if c.position < len(c.data) {
		c.position++
	}
	return word, nil
}

// count reads a non-negative decimal followed by a space or the end.
func (c *cursor) count() (int, error) {
	word, err := c.word()
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.Atoi(word)
	if err != nil || parsed < 0 {
		return 0, malformed("invalid count %q", word)
	}
	return parsed, nil
}

// take returns the next n bytes.
func (c *cursor) take(n int) ([]byte, error) {
	if n > len(c.data)-c.position {
		return nil, malformed("element of %d bytes runs past the end of the payload", n)
	}
	body := c.data[c.position : c.position+n]
	c.position += n
	return body, nil
}

// separator consumes the single space between request elements, or
// accepts the end of the payload.
func (c *cursor) separator() error {
	if c.done() {
		return nil
	}
	if c.data[c.position] != ' ' {
		return malformed("expected separator at offset %d", c.position)
	}
	c.position++
	return nil
}
