// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/al-berger/regd/lib/failure"
)

// HeaderSize is the length of the frame header.
const HeaderSize = 10

// maxFrameLength is the largest length a 10-digit header can carry.
const maxFrameLength = 9_999_999_999

// WriteFrame writes payload with its length header in a single Write.
func WriteFrame(w io.Writer, payload []byte) error {
	if int64(len(payload)) > maxFrameLength {
		return fmt.Errorf("frame payload of %d bytes exceeds the header range", len(payload))
	}
	frame := make([]byte, 0, HeaderSize+len(payload))
	frame = fmt.Appendf(frame, "%-10d", len(payload))
	frame = append(frame, payload...)
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one frame. Frames longer than limit are rejected
// without reading the payload. A connection closed before any header
// byte arrives returns io.EOF.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, failure.New(failure.ConnectionError, "connection closed inside frame header")
		}
		return nil, err
	}
	length, err := strconv.Atoi(strings.TrimRight(string(header[:]), " "))
	if err != nil || length < 0 {
		return nil, failure.Errorf(failure.UnrecognizedSyntax, "invalid frame header %q", header[:])
	}
	if length > limit {
		return nil, failure.Errorf(failure.UnrecognizedSyntax, "frame of %d bytes exceeds limit of %d", length, limit)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, failure.Wrap(failure.ConnectionError, err, "reading frame payload")
	}
	return payload, nil
}
