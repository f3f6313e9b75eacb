// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"io"

	"github.com/al-berger/regd/lib/failure"
)

// Response is a decoded response. A failed response carries the error
// text as a String value.
type Response struct {
	OK    bool
	Value Value
}

// Success returns a success response carrying v.
func Success(v Value) *Response {
	if v == nil {
		v = Null{}
	}
	return &Response{OK: true, Value: v}
}

// Failure returns a failure response for err. The kind of err is kept
// in the message so that the receiving side can recover it.
func Failure(err error) *Response {
	return &Response{OK: false, Value: String(failure.Message(err))}
}

// Err returns nil for a success response, and the carried error for a
// failure response.
func (r *Response) Err() error {
	if r.OK {
		return nil
	}
	return failure.FromMessage(Text(r.Value))
}

// Encode returns the response payload.
func (r *Response) Encode() []byte {
	code := byte('0')
	if r.OK {
		code = '1'
	}
	return encodeValue([]byte{code, ' '}, r.Value)
}

// DecodeResponse parses a response payload.
func DecodeResponse(payload []byte) (*Response, error) {
	if len(payload) < 3 || payload[1] != ' ' || (payload[0] != '0' && payload[0] != '1') {
		return nil, malformed("invalid response header")
	}
	value, err := DecodeValue(payload[2:])
	if err != nil {
		return nil, err
	}
	return &Response{OK: payload[0] == '1', Value: value}, nil
}

// WriteRequest frames and writes a request.
func WriteRequest(w io.Writer, request *Request) error {
	return WriteFrame(w, request.Encode())
}

// ReadRequest reads and decodes one framed request.
func ReadRequest(r io.Reader, limit int) (*Request, error) {
	payload, err := ReadFrame(r, limit)
	if err != nil {
		return nil, err
	}
	return DecodeRequest(payload)
}

// WriteResponse frames and writes a response.
func WriteResponse(w io.Writer, response *Response) error {
	return WriteFrame(w, response.Encode())
}

// ReadResponse reads and decodes one framed response.
func ReadResponse(r io.Reader, limit int) (*Response, error) {
	payload, err := ReadFrame(r, limit)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(payload)
}
