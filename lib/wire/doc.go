// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the regd request/response protocol.
//
// Every message is a frame: a 10-byte ASCII decimal length, left
// justified and space padded, followed by that many payload bytes.
//
// A request payload is
//
//	<command> <paramCount> (<len> <param>)* (<option> <valueCount> (<len> <value>)*)*
//
// with single spaces between elements. A response payload is a code
// ('1' success, '0' failure), a space, and one typed value:
//
//	N                     null
//	I<len> <digits>       integer
//	F<len> <digits>       float
//	B<len> <bytes>        raw bytes
//	S<len> <bytes>        UTF-8 string
//	L<count> <item>*      list, items concatenated
//	D<count*2> (<k><v>)*  mapping, keys and values concatenated
//
// The same encoding is used between clients and the server and
// between the server and the storage worker.
package wire
