// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package secure

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds plaintext in an anonymous mapping that is mlocked and
// marked MADV_DONTDUMP. It must not be copied. Reading after Close
// panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewBuffer maps a protected region of size bytes.
func NewBuffer(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secure: buffer size must be positive, got %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secure: mmap: %w", err)
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secure: mlock: %w", err)
	}
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(data)
		unix.Munmap(data)
		return nil, fmt.Errorf("secure: madvise: %w", err)
	}
	return &Buffer{data: data}, nil
}

// Protect moves source into a new Buffer and zeroes source. An empty
// source gives an empty buffer that owns no mapping.
func Protect(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return &Buffer{}, nil
	}
	buffer, err := NewBuffer(len(source))
	if err != nil {
		clear(source)
		return nil, err
	}
	copy(buffer.data, source)
	clear(source)
	return buffer, nil
}

// Bytes returns the plaintext. The slice aliases the mapping and is
// invalid after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secure: read from closed buffer")
	}
	return b.data
}

// Len returns the plaintext length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Close zeroes and releases the mapping. Repeated calls do nothing.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.data == nil {
		return nil
	}
	clear(b.data)
	var firstError error
	if err := unix.Munlock(b.data); err != nil {
		firstError = fmt.Errorf("secure: munlock: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secure: munmap: %w", err)
	}
	b.data = nil
	return firstError
}
