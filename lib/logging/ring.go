// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"strings"
	"sync"
)

// DefaultRingSize is the number of lines kept when NewRing gets a
// non-positive size.
const DefaultRingSize = 1000

// Ring keeps the most recent log lines. It is an io.Writer: slog
// handlers write one record per call, and a write carrying several
// lines stores each of them.
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultRingSize
	}
	return &Ring{lines: make([]string, size)}
}

func (r *Ring) Write(p []byte) (int, error) {
	text := strings.TrimRight(string(p), "\n")
	if text == "" {
		return len(p), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for line := range strings.SplitSeq(text, "\n") {
		r.lines[r.next] = line
		r.next++
		if r.next == len(r.lines) {
			r.next = 0
			r.full = true
		}
	}
	return len(p), nil
}

// Last returns up to n of the most recent lines, oldest first.
func (r *Ring) Last(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.next
	if r.full {
		count = len(r.lines)
	}
	n = min(max(n, 0), count)
	result := make([]string, 0, n)
	for index := r.next - n; index < r.next; index++ {
		result = append(result, r.lines[(index+len(r.lines))%len(r.lines)])
	}
	return result
}
