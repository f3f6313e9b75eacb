// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "sync"

// ChangeSet lists the nodes mutated since the last flush. It is the
// only part of the tree with its own lock: the flusher drains it while
// the tree keeps recording.
type ChangeSet struct {
	mu    sync.Mutex
	nodes []*Node
}

func (c *ChangeSet) add(node *Node) {
	c.mu.Lock()
	c.nodes = append(c.nodes, node)
	c.mu.Unlock()
}

// Drain swaps the recorded nodes out and leaves the set empty.
func (c *ChangeSet) Drain() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	drained := c.nodes
	c.nodes = nil
	return drained
}

// Requeue puts drained nodes back in front of anything recorded since,
// after a flush that failed.
func (c *ChangeSet) Requeue(nodes []*Node) {
	if len(nodes) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = append(append(make([]*Node, 0, len(nodes)+len(c.nodes)), nodes...), c.nodes...)
}

// Len returns the number of pending entries.
func (c *ChangeSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}
