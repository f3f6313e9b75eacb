// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "math"

// Stats summarizes a subtree.
type Stats struct {
	Sections       int
	Tokens         int
	MaxKeyLength   int
	MaxValueLength int
	AvgKeyLength   float64
	AvgValueLength float64
	TotalBytes     int
}

// Stats walks the subtree at path. The section itself is not counted.
func (t *Tree) Stats(path []string) (Stats, error) {
	node, err := t.Get(path)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	var keyTotal, valueTotal int
	var walk func(*Node)
	walk = func(section *Node) {
		for _, child := range section.children {
			if child.kind == SectionKind {
				stats.Sections++
				walk(child)
				continue
			}
			stats.Tokens++
			stats.MaxKeyLength = max(stats.MaxKeyLength, len(child.name))
			stats.MaxValueLength = max(stats.MaxValueLength, len(child.data))
			keyTotal += len(child.name)
			valueTotal += len(child.data)
		}
	}
	if node.kind == SectionKind {
		walk(node)
	}
	stats.TotalBytes = keyTotal + valueTotal
	if stats.Tokens > 0 {
		stats.AvgKeyLength = round2(float64(keyTotal) / float64(stats.Tokens))
		stats.AvgValueLength = round2(float64(valueTotal) / float64(stats.Tokens))
	}
	return stats, nil
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
