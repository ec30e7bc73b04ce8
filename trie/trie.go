// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package trie implements component F, the context suffix trie: it
// maps a history of vocabulary ids onto a compact context id, with
// fail-links ("lower" links) so that any history resolves to its
// longest recognized suffix in amortized constant time. The node
// layout is ported from CoNgramModel.hpp's Node<KeyType,uint32_t> plus
// its progressContextNode/progressContextNodeVl transition logic;
// fail-links are stored as signed node-index deltas rather than
// pointers so the node array stays position-independent and
// memory-mappable (§9 "Trie fail-links as indices not pointers").
package trie

import (
	"fmt"
	"sort"
)

// CorruptModelError reports a malformed serialized trie: bad offsets,
// arena overruns, an out-of-range label, or a cycle discovered while
// computing fail-links.
type CorruptModelError struct {
	Reason string
}

func (e *CorruptModelError) Error() string {
	return fmt.Sprintf("trie: corrupt model: %s", e.Reason)
}

// splitKeyMax is the threshold at which a label no longer fits in the
// 16-bit direct range and must be split into a high/low pair of edges
// (§3.3, §9 "Split-key high/low encoding"). tMax reserves the top
// 2*1024 values of the 16-bit space for the two halves of a 20-bit
// label.
const splitKeyMax = (1 << 16) - (1<<10)*2

// Node mirrors the reference's Node<KeyType,uint32_t>: value is the
// context id assigned to the suffix ending here (0 if none), numNexts/
// nextOffset locate this node's edge table in the shared key/value
// arena, and lower is the signed index delta to this node's fail-link
// (0 iff this is the root).
type Node struct {
	Value      uint32
	NumNexts   uint32
	NextOffset uint32
	Lower      int32
}

// Edge is one outgoing transition: Label names the token, ChildDelta
// is a positive node-index delta for a non-leaf child, or a negative
// value whose negation is a leaf context id directly (§3.3).
type Edge struct {
	Label      uint32
	ChildDelta int32
}

// Trie is the built, queryable form of component F. RootTable gives
// O(1) first-step transitions from the root (§3.2); Nodes/Edges hold
// every non-root node and its edge table, addressed via Node.NextOffset
// as an index into Edges (not a byte offset, since this is an in-memory
// Go slice rather than a raw arena).
type Trie struct {
	Nodes     []Node // Nodes[0] is the root
	Edges     []Edge
	RootTable []int32 // indexed by label < vocabSize; positive = child node index, negative = -ctxId, 0 = unknown
	VocabSize uint32
}

// BuildInput is the decoded form of the serialized node stream (§6.1):
// nodeSizes names how many children each depth-first node in the
// implicit stream has, labels/values are the flattened per-edge key and
// per-node value streams.
type BuildInput struct {
	NodeSizes []uint32
	Labels    []uint32
	Values    []uint32
	VocabSize uint32
}

// Build constructs a Trie from decoded node/label/value streams,
// following the depth-first materialization and fail-link BFS described
// in §4.F. nodeSizes[i]==0 marks a leaf-only placeholder whose context
// id was hoisted into its parent's edge table as a negative childDelta;
// such entries never get a materialized Node.
func Build(in BuildInput) (*Trie, error) {
	if len(in.Values) != len(in.NodeSizes) {
		return nil, &CorruptModelError{Reason: "values/nodeSizes length mismatch"}
	}

	type frame struct {
		parent    int32
		labelIdx  int
		childLeft uint32
	}

	t := &Trie{VocabSize: in.VocabSize}
	t.RootTable = make([]int32, in.VocabSize)
	// Root is always node 0.
	t.Nodes = append(t.Nodes, Node{Value: in.Values[0]})

	labelPos := 0
	nodePos := 1 // index into NodeSizes/Values for the next node to materialize, root consumed nodeSizes[0]
	var walk func(parentIdx int32, numChildren uint32) error
	walk = func(parentIdx int32, numChildren uint32) error {
		edges := make([]Edge, 0, numChildren)
		for c := uint32(0); c < numChildren; c++ {
			if labelPos >= len(in.Labels) {
				return &CorruptModelError{Reason: "label stream exhausted"}
			}
			label := in.Labels[labelPos]
			labelPos++

			if nodePos >= len(in.NodeSizes) {
				return &CorruptModelError{Reason: "node size stream exhausted"}
			}
			size := in.NodeSizes[nodePos]
			value := in.Values[nodePos]
			nodePos++

			if size == 0 {
				// Leaf-only placeholder: value is hoisted directly into the
				// edge as a negative delta, no Node materialized.
				if value == 0 {
					return &CorruptModelError{Reason: "leaf placeholder with zero context id"}
				}
				edges = append(edges, Edge{Label: label, ChildDelta: -int32(value)})
				if parentIdx == 0 {
					if int(label) >= len(t.RootTable) {
						return &CorruptModelError{Reason: "root label out of vocab range"}
					}
					t.RootTable[label] = -int32(value)
				}
				continue
			}

			childIdx := int32(len(t.Nodes))
			t.Nodes = append(t.Nodes, Node{Value: value})
			edges = append(edges, Edge{Label: label, ChildDelta: childIdx - parentIdx})

			if parentIdx == 0 {
				if int(label) >= len(t.RootTable) {
					return &CorruptModelError{Reason: "root label out of vocab range"}
				}
				t.RootTable[label] = childIdx
			}

			if err := walk(childIdx, size); err != nil {
				return err
			}
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i].Label < edges[j].Label })
		edgeStart := len(t.Edges)
		t.Edges = append(t.Edges, edges...)
		t.Nodes[parentIdx].NumNexts = numChildren
		t.Nodes[parentIdx].NextOffset = uint32(edgeStart)
		return nil
	}

	rootChildren := in.NodeSizes[0]
	if err := walk(0, rootChildren); err != nil {
		return nil, err
	}
	if nodePos != len(in.NodeSizes) || labelPos != len(in.Labels) {
		return nil, &CorruptModelError{Reason: "trailing unused bytes in node/label stream"}
	}

	if err := t.computeFailLinks(); err != nil {
		return nil, err
	}
	return t, nil
}

// computeFailLinks runs a BFS from root assigning, for every non-root
// node reached via label k, the fail-link obtained by walking the
// parent's fail-chain rootward until an ancestor has a child labeled k
// (or root is reached). A node whose own value is 0 inherits the value
// found along that fail-chain (§4.F step 5).
func (t *Trie) computeFailLinks() error {
	type queued struct {
		idx    int32
		parent int32
		label  uint32
	}
	visited := make([]bool, len(t.Nodes))
	visited[0] = true
	queue := make([]queued, 0, len(t.Nodes))

	edgesOf := func(nodeIdx int32) []Edge {
		n := t.Nodes[nodeIdx]
		return t.Edges[n.NextOffset : n.NextOffset+n.NumNexts]
	}

	for _, e := range edgesOf(0) {
		if e.ChildDelta <= 0 {
			continue // leaf-only, no node to assign a fail-link to
		}
		queue = append(queue, queued{idx: e.ChildDelta, parent: 0, label: e.Label})
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.idx] {
			return &CorruptModelError{Reason: "cycle detected while computing fail-links"}
		}
		visited[cur.idx] = true

		node := &t.Nodes[cur.idx]
		t.assignFailLink(cur.idx, cur.parent, cur.label)
		if node.Value == 0 {
			node.Value = t.findLowerValue(cur.idx, cur.label)
		}

		for _, e := range edgesOf(cur.idx) {
			if e.ChildDelta <= 0 {
				continue
			}
			queue = append(queue, queued{idx: cur.idx + e.ChildDelta, parent: cur.idx, label: e.Label})
		}
	}
	return nil
}

// assignFailLink sets node[idx].Lower to the signed delta toward the
// longest proper suffix context reachable by walking parent's own
// fail-chain looking for a child labeled `label`.
func (t *Trie) assignFailLink(idx, parent int32, label uint32) {
	if parent == 0 {
		// direct child of root: fail-link goes to root itself.
		t.Nodes[idx].Lower = -idx
		return
	}
	search := parent + t.Nodes[parent].Lower
	for {
		if search == 0 {
			if t.RootTable[label] != 0 {
				t.Nodes[idx].Lower = t.RootTable[label] - idx
			} else {
				t.Nodes[idx].Lower = -idx
			}
			return
		}
		n := t.Nodes[search]
		edges := t.Edges[n.NextOffset : n.NextOffset+n.NumNexts]
		if child, ok := lookupEdge(edges, label); ok && child.ChildDelta > 0 {
			t.Nodes[idx].Lower = (search + child.ChildDelta) - idx
			return
		}
		search += n.Lower
	}
}

func lookupEdge(edges []Edge, label uint32) (Edge, bool) {
	lo, hi := 0, len(edges)
	for lo < hi {
		mid := (lo + hi) / 2
		if edges[mid].Label < label {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(edges) && edges[lo].Label == label {
		return edges[lo], true
	}
	return Edge{}, false
}

// findLowerValue walks idx's fail-chain looking for the first ancestor
// whose edge table resolves label to a value; falls back to the
// fail-chain's terminal node's own Value. Direct port of findLowerValue
// in CoNgramModel.hpp.
func (t *Trie) findLowerValue(idx int32, label uint32) uint32 {
	cur := idx
	for t.Nodes[cur].Lower != 0 {
		lowerIdx := cur + t.Nodes[cur].Lower
		n := t.Nodes[lowerIdx]
		edges := t.Edges[n.NextOffset : n.NextOffset+n.NumNexts]
		if e, ok := lookupEdge(edges, label); ok {
			if e.ChildDelta > 0 {
				return t.Nodes[lowerIdx+e.ChildDelta].Value
			}
			return uint32(-e.ChildDelta)
		}
		cur = lowerIdx
	}
	return t.Nodes[cur].Value
}

// Progress advances nodeIdx in place on transition `next`, returning
// the resolved context id (§4.F "Transition"). A value of 0 means
// unknown. When no node on the fail-chain has an edge for `next`,
// nodeIdx ends at 0 (root); when the edge leads to a node that has no
// context id of its own, 0 is returned and nodeIdx moves to that node.
func (t *Trie) Progress(nodeIdx *int32, next uint32) uint32 {
	if next >= splitKeyValueCeiling() && next < (1<<24) {
		return t.progressSplit(nodeIdx, next)
	}
	return t.progressVl(nodeIdx, next)
}

// splitKeyValueCeiling names the point above which labels must be
// treated as requiring the split-key encoding; kept as a function
// rather than a bare constant so its derivation from splitKeyMax reads
// the same way progressContextNode's tMax comparison does.
func splitKeyValueCeiling() uint32 { return uint32(splitKeyMax) }

// progressSplit issues the two trie hops §9 describes for a label that
// doesn't fit in 16 bits: a high-nibble hop followed by a low-nibble
// hop, each landing in one of the two reserved top ranges of the
// 16-bit space.
func (t *Trie) progressSplit(nodeIdx *int32, next uint32) uint32 {
	rest := next - splitKeyMax
	high := rest >> 10
	low := rest & 0x3FF
	t.progressVl(nodeIdx, uint32(splitKeyMax)+high)
	return t.progressVl(nodeIdx, uint32(splitKeyMax)+(1<<10)+low)
}

func (t *Trie) progressVl(nodeIdx *int32, next uint32) uint32 {
	for {
		idx := *nodeIdx
		node := t.Nodes[idx]

		var v int32
		if idx != 0 {
			edges := t.Edges[node.NextOffset : node.NextOffset+node.NumNexts]
			e, ok := lookupEdge(edges, next)
			if !ok {
				if node.Lower == 0 {
					*nodeIdx = 0
					return 0
				}
				*nodeIdx = idx + node.Lower
				continue
			}
			v = e.ChildDelta
		} else {
			if int(next) >= len(t.RootTable) {
				return 0
			}
			v = t.RootTable[next]
			if v == 0 {
				return 0
			}
		}

		if v > 0 {
			*nodeIdx = idx + v
			return t.Nodes[*nodeIdx].Value
		}

		// Leaf context: walk the fail-chain looking for a longer match
		// under the same label; land there if one exists, else reset to
		// root. Either way the leaf context id -v is still returned.
		search := idx
		for t.Nodes[search].Lower != 0 {
			search += t.Nodes[search].Lower
			if search == 0 {
				if t.RootTable[next] > 0 {
					*nodeIdx = t.RootTable[next]
				} else {
					*nodeIdx = 0
				}
				return uint32(-v)
			}
			n := t.Nodes[search]
			edges := t.Edges[n.NextOffset : n.NextOffset+n.NumNexts]
			if e, ok := lookupEdge(edges, next); ok && e.ChildDelta > 0 {
				*nodeIdx = search + e.ChildDelta
				return uint32(-v)
			}
		}
		*nodeIdx = 0
		return uint32(-v)
	}
}

// ToContextId walks the trie from root applying each id in sequence
// and returns the final context id (§4.G).
func (t *Trie) ToContextId(ids []uint32) uint32 {
	var node int32
	var ctx uint32
	for _, id := range ids {
		ctx = t.Progress(&node, id)
	}
	return ctx
}
