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

package congram

import (
	"math"
	"sort"
)

// ScoredID pairs a vocabulary or context id with a similarity score,
// the return element of every "most similar" query (§4.G, §6.2).
type ScoredID struct {
	ID    uint32
	Score float32
}

// WordSimilarity returns the cosine similarity between output
// embeddings i and j, normalized by invNormOutput. Out-of-range ids
// return NaN rather than faulting (§7 "Runtime calls never error").
func (m *Model) WordSimilarity(i, j uint32) float32 {
	if int(i) >= len(m.out) || int(j) >= len(m.out) {
		return float32(math.NaN())
	}
	a, b := m.out[i], m.out[j]
	dot := dotScaled(a.Values, a.Scale, b.Values, b.Scale)
	return dot * m.invNormOutput[i] * m.invNormOutput[j]
}

// ContextSimilarity is WordSimilarity's analogue over the context
// arena.
func (m *Model) ContextSimilarity(i, j uint32) float32 {
	if int(i) >= len(m.ctx) || int(j) >= len(m.ctx) {
		return float32(math.NaN())
	}
	a, b := m.ctx[i], m.ctx[j]
	dot := dotScaled(a.Values, a.Scale, b.Values, b.Scale)
	return dot * m.invNormContext[i] * m.invNormContext[j]
}

// MostSimilarWords returns the topN output ids most similar to
// vocabId, excluding vocabId itself, sorted by decreasing similarity
// (§8.1 "returns k distinct ids different from i").
func (m *Model) MostSimilarWords(vocabId uint32, topN int) []ScoredID {
	return m.mostSimilar(vocabId, topN, len(m.out), m.WordSimilarity)
}

// MostSimilarContexts returns the topN context ids most similar to
// contextId. Per §9's Open Question resolution, this iterates over
// contextSize-many candidates (not vocabSize, which the reference
// does and which is a latent bug when vocabSize > contextSize).
func (m *Model) MostSimilarContexts(contextId uint32, topN int) []ScoredID {
	return m.mostSimilar(contextId, topN, len(m.ctx), m.ContextSimilarity)
}

func (m *Model) mostSimilar(id uint32, topN, universe int, sim func(a, b uint32) float32) []ScoredID {
	out := make([]ScoredID, 0, universe)
	for j := 0; j < universe; j++ {
		if uint32(j) == id {
			continue
		}
		s := sim(id, uint32(j))
		if math.IsNaN(float64(s)) {
			continue
		}
		out = append(out, ScoredID{ID: uint32(j), Score: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topN < len(out) {
		out = out[:topN]
	}
	return out
}

// PredictWordsFromContext returns the topN output ids with the
// highest plain dot-product score against context contextId's
// embedding (no window mixture), the context-only scoring path of
// §4.G used as a standalone query.
func (m *Model) PredictWordsFromContext(contextId uint32, topN int) []ScoredID {
	if int(contextId) >= len(m.ctx) {
		return nil
	}
	ctxRow := m.ctx[contextId]
	out := make([]ScoredID, len(m.out))
	for j, row := range m.out {
		score := dotScaled(ctxRow.Values, ctxRow.Scale, row.Values, row.Scale) + ctxRow.Bias - float32(row.Sum)*ctxRow.Scale*row.Scale
		out[j] = ScoredID{ID: uint32(j), Score: score}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topN < len(out) {
		out = out[:topN]
	}
	return out
}

// PredictWordsFromContextDiff scores by the weighted difference
// between contextId's and bgContextId's predictions, useful for
// "what does this context favor relative to a background context".
func (m *Model) PredictWordsFromContextDiff(contextId, bgContextId uint32, weight float32, topN int) []ScoredID {
	if int(contextId) >= len(m.ctx) || int(bgContextId) >= len(m.ctx) {
		return nil
	}
	fg := m.ctx[contextId]
	bg := m.ctx[bgContextId]
	out := make([]ScoredID, len(m.out))
	for j, row := range m.out {
		fgScore := dotScaled(fg.Values, fg.Scale, row.Values, row.Scale) + fg.Bias - float32(row.Sum)*fg.Scale*row.Scale
		bgScore := dotScaled(bg.Values, bg.Scale, row.Values, row.Scale) + bg.Bias - float32(row.Sum)*bg.Scale*row.Scale
		out[j] = ScoredID{ID: uint32(j), Score: fgScore - weight*bgScore}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topN < len(out) {
		out = out[:topN]
	}
	return out
}

// ToContextId walks the trie from root over the given morpheme
// history and returns the context id it resolves to (§4.G).
func (m *Model) ToContextId(vocabIds []uint32) uint32 {
	return m.t.ToContextId(vocabIds)
}

// GetContextWordMap returns, for every context id, the set of
// histories (vocab id sequences, root to node) that resolve to it.
// This is a diagnostics-only operation (§4.G): a depth-first walk of
// the trie's own edge structure, independent of the embedding arenas.
func (m *Model) GetContextWordMap() [][][]uint32 {
	result := make([][][]uint32, len(m.ctx))
	record := func(ctx uint32, path []uint32) {
		if int(ctx) >= len(result) {
			return
		}
		cp := make([]uint32, len(path))
		copy(cp, path)
		result[ctx] = append(result[ctx], cp)
	}

	for label, v := range m.t.RootTable {
		switch {
		case v > 0:
			m.walkWordMap(int32(v), []uint32{uint32(label)}, record)
		case v < 0:
			record(uint32(-v), []uint32{uint32(label)})
		}
	}
	return result
}

func (m *Model) walkWordMap(nodeIdx int32, path []uint32, record func(ctx uint32, path []uint32)) {
	node := m.t.Nodes[nodeIdx]
	if node.Value != 0 {
		record(node.Value, path)
	}
	edges := m.t.Edges[node.NextOffset : node.NextOffset+node.NumNexts]
	for _, e := range edges {
		next := append(append([]uint32(nil), path...), e.Label)
		if e.ChildDelta > 0 {
			m.walkWordMap(nodeIdx+e.ChildDelta, next, record)
		} else if e.ChildDelta < 0 {
			record(uint32(-e.ChildDelta), next)
		}
	}
}
