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

// Package evaluator implements component I, the thin glue between the
// lattice search and the model container: it classifies candidate
// morphemes (combining candidates are scored like regular ones; every
// previous path is treated as regular), calls congram.ProgressMatrix
// for the regular cross product, walks chunked morphemes sequentially, and
// keeps a top-N container keyed by LM-state equivalence (§4.H). It is
// a pure function of its inputs modulo caller-owned scratch, so the
// search may call it from many worker goroutines concurrently on
// disjoint lattice nodes (§5).
package evaluator

import (
	"sort"

	"github.com/congram-lm/congram/congram"
)

// CandidateKind classifies a morpheme candidate the way §4.H's
// partitioning step does.
type CandidateKind int

const (
	KindRegular CandidateKind = iota
	KindChunked
	KindCombiningLeft
	KindCombiningRight
)

// Chunk is a sequence of follow-on token ids scored by sequential
// state.next calls rather than a single ProgressMatrix column
// (§4.H step 4). Blocked, if non-nil, aborts extension at the chunk
// member it names.
type Chunk struct {
	TokenIDs []uint32
	Blocked  func(tokenID uint32) bool
}

// Candidate is one morpheme offered to Eval.
type Candidate struct {
	Kind  CandidateKind
	Token uint32 // meaningful for KindRegular/KindCombiningLeft/KindCombiningRight
	Chunk Chunk  // meaningful for KindChunked
}

// PrevPath is one partial hypothesis entering the lattice node, paired
// with its accumulated score so far.
type PrevPath struct {
	State congram.State
	Score float32
}

// ExtendedPath is one scored, extended hypothesis Eval returns.
type ExtendedPath struct {
	State congram.State
	Score float32
}

// Eval scores every combination of prevPaths × candidates at this
// lattice node and returns the topN highest-scoring extensions,
// deduplicated by LM-state equivalence (ties break by accumulated
// score, §4.H step 5).
func Eval(m *congram.Model, prevPaths []PrevPath, candidates []Candidate, topN int) []ExtendedPath {
	regularPrev := make([]int, 0, len(prevPaths))
	for i := range prevPaths {
		regularPrev = append(regularPrev, i)
	}

	var regularTokens []uint32
	var regularCandIdx []int
	var chunked []int
	for i, c := range candidates {
		switch c.Kind {
		case KindRegular, KindCombiningLeft, KindCombiningRight:
			regularTokens = append(regularTokens, c.Token)
			regularCandIdx = append(regularCandIdx, i)
		case KindChunked:
			chunked = append(chunked, i)
		}
	}

	all := make([]ExtendedPath, 0, len(prevPaths)*len(candidates))

	if len(regularPrev) > 0 && len(regularTokens) > 0 {
		states := make([]congram.State, len(regularPrev))
		for i, pi := range regularPrev {
			states[i] = prevPaths[pi].State
		}
		res := m.ProgressMatrix(states, regularTokens, 0)
		N := len(regularTokens)
		for i, pi := range regularPrev {
			for j := range regularTokens {
				all = append(all, ExtendedPath{
					State: res.OutStates[i*N+j],
					Score: prevPaths[pi].Score + res.Scores[i*N+j],
				})
			}
		}
	}

	for _, pi := range regularPrev {
		for _, ci := range chunked {
			ext, ok := extendChunk(m, prevPaths[pi], candidates[ci].Chunk)
			if ok {
				all = append(all, ext)
			}
		}
	}

	return topNByStateEquivalence(all, topN)
}

// extendChunk sequentially advances state by every token in chunk,
// aborting (returning ok=false) the moment Blocked reports a tag is
// blocked (§4.H step 4).
func extendChunk(m *congram.Model, prev PrevPath, chunk Chunk) (ExtendedPath, bool) {
	state := cloneState(prev.State)
	score := prev.Score
	for _, tok := range chunk.TokenIDs {
		if chunk.Blocked != nil && chunk.Blocked(tok) {
			return ExtendedPath{}, false
		}
		score += m.Progress(&state, tok)
	}
	return ExtendedPath{State: state, Score: score}, true
}

func cloneState(s congram.State) congram.State {
	cp := congram.State{Node: s.Node, CtxIdx: s.CtxIdx}
	if len(s.History) > 0 {
		cp.History = make([]uint32, len(s.History))
		copy(cp.History, s.History)
	}
	return cp
}

// topNByStateEquivalence keeps, for every distinct LM state (by
// State.Hash/State.Equal), only the highest-scoring path reaching it,
// then returns the topN such survivors by score (§4.H step 5).
func topNByStateEquivalence(all []ExtendedPath, topN int) []ExtendedPath {
	keep := make([]bool, len(all))
	survivor := make(map[uint64][]int) // hash -> indices into `all` sharing that hash

	for i, p := range all {
		h := p.State.Hash()
		matched := false
		for _, j := range survivor[h] {
			if all[j].State.Equal(p.State) {
				matched = true
				if p.Score > all[j].Score {
					keep[j] = false
					keep[i] = true
					survivor[h][indexOf(survivor[h], j)] = i
				}
				break
			}
		}
		if !matched {
			keep[i] = true
			survivor[h] = append(survivor[h], i)
		}
	}

	out := make([]ExtendedPath, 0, topN)
	for i, k := range keep {
		if k {
			out = append(out, all[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topN < len(out) {
		out = out[:topN]
	}
	return out
}

func indexOf(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
