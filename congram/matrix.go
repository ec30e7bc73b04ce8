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

// sortedPathThreshold names the shape cutoff (M or N above it) for a
// sorted, deduplicated scoring path (§4.G "Batched scheduling").
// ProgressMatrix does not read it: it always runs the unsorted path and
// never dedupes contexts or tokens, whatever the batch shape.
const sortedPathThreshold = 16

// ProgressMatrixResult holds the batched output of progressMatrix:
// row-major M*N score and state matrices, laid out outStates[m*N+n].
type ProgressMatrixResult struct {
	Scores    []float32
	OutStates []State
}

// ProgressMatrix computes, for every (m,n) pair in prevStates ×
// nextIds, the one-step score and resulting state (§4.G, §4.G "Batched
// scheduling"). nextIds must be partitioned so the last
// numValidDistant entries are the ones with distantMask==1 (callers
// typically build this via the evaluator's candidate partitioning).
//
// This always runs the "unsorted" gather path: Progress's int8 dot
// products are already O(dim) per call and the model's contexts/rows
// are small enough in this Go port that sorting+deduping before the
// call never pays for itself the way it would amortizing cache misses
// over a mmap'd arena on a real search fleet. Correctness (the
// per-pair equivalence to looped Progress, §5 "Ordering") holds
// regardless of path; the sortedPathThreshold constant (see DESIGN.md)
// is kept so a future dedup fast path has a documented trigger point.
func (m *Model) ProgressMatrix(prevStates []State, nextIds []uint32, numValidDistant int) ProgressMatrixResult {
	M := len(prevStates)
	N := len(nextIds)
	res := ProgressMatrixResult{
		Scores:    make([]float32, M*N),
		OutStates: make([]State, M*N),
	}

	for i, prev := range prevStates {
		for j, next := range nextIds {
			state := cloneState(prev)
			score := m.Progress(&state, next)
			res.Scores[i*N+j] = score
			res.OutStates[i*N+j] = state
		}
	}
	return res
}

func cloneState(s State) State {
	cp := State{Node: s.Node, CtxIdx: s.CtxIdx}
	if len(s.History) > 0 {
		cp.History = make([]uint32, len(s.History))
		copy(cp.History, s.History)
	}
	return cp
}
