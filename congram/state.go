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

// State is a runtime LM state (§3.5): a trie node, the context id it
// resolved to, and (when the model has a distant-history window) a
// ring buffer of the last W tokens. The lattice search creates these,
// mutates them only via Model.Progress/ProgressMatrix, and discards
// them once their hypothesis is pruned.
type State struct {
	Node    int32
	CtxIdx  uint32
	History []uint32 // length W+1 when the model has a window, else nil
}

// NewState returns the initial ("nothing seen yet") state for a model
// with the given window size.
func NewState(windowSize int) State {
	var hist []uint32
	if windowSize > 0 {
		hist = make([]uint32, windowSize+1)
	}
	return State{History: hist}
}

// rotateHistory shifts the ring buffer left by one slot only once the
// staging slot (the last element) is already occupied, then writes
// `next` into the staging slot iff it participates in the
// distant-history window, and 0 otherwise; whether it shifts depends
// only on the staging slot, not on `next` (§4.G "After scoring, history
// is rotated left by one if full").
func (s *State) rotateHistory(next uint32, isDistant bool) {
	if len(s.History) == 0 {
		return
	}
	last := len(s.History) - 1
	if s.History[last] != 0 {
		copy(s.History, s.History[1:])
	}
	if isDistant {
		s.History[last] = next
	} else {
		s.History[last] = 0
	}
}

// Equal compares two states the way CoNgramState::operator== does:
// same node, and the history ring's middle section matches
// element-for-element. windowSize is len(History)-1 (History has one
// extra undigested staging slot at the end, index windowSize, which
// operator== deliberately excludes); the comparison range is
// [windowSize/2, windowSize). The leading half of the ring is
// intentionally ignored too, letting paths whose far history has
// diverged share a state once it no longer affects future scoring
// (§3.5).
func (s State) Equal(other State) bool {
	if s.Node != other.Node {
		return false
	}
	if len(s.History) == 0 {
		return true
	}
	windowSize := len(s.History) - 1
	start := windowSize / 2
	for i := start; i < windowSize; i++ {
		if s.History[i] != other.History[i] {
			return false
		}
	}
	return true
}

const (
	largePrime = 2305843009213693951
)

func rol(x uint64, r uint) uint64 {
	return (x << r) | (x >> (64 - r))
}

func hashUint32(v uint32) uint64 {
	return (uint64(v) * largePrime) ^ rol(uint64(v), 33)
}

// Hash mirrors the reference's Hash<CoNgramState> specialization: it
// combines a hash of node with a hash of the 2-element window ending
// just before the staging slot — windowSize is len(History)-1, and the
// hashed range is [windowSize-wordsPerHash, windowSize), which lies
// inside the range [windowSize/2, windowSize) Equal compares, so states
// that compare Equal also hash equal.
func (s State) Hash() uint64 {
	ret := hashUint32(uint32(s.Node))
	if len(s.History) == 0 {
		return ret
	}
	windowSize := len(s.History) - 1
	const wordsPerHash = 2 // sizeof(size_t)/sizeof(uint32)
	start := windowSize - wordsPerHash
	if start < 0 {
		start = 0
	}
	var h uint64
	for i := start; i < windowSize; i++ {
		h = (h << 32) | uint64(s.History[i])
	}
	h = (h * largePrime) ^ rol(h, 31)
	return h ^ rol(ret, 3)
}
