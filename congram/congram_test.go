package congram

import (
	"math"
	"testing"

	"github.com/congram-lm/congram/mathx"
	"github.com/congram-lm/congram/trie"
)

// buildTestModel constructs a tiny W=0 model directly (bypassing
// FromBytes) so scoring math can be exercised without hand-encoding a
// serialized byte buffer: one context, two vocabulary ids.
func buildTestModel(t *testing.T) *Model {
	t.Helper()
	tr, err := trie.Build(trie.BuildInput{
		NodeSizes: []uint32{1, 0},
		Labels:    []uint32{0},
		Values:    []uint32{0, 1},
		VocabSize: 2,
	})
	if err != nil {
		t.Fatalf("trie.Build: %v", err)
	}

	m := &Model{
		hdr: Header{Dim: 4, ContextSize: 2, VocabSize: 2, WindowSize: 0},
		t:   tr,
		ctx: []contextRow{
			{Values: []int8{0, 0, 0, 0}, Scale: 1, Bias: 0},
			{Values: []int8{1, 2, 3, 4}, Scale: 1, Bias: 0.5},
		},
		out: []outputRow{
			{Values: []int8{1, 0, 0, 0}, Scale: 1, Sum: 0},
			{Values: []int8{1, 2, 3, 4}, Scale: 1, Sum: 0},
		},
	}
	m.computeInvNorms()
	return m
}

func TestProgressUpdatesContextAndScore(t *testing.T) {
	m := buildTestModel(t)
	state := NewState(m.WindowSize())

	score := m.Progress(&state, 0)
	want := dotScaled(m.ctx[0].Values, m.ctx[0].Scale, m.out[0].Values, m.out[0].Scale) + m.ctx[0].Bias
	if math.Abs(float64(score-want)) > 1e-5 {
		t.Fatalf("score = %v, want %v", score, want)
	}
	if state.CtxIdx != 1 {
		t.Fatalf("CtxIdx = %d, want 1 (only context [0] is recognized)", state.CtxIdx)
	}
}

func TestWordSimilaritySelfIsOne(t *testing.T) {
	m := buildTestModel(t)
	sim := m.WordSimilarity(1, 1)
	if math.Abs(float64(sim-1)) > 1e-5 {
		t.Fatalf("WordSimilarity(1,1) = %v, want ~1", sim)
	}
}

func TestWordSimilarityOutOfRangeIsNaN(t *testing.T) {
	m := buildTestModel(t)
	sim := m.WordSimilarity(99, 0)
	if !math.IsNaN(float64(sim)) {
		t.Fatalf("expected NaN for out-of-range id, got %v", sim)
	}
}

func TestProgressMatrixMatchesLoopedProgress(t *testing.T) {
	m := buildTestModel(t)
	prevStates := []State{NewState(0), NewState(0)}
	nextIds := []uint32{0, 1}

	res := m.ProgressMatrix(prevStates, nextIds, 0)

	for i, prev := range prevStates {
		for j, next := range nextIds {
			loopState := cloneState(prev)
			wantScore := m.Progress(&loopState, next)
			gotScore := res.Scores[i*len(nextIds)+j]
			tol := float32(5e-5) * maxFloat32(1, absFloat32(wantScore))
			if absFloat32(gotScore-wantScore) > tol {
				t.Fatalf("scores[%d,%d] = %v, want %v (tol %v)", i, j, gotScore, wantScore, tol)
			}
			gotState := res.OutStates[i*len(nextIds)+j]
			if !gotState.Equal(loopState) {
				t.Fatalf("states[%d,%d] = %+v, want %+v", i, j, gotState, loopState)
			}
		}
	}
}

// History here has length 4, so windowSize = len-1 = 3: Equal compares
// only indices [windowSize/2, windowSize) = [1,3), ignoring both index 0
// (front half) and index 3 (the undigested staging slot).
func TestStateEqualIgnoresFrontHalfAndStagingSlotOfHistory(t *testing.T) {
	a := State{Node: 3, History: []uint32{1, 2, 3, 4}}
	b := State{Node: 3, History: []uint32{9, 2, 3, 99}}
	if !a.Equal(b) {
		t.Fatal("expected states to be equal (front half and staging slot ignored)")
	}
	c := State{Node: 3, History: []uint32{1, 2, 5, 4}}
	if a.Equal(c) {
		t.Fatal("expected states to differ (compared range [1,3) differs)")
	}
}

func TestStateHashConsistentWithEqual(t *testing.T) {
	a := State{Node: 3, History: []uint32{1, 2, 3, 4}}
	b := State{Node: 3, History: []uint32{9, 2, 3, 99}}
	if a.Equal(b) && a.Hash() != b.Hash() {
		t.Fatal("equal states must hash equal")
	}
}

// buildWindowedTestModel constructs a W=7 model with a trivial
// one-node trie (every context resolves to the single "unknown"
// context row) so the distant-history mixture in progressWindowed can
// be exercised in isolation from trie mechanics. Vocabulary: 0 is the
// unused "absent" sentinel, 1/2/3 are ordinary distant-history tokens
// (a, b, c), 4 is t, the distant-masked token under test.
func buildWindowedTestModel(t *testing.T) *Model {
	t.Helper()
	tr, err := trie.Build(trie.BuildInput{
		NodeSizes: []uint32{0},
		Values:    []uint32{0},
		VocabSize: 5,
	})
	if err != nil {
		t.Fatalf("trie.Build: %v", err)
	}

	m := &Model{
		hdr: Header{Dim: 2, ContextSize: 1, VocabSize: 5, WindowSize: 7},
		t:   tr,
		ctx: []contextRow{
			{Values: []int8{1, 1}, Scale: 1, Bias: 0.1, Confid: 0.2, ValidTokenSum: 0.05},
		},
		out: []outputRow{
			{},
			{},
			{},
			{},
			{Values: []int8{2, -1}, Scale: 1, Sum: 1}, // id 4 = t
		},
		dst: []distantRow{
			{},
			{Values: []int8{1, 0}, Scale: 1, Bias: 0.3, Confid: 0.4},   // id 1 = a
			{Values: []int8{0, 1}, Scale: 1, Bias: 0.15, Confid: 0.25}, // id 2 = b
			{Values: []int8{1, 1}, Scale: 1, Bias: 0.05, Confid: 0.1},  // id 3 = c
			{},
		},
		positionConfidence: []float32{0.5, 0.4, 0.35, 0.3, 0.3, 0.2, 0.15, 0.1},
		distantMask:        []bool{false, true, true, true, true},
	}
	m.computeInvNorms()
	return m
}

// TestProgressWindowedMixesDistantHistory transcribes spec.md §8.3
// scenario 6: a W=7 model whose history is [a,b,0,0,c,0,0] (the
// staging slot, index 7, starts empty) is progressed with a
// distant-mask token t. The expected log-probability is computed
// independently with the same mathx.LogSoftmax/LogSumExp calls the
// model itself uses, and the resulting state's history must reflect
// exactly the §4.G "rotate left by one if full, else write in place"
// rule -- not the unconditional shift the review caught.
func TestProgressWindowedMixesDistantHistory(t *testing.T) {
	m := buildWindowedTestModel(t)
	const a, b, c, tok = 1, 2, 3, 4

	state := NewState(m.WindowSize())
	state.History = []uint32{a, b, 0, 0, c, 0, 0, 0}
	origHistory := append([]uint32(nil), state.History...)

	got := m.Progress(&state, tok)

	ctxRow := m.ctx[0]
	outRow := m.out[tok]
	scores := make([]float32, 8)
	dots := make([]float32, 8)
	scores[0] = m.positionConfidence[0] + ctxRow.Confid
	dots[0] = dotScaled(ctxRow.Values, ctxRow.Scale, outRow.Values, outRow.Scale) + ctxRow.Bias - float32(outRow.Sum)*ctxRow.Scale*outRow.Scale
	for k, h := range origHistory[:7] {
		if h == 0 {
			scores[k+1] = float32(math.Inf(-1))
			dots[k+1] = 0
			continue
		}
		dRow := m.dst[h]
		scores[k+1] = m.positionConfidence[k+1] + dRow.Confid
		dots[k+1] = dotScaled(dRow.Values, dRow.Scale, outRow.Values, outRow.Scale) + dRow.Bias + ctxRow.ValidTokenSum
	}
	if err := mathx.LogSoftmax(scores); err != nil {
		t.Fatalf("LogSoftmax: %v", err)
	}
	combined := make([]float32, len(scores))
	for i := range combined {
		combined[i] = scores[i] + dots[i]
	}
	want, err := mathx.LogSumExp(combined)
	if err != nil {
		t.Fatalf("LogSumExp: %v", err)
	}

	if math.Abs(float64(got-want)) > 1e-4 {
		t.Fatalf("Progress = %v, want %v", got, want)
	}

	// The staging slot (index 7) was empty, so rotateHistory must write
	// t in place without shifting -- a, b, c stay at their original
	// indices. If the pre-fix unconditional shift were still present,
	// index 0 would now hold b instead of a.
	wantHistory := []uint32{a, b, 0, 0, c, 0, 0, tok}
	for i, v := range wantHistory {
		if state.History[i] != v {
			t.Fatalf("History[%d] = %d, want %d (full history %v)", i, state.History[i], v, state.History)
		}
	}
}

// TestProgressWindowedRotatesOnceStagingSlotFills exercises the
// shift branch of rotateHistory: once the staging slot is occupied, a
// second distant-mask token shifts everything left by one instead of
// overwriting in place.
func TestProgressWindowedRotatesOnceStagingSlotFills(t *testing.T) {
	m := buildWindowedTestModel(t)
	const a, b, c, tok = 1, 2, 3, 4

	state := NewState(m.WindowSize())
	state.History = []uint32{a, b, 0, 0, c, 0, 0, tok}

	m.Progress(&state, tok)

	want := []uint32{b, 0, 0, c, 0, 0, tok, tok}
	for i, v := range want {
		if state.History[i] != v {
			t.Fatalf("History[%d] = %d, want %d (full history %v)", i, state.History[i], v, state.History)
		}
	}
}

// TestProgressNoWindowStillRotatesHistory confirms a non-distant-mask
// token still updates history once the model has a window -- the
// original's history update is gated on windowSize>0 alone, not on
// whether the current token enters the distant mixture.
func TestProgressNoWindowStillRotatesHistory(t *testing.T) {
	m := buildWindowedTestModel(t)
	const a, b, c = 1, 2, 3
	m.distantMask = []bool{false, true, true, true, false} // id 4 no longer distant-masked

	state := NewState(m.WindowSize())
	state.History = []uint32{a, b, 0, 0, c, 0, 0, c}

	m.Progress(&state, 4)

	want := []uint32{b, 0, 0, c, 0, 0, c, 0} // occupied staging slot shifted, then written with 0
	for i, v := range want {
		if state.History[i] != v {
			t.Fatalf("History[%d] = %d, want %d (full history %v)", i, state.History[i], v, state.History)
		}
	}
}

func absFloat32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func maxFloat32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
