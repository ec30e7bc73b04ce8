package evaluator_test

import (
	"testing"

	"github.com/congram-lm/congram/congram"
	"github.com/congram-lm/congram/evaluator"
)

func TestExtendChunkAbortsOnBlocked(t *testing.T) {
	// No model is needed to exercise the blocked-tag short circuit: the
	// chunk aborts before ever calling into the model.
	blocked := func(tok uint32) bool { return tok == 1 }
	chunk := evaluator.Chunk{TokenIDs: []uint32{1, 2, 3}, Blocked: blocked}

	candidates := []evaluator.Candidate{{Kind: evaluator.KindChunked, Chunk: chunk}}
	prevPaths := []evaluator.PrevPath{{State: congram.NewState(0), Score: 0}}

	// A nil model would panic if extendChunk actually reached
	// m.Progress; since Blocked fires on the first token, Eval must
	// return no survivors for this candidate without dereferencing m.
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Eval panicked, blocked chunk should never reach the model: %v", r)
		}
	}()
	got := evaluator.Eval(nil, prevPaths, candidates, 5)
	if len(got) != 0 {
		t.Fatalf("expected no survivors for a chunk blocked on its first token, got %v", got)
	}
}
