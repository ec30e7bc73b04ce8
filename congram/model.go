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
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/congram-lm/congram/hwy"
	"github.com/congram-lm/congram/hwy/contrib/varint"
	"github.com/congram-lm/congram/kernel"
	"github.com/congram-lm/congram/mathx"
	"github.com/congram-lm/congram/trie"
)

// contextRow is one decoded, load-time-expanded row of the context
// embedding arena (§3.4): a requantized int8 vector plus its scalar
// metadata, all stored as float32 even though the on-disk encoding is
// fp16 (§6.1).
type contextRow struct {
	Values        []int8
	Scale         float32
	Bias          float32
	Confid        float32
	ValidTokenSum float32
}

type outputRow struct {
	Values []int8
	Scale  float32
	Sum    int32
}

type distantRow struct {
	Values []int8
	Scale  float32
	Bias   float32
	Confid float32
}

// Model is the immutable, load-once container described by §4.G. It
// is safe to share across goroutines: nothing here is mutated after
// FromBytes returns (§5 "Shared state").
type Model struct {
	hdr Header
	t   *trie.Trie
	ctx []contextRow
	out []outputRow
	dst []distantRow

	positionConfidence []float32
	distantMask        []bool

	invNormContext []float32
	invNormOutput  []float32

	arch kernel.Arch
}

// WindowSize is the W in §3.5/§4.G ("0 disables the distant-history mixture").
func (m *Model) WindowSize() int { return int(m.hdr.WindowSize) }

// Dim is the embedding dimensionality every row in every arena shares.
func (m *Model) Dim() int { return int(m.hdr.Dim) }

// VocabSize is the declared vocabulary size (§3.1).
func (m *Model) VocabSize() int { return int(m.hdr.VocabSize) }

// ContextSize is the declared number of distinct context ids (§3.1).
func (m *Model) ContextSize() int { return int(m.hdr.ContextSize) }

// Arch reports the kernel family this container selected at load time.
func (m *Model) Arch() kernel.Arch { return m.arch }

// FromBytes parses, validates and loads a serialized model (§6.1,
// §6.2 "Model::loadFromMemory"). archHint, when non-zero, pins the
// kernel family instead of letting Select() probe the host.
func FromBytes(data []byte, archHint kernel.Arch) (*Model, error) {
	hdr, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	nodeSizes, err := decodeSection(data, hdr.NodeOffset, int(hdr.NumNodes))
	if err != nil {
		return nil, err
	}
	labels, err := decodeSection(data, hdr.KeyOffset, int(hdr.NumNodes)-1)
	if err != nil {
		return nil, err
	}
	values, err := decodeSection(data, hdr.ValueOffset, int(hdr.NumNodes))
	if err != nil {
		return nil, err
	}

	t, err := trie.Build(trie.BuildInput{
		NodeSizes: nodeSizes,
		Labels:    labels,
		Values:    values,
		VocabSize: hdr.VocabSize,
	})
	if err != nil {
		return nil, trieCorruptAdapter(err)
	}

	m := &Model{hdr: hdr, t: t}

	arch := archHint
	if arch == kernel.ArchNone {
		arch = kernel.Select()
	}
	m.arch = arch
	if !hwy.HasSIMD() && hdr.QBit != 0 {
		slog.Warn("congram: SIMD unavailable on host, falling back to scalar quantized kernels", "qbit", hdr.QBit)
	}

	if err := m.loadEmbeddings(data); err != nil {
		return nil, err
	}
	m.computeInvNorms()
	return m, nil
}

// decodeSection reads a StreamVByte-encoded uint32 array of length n
// starting at the given byte offset within data. The control plane is
// ceil(n/4) bytes; the data plane follows immediately, and its length
// is recovered from the control bytes themselves (§6.1).
func decodeSection(data []byte, offset uint64, n int) ([]uint32, error) {
	if n <= 0 {
		return nil, nil
	}
	off := int(offset)
	if off < 0 || off > len(data) {
		return nil, &CorruptModelError{Reason: "section offset out of range"}
	}
	controlLen := (n + 3) / 4
	if off+controlLen > len(data) {
		return nil, &CorruptModelError{Reason: "control plane overruns buffer"}
	}
	control := data[off : off+controlLen]
	dataLen := varint.DataLen(control, n)
	dataStart := off + controlLen
	if dataStart+dataLen > len(data) {
		return nil, &CorruptModelError{Reason: "data plane overruns buffer"}
	}
	return varint.Decode(control, data[dataStart:dataStart+dataLen], n), nil
}

func (m *Model) loadEmbeddings(data []byte) error {
	dim := int(m.hdr.Dim)
	windowed := m.hdr.WindowSize > 0
	off := int(m.hdr.EmbOffset)

	m.ctx = make([]contextRow, m.hdr.ContextSize)
	for i := range m.ctx {
		row, next, err := readContextRow(data, off, dim, windowed)
		if err != nil {
			return err
		}
		m.ctx[i] = row
		off = next
	}

	m.out = make([]outputRow, m.hdr.VocabSize)
	for i := range m.out {
		row, next, err := readOutputRow(data, off, dim)
		if err != nil {
			return err
		}
		m.out[i] = row
		off = next
	}

	if windowed {
		m.dst = make([]distantRow, m.hdr.VocabSize)
		for i := range m.dst {
			row, next, err := readDistantRow(data, off, dim)
			if err != nil {
				return err
			}
			m.dst[i] = row
			off = next
		}

		m.positionConfidence = make([]float32, int(m.hdr.WindowSize)+1)
		for i := range m.positionConfidence {
			if off+2 > len(data) {
				return &CorruptModelError{Reason: "positionConfidence overruns buffer"}
			}
			m.positionConfidence[i] = hwy.Float16ToFloat32(hwy.Float16(binary.LittleEndian.Uint16(data[off : off+2])))
			off += 2
		}

		maskLen := (int(m.hdr.VocabSize) + 7) / 8
		if off+maskLen > len(data) {
			return &CorruptModelError{Reason: "distantMask overruns buffer"}
		}
		m.distantMask = make([]bool, m.hdr.VocabSize)
		for i := range m.distantMask {
			m.distantMask[i] = data[off+i/8]&(1<<(uint(i)%8)) != 0
		}
	}
	return nil
}

func readFloat16(data []byte, off int) (float32, int, error) {
	if off+2 > len(data) {
		return 0, 0, &CorruptModelError{Reason: "embedding arena overruns buffer"}
	}
	return hwy.Float16ToFloat32(hwy.Float16(binary.LittleEndian.Uint16(data[off : off+2]))), off + 2, nil
}

func readContextRow(data []byte, off, dim int, windowed bool) (contextRow, int, error) {
	if off+dim > len(data) {
		return contextRow{}, 0, &CorruptModelError{Reason: "context row overruns buffer"}
	}
	values := make([]int8, dim)
	for i := 0; i < dim; i++ {
		values[i] = int8(data[off+i])
	}
	off += dim

	scale, off, err := readFloat16(data, off)
	if err != nil {
		return contextRow{}, 0, err
	}
	bias, off, err := readFloat16(data, off)
	if err != nil {
		return contextRow{}, 0, err
	}
	row := contextRow{Values: values, Scale: scale, Bias: bias}
	if windowed {
		row.Confid, off, err = readFloat16(data, off)
		if err != nil {
			return contextRow{}, 0, err
		}
		row.ValidTokenSum, off, err = readFloat16(data, off)
		if err != nil {
			return contextRow{}, 0, err
		}
	}
	return row, off, nil
}

func readOutputRow(data []byte, off, dim int) (outputRow, int, error) {
	if off+dim > len(data) {
		return outputRow{}, 0, &CorruptModelError{Reason: "output row overruns buffer"}
	}
	values := make([]int8, dim)
	for i := 0; i < dim; i++ {
		values[i] = int8(data[off+i])
	}
	off += dim
	scale, off, err := readFloat16(data, off)
	if err != nil {
		return outputRow{}, 0, err
	}
	if off+4 > len(data) {
		return outputRow{}, 0, &CorruptModelError{Reason: "output row sum overruns buffer"}
	}
	sum := int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	return outputRow{Values: values, Scale: scale, Sum: sum}, off, nil
}

func readDistantRow(data []byte, off, dim int) (distantRow, int, error) {
	if off+dim > len(data) {
		return distantRow{}, 0, &CorruptModelError{Reason: "distant row overruns buffer"}
	}
	values := make([]int8, dim)
	for i := 0; i < dim; i++ {
		values[i] = int8(data[off+i])
	}
	off += dim
	scale, off, err := readFloat16(data, off)
	if err != nil {
		return distantRow{}, 0, err
	}
	bias, off, err := readFloat16(data, off)
	if err != nil {
		return distantRow{}, 0, err
	}
	confid, off, err := readFloat16(data, off)
	if err != nil {
		return distantRow{}, 0, err
	}
	_, off, err = readFloat16(data, off) // pad
	if err != nil {
		return distantRow{}, 0, err
	}
	return distantRow{Values: values, Scale: scale, Bias: bias, Confid: confid}, off, nil
}

func (m *Model) computeInvNorms() {
	m.invNormContext = make([]float32, len(m.ctx))
	for i, r := range m.ctx {
		m.invNormContext[i] = kernel.InvNormS8(r.Values)
	}
	m.invNormOutput = make([]float32, len(m.out))
	for i, r := range m.out {
		m.invNormOutput[i] = kernel.InvNormS8(r.Values)
	}
}

// dotScaled computes the scaled int8 dot product <a,b>*aScale*bScale,
// the common term of every scoring path in §4.G.
func dotScaled(a []int8, aScale float32, b []int8, bScale float32) float32 {
	return float32(kernel.DotS8S8(a, b)) * aScale * bScale
}

// Progress implements §4.G's single-step scoring: it mutates state in
// place (node, ctxIdx, rotated history) and returns the
// log-probability of `next` given the state's history.
func (m *Model) Progress(state *State, next uint32) float32 {
	W := int(m.hdr.WindowSize)
	if W == 0 || !m.distantMask[next] {
		return m.progressNoWindow(state, next)
	}
	return m.progressWindowed(state, next)
}

func (m *Model) progressNoWindow(state *State, next uint32) float32 {
	ctxRow := m.ctx[state.CtxIdx]
	outRow := m.out[next]
	logProb := dotScaled(ctxRow.Values, ctxRow.Scale, outRow.Values, outRow.Scale) + ctxRow.Bias - float32(outRow.Sum)*ctxRow.Scale*outRow.Scale
	state.CtxIdx = m.t.Progress(&state.Node, next)
	// History still rotates every step once the model has a window, even
	// on a step whose token doesn't itself enter the distant mixture
	// (CoNgramModel.cpp's history update is gated by windowSize>0 alone,
	// not by validDistantToken).
	if m.hdr.WindowSize > 0 {
		state.rotateHistory(next, m.distantMask[next])
	}
	return logProb
}

func (m *Model) progressWindowed(state *State, next uint32) float32 {
	W := int(m.hdr.WindowSize)
	ctxRow := m.ctx[state.CtxIdx]
	outRow := m.out[next]

	scores := make([]float32, W+1)
	dots := make([]float32, W+1)

	scores[0] = m.positionConfidence[0] + ctxRow.Confid
	dots[0] = dotScaled(ctxRow.Values, ctxRow.Scale, outRow.Values, outRow.Scale) + ctxRow.Bias - float32(outRow.Sum)*ctxRow.Scale*outRow.Scale

	for k := 0; k < W; k++ {
		h := state.History[k]
		if h == 0 {
			scores[k+1] = float32(math.Inf(-1))
			dots[k+1] = 0
			continue
		}
		dRow := m.dst[h]
		scores[k+1] = m.positionConfidence[k+1] + dRow.Confid
		dots[k+1] = dotScaled(dRow.Values, dRow.Scale, outRow.Values, outRow.Scale) + dRow.Bias + ctxRow.ValidTokenSum
	}

	// logSoftmax only supports sizes 8/16 (§4.D); W is fixed at 7 in the
	// closed set (§7: windowSize in {0,7}), giving exactly 8 mixture slots.
	if err := mathx.LogSoftmax(scores); err != nil {
		// Only reachable if a model declares an unsupported windowSize;
		// header validation already rejects that, so fall back to a
		// direct (unmixed) score rather than panicking on the hot path.
		logProb := dots[0]
		state.rotateHistory(next, m.distantMask[next])
		state.CtxIdx = m.t.Progress(&state.Node, next)
		return logProb
	}

	combined := make([]float32, len(scores))
	for i := range combined {
		combined[i] = scores[i] + dots[i]
	}
	logProb, err := mathx.LogSumExp(combined)
	if err != nil {
		logProb = dots[0]
	}

	state.rotateHistory(next, m.distantMask[next])
	state.CtxIdx = m.t.Progress(&state.Node, next)
	return logProb
}
