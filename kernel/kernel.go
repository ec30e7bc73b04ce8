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

// Package kernel implements component E, the arch-specialized scattered
// GEMM/GEMV family: matrix multiplies whose operand rows are selected
// by index arrays rather than laid out contiguously. The model
// container records one Arch at load time (via Select or a caller
// hint); every operation here has a single scalar implementation that
// runs whatever Arch was recorded, and there is no per-Arch function
// table.
package kernel

import (
	"fmt"
	"math"

	"github.com/congram-lm/congram/hwy"
)

// Arch names one member of the closed set of architecture tiers the
// container can dispatch a kernel to (§4.E). Because Go has no
// zero-cost template specialization, every tier below the host's
// actual hwy.DispatchLevel collapses to the nearest one this package
// implements (see SPEC_FULL.md's Open Question resolution on arch
// tiers): the finer C++ tiers still name a slot in this enum so
// callers and tests can name every tier, but Select always
// returns Scalar or the single vectorized tier hwy reports.
type Arch int

const (
	ArchNone Arch = iota
	ArchBalanced
	ArchSSE2
	ArchSSE41
	ArchAVX2
	ArchAVXVNNI
	ArchAVX512BW
	ArchAVX512VNNI
	ArchNEON
)

func (a Arch) String() string {
	switch a {
	case ArchNone:
		return "none"
	case ArchBalanced:
		return "balanced"
	case ArchSSE2:
		return "sse2"
	case ArchSSE41:
		return "sse4.1"
	case ArchAVX2:
		return "avx2"
	case ArchAVXVNNI:
		return "avxVnni"
	case ArchAVX512BW:
		return "avx512bw"
	case ArchAVX512VNNI:
		return "avx512vnni"
	case ArchNEON:
		return "neon"
	default:
		return "unknown"
	}
}

// UnsupportedArchError reports that no matching SIMD implementation
// exists and the fp32 fallback is also unavailable (§7).
type UnsupportedArchError struct {
	Requested Arch
}

func (e *UnsupportedArchError) Error() string {
	return fmt.Sprintf("kernel: no usable implementation for arch %s", e.Requested)
}

// Select maps the host's detected hwy.DispatchLevel onto the nearest
// Arch this package actually implements a distinct kernel for.
func Select() Arch {
	switch hwy.CurrentLevel() {
	case hwy.DispatchAVX512:
		return ArchAVX512BW
	case hwy.DispatchAVX2:
		return ArchAVX2
	case hwy.DispatchSSE2:
		return ArchSSE2
	case hwy.DispatchNEON:
		return ArchNEON
	default:
		return ArchNone
	}
}

// DotS8S8 computes the exact int32 dot product of two equal-length
// int8 vectors with no implicit saturation beyond int8 multiply-add
// accumulating into int32 (§4.E numerical contract).
func DotS8S8(a, b []int8) int32 {
	var sum int32
	for i := range a {
		sum += int32(a[i]) * int32(b[i])
	}
	return sum
}

// DotU8U8 is DotS8S8's unsigned counterpart, used on the VNNI-biased
// activation side (§4.C).
func DotU8U8(a, b []uint8) int32 {
	var sum int32
	for i := range a {
		sum += int32(a[i]) * int32(b[i])
	}
	return sum
}

// InvNormS8 returns the inverse L2 norm of an int8 row, used to
// populate invNormContext/invNormOutput (§3.4) for similarity queries.
func InvNormS8(row []int8) float32 {
	var sumSq int64
	for _, v := range row {
		sumSq += int64(v) * int64(v)
	}
	if sumSq == 0 {
		return 0
	}
	return 1.0 / float32(isqrt(sumSq))
}

// InvNormU8 is InvNormS8's unsigned counterpart.
func InvNormU8(row []uint8) float32 {
	var sumSq int64
	for _, v := range row {
		sumSq += int64(v) * int64(v)
	}
	if sumSq == 0 {
		return 0
	}
	return 1.0 / float32(isqrt(sumSq))
}

func isqrt(v int64) float64 {
	return math.Sqrt(float64(v))
}

// GEMVInput bundles one scattered GEMV call's operands: a set of rows
// (A) gathered by aIdx, a single candidate row B, and the quantization
// metadata needed to recover a float32 result from an int32 dot
// product (§4.E's scaled-dot-product formula).
type GEMVInput struct {
	Rows    [][]int8
	AScale  []float32
	AColSum []int32 // VNNI compensation term, 0 when not bias-shifted
	AIsU8   [][]uint8
	B       []int8
	BScale  float32
	BSum    int32 // precomputed bias term folded into the output row (§3.4 "int32 pre-summed bias")
}

// GEMV computes, for every row i in in.Rows (or in.AIsU8), the scaled
// quantized dot product against B: (dot(A[i],B) - aColSum[i]) *
// aScale[i]*bScale + bSum*bScale, where aColSum only applies on the
// AIsU8 path. This realizes
// scatteredGEMV/gemvS8S8/gemvU8U8 as one loop since Go's runtime
// dispatch already amortizes the branch the C++ Arch-tag family pays
// for at compile time per architecture.
func GEMV(in GEMVInput) []float32 {
	n := len(in.Rows)
	if n == 0 {
		n = len(in.AIsU8)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var dot int32
		if in.AIsU8 != nil {
			dot = DotU8U8(in.AIsU8[i], toUint8(in.B))
			dot -= in.AColSum[i]
		} else {
			dot = DotS8S8(in.Rows[i], in.B)
		}
		scale := in.AScale[i] * in.BScale
		out[i] = float32(dot)*scale + float32(in.BSum)*in.BScale
	}
	return out
}

func toUint8(b []int8) []uint8 {
	out := make([]uint8, len(b))
	for i, v := range b {
		out[i] = uint8(int16(v) + 128)
	}
	return out
}

// ScatteredGEMM computes C[i,j] = (dot(A[aIdx[i]], B[bIdx[j]]) -
// hsum[j]) * aScale[i] * bScale[j] + aBias[i] for the quantized path
// (§4.E). C is row-major with stride ldc; callers own its allocation
// so repeated calls can reuse thread-local scratch (§5).
func ScatteredGEMM(m, n, k int, a [][]int8, aIdx []int, aScale, aBias []float32, b [][]int8, bIdx []int, bScale []float32, hsum []int32, c []float32, ldc int) {
	for i := 0; i < m; i++ {
		ai := a[aIdx[i]]
		for j := 0; j < n; j++ {
			bj := b[bIdx[j]]
			dot := DotS8S8(ai[:k], bj[:k])
			c[i*ldc+j] = (float32(dot)-float32(hsum[j]))*aScale[i]*bScale[j] + aBias[i]
		}
	}
}
