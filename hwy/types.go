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

// Package hwy provides portable SIMD-shaped operations with runtime CPU
// dispatch, trimmed from the go-highway project down to the subset the
// congram embedding kernels actually call: a lane-width-aware Vec[T],
// arithmetic/reduction helpers, and architecture probing.
package hwy

// FloatsNative is a constraint for Go-native floating-point types.
type FloatsNative interface {
	~float32 | ~float64
}

// Floats is a constraint for floating-point lane types.
type Floats interface {
	FloatsNative
}

// SignedInts is a constraint for signed integer lane types.
type SignedInts interface {
	~int8 | ~int16 | ~int32 | ~int64
}

// UnsignedInts is a constraint for unsigned integer lane types.
type UnsignedInts interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Integers is a constraint for all integer lane types.
type Integers interface {
	SignedInts | UnsignedInts
}

// Lanes is a constraint for every type that can live in a Vec lane.
type Lanes interface {
	Floats | Integers
}

// Vec is a portable vector handle. In the scalar fallback used by this
// repo (no GOEXPERIMENT=simd build tag is wired in) it wraps a plain
// slice; arch-specific specializations would replace the same function
// names under build tags, exactly as the teacher's ops_avx2.go/ops_neon.go
// do for the upstream library.
type Vec[T Lanes] struct {
	data []T
}

// NumLanes returns how many lanes this vector currently holds.
func (v Vec[T]) NumLanes() int {
	return len(v.data)
}

// Data exposes the underlying slice. Intended for tests and for callers
// that need to walk partial tails by hand.
func (v Vec[T]) Data() []T {
	return v.data
}

// GetLane returns the value at lane i.
func (v Vec[T]) GetLane(i int) T {
	return v.data[i]
}
