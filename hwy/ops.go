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

package hwy

// This file holds the scalar (no GOEXPERIMENT=simd) implementations of
// the handful of Highway ops the embedding kernels need. A real SIMD
// build would replace these under arch-specific build tags, same as
// upstream's ops_avx2.go/ops_neon.go do for the rest of the library;
// this repo carries no hand-written assembly, so these scalar loops are
// what every caller runs.

// Load reads up to MaxLanes[T]() elements from src into a new vector.
func Load[T Lanes](src []T) Vec[T] {
	n := min(len(src), MaxLanes[T]())
	data := make([]T, n)
	copy(data, src[:n])
	return Vec[T]{data: data}
}

// Store writes v's lanes into dst.
func Store[T Lanes](v Vec[T], dst []T) {
	n := min(len(dst), len(v.data))
	copy(dst[:n], v.data[:n])
}

// Set fills every lane with value.
func Set[T Lanes](value T) Vec[T] {
	n := MaxLanes[T]()
	data := make([]T, n)
	for i := range data {
		data[i] = value
	}
	return Vec[T]{data: data}
}

// Zero returns a vector of zero-valued lanes.
func Zero[T Lanes]() Vec[T] {
	return Set[T](0)
}

func elementwise[T Lanes](a, b Vec[T], f func(T, T) T) Vec[T] {
	n := min(len(a.data), len(b.data))
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = f(a.data[i], b.data[i])
	}
	return Vec[T]{data: out}
}

// Add returns a+b lanewise.
func Add[T Lanes](a, b Vec[T]) Vec[T] {
	return elementwise(a, b, func(x, y T) T { return x + y })
}

// Sub returns a-b lanewise.
func Sub[T Lanes](a, b Vec[T]) Vec[T] {
	return elementwise(a, b, func(x, y T) T { return x - y })
}

// Mul returns a*b lanewise.
func Mul[T Lanes](a, b Vec[T]) Vec[T] {
	return elementwise(a, b, func(x, y T) T { return x * y })
}

// Max returns the lanewise maximum.
func Max[T Lanes](a, b Vec[T]) Vec[T] {
	return elementwise(a, b, func(x, y T) T {
		if y > x {
			return y
		}
		return x
	})
}

// And returns the lanewise bitwise AND (integer lanes only in practice;
// defined generically to match upstream's shape).
func And[T Integers](a, b Vec[T]) Vec[T] {
	return elementwise(a, b, func(x, y T) T { return x & y })
}

// ReduceSum sums all lanes.
func ReduceSum[T Lanes](v Vec[T]) T {
	var sum T
	for _, x := range v.data {
		sum += x
	}
	return sum
}

// ReduceMax returns the largest lane value.
func ReduceMax[T Lanes](v Vec[T]) T {
	m := v.data[0]
	for _, x := range v.data[1:] {
		if x > m {
			m = x
		}
	}
	return m
}
