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

// Package bitpack packs integers into a tight bit-width. The quant
// package uses it to expand int4-packed embedding nibbles to full
// bytes during requantization (§4.C).
package bitpack

import "github.com/congram-lm/congram/hwy"

// PackedSize returns the number of bytes needed to store n integers at
// the given bit width.
func PackedSize(n, bitWidth int) int {
	if bitWidth == 0 || n == 0 {
		return 0
	}
	return (n*bitWidth + 7) / 8
}

// Unpack4 expands n nibbles (4-bit unsigned values, two per source byte,
// low nibble first) into dst. This is the layout qbit==4 embedding rows
// use (§3.4/§4.C).
func Unpack4(src []byte, n int, dst []uint8) {
	for i := 0; i < n; i++ {
		b := src[i/2]
		if i%2 == 0 {
			dst[i] = b & 0x0F
		} else {
			dst[i] = b >> 4
		}
	}
}

// Pack4 packs n nibbles into dst (ceil(n/2) bytes), inverse of Unpack4.
func Pack4(src []uint8, n int, dst []byte) {
	for i := 0; i < n; i++ {
		v := src[i] & 0x0F
		if i%2 == 0 {
			dst[i/2] = v
		} else {
			dst[i/2] |= v << 4
		}
	}
}

// MaxAbs returns the maximum absolute value in src, used by requantization
// to pick an effective per-row scale. Uses hwy.Vec lanewise max on the
// absolute-value stream.
func MaxAbs(src []float32) float32 {
	if len(src) == 0 {
		return 0
	}
	lanes := hwy.MaxLanes[float32]()
	if lanes <= 1 || len(src) < lanes {
		var m float32
		for _, v := range src {
			if v < 0 {
				v = -v
			}
			if v > m {
				m = v
			}
		}
		return m
	}

	abs := make([]float32, len(src))
	for i, v := range src {
		if v < 0 {
			v = -v
		}
		abs[i] = v
	}

	acc := hwy.Load(abs)
	i := lanes
	for ; i+lanes <= len(abs); i += lanes {
		acc = hwy.Max(acc, hwy.Load(abs[i:]))
	}
	m := hwy.ReduceMax(acc)
	for ; i < len(abs); i++ {
		if abs[i] > m {
			m = abs[i]
		}
	}
	return m
}
