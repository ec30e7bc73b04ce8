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

import (
	"os"
	"strconv"
	"unsafe"
)

// DispatchLevel names the SIMD instruction set the current process
// detected at startup. congram/kernel.Select maps each level onto one
// kernel.Arch tier (see §4.E of the model this repo implements) so a
// model load can pick
// a kernel family consistent with what this package would use for
// float32 dot products.
type DispatchLevel int

const (
	DispatchScalar DispatchLevel = iota
	DispatchSSE2
	DispatchAVX2
	DispatchAVX512
	DispatchNEON
)

func (d DispatchLevel) String() string {
	switch d {
	case DispatchScalar:
		return "scalar"
	case DispatchSSE2:
		return "sse2"
	case DispatchAVX2:
		return "avx2"
	case DispatchAVX512:
		return "avx512"
	case DispatchNEON:
		return "neon"
	default:
		return "unknown"
	}
}

// currentLevel and currentWidth are set once by the arch-specific init()
// in dispatch_amd64.go / dispatch_arm64.go / dispatch_other.go.
var currentLevel DispatchLevel
var currentWidth int

// CurrentLevel returns the SIMD instruction set detected for this process.
func CurrentLevel() DispatchLevel { return currentLevel }

// CurrentWidth returns the detected SIMD register width in bytes.
func CurrentWidth() int { return currentWidth }

// HasSIMD reports whether anything beyond scalar fallback was detected.
func HasSIMD() bool { return currentLevel != DispatchScalar }

// NoSimdEnv checks HWY_NO_SIMD, which forces scalar fallback regardless
// of detected CPU features. Useful for deterministic testing of the
// fallback path described in §4.E.
func NoSimdEnv() bool {
	val := os.Getenv("HWY_NO_SIMD")
	if val == "" {
		return false
	}
	if b, err := strconv.ParseBool(val); err == nil {
		return b
	}
	return true
}

// MaxLanes returns how many T values fit in the current SIMD width.
func MaxLanes[T Lanes]() int {
	var dummy T
	elementSize := int(unsafe.Sizeof(dummy))
	if elementSize == 0 {
		return 0
	}
	return currentWidth / elementSize
}
