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

// Package mathx implements component D, the numerically stable
// log-sum-exp and log-softmax primitives used to combine context and
// distant-history scores (§4.D, §4.G). The scalar formulas mirror
// MathFunc.hpp's ArchType::none path exactly; the reduction loops are
// plain scalar Go with no hwy vector ops, and there is one
// implementation per operation rather than one per Arch tag.
package mathx

import (
	"fmt"
	"math"
	"strings"
)

// UnsupportedSizeError reports a vector length this package has no
// kernel for (§4.D: "other sizes fail with UnsupportedSizeError").
type UnsupportedSizeError struct {
	Size int
	Op   string
}

func (e *UnsupportedSizeError) Error() string {
	supported := "8 and 16 are"
	if strings.HasSuffix(e.Op, "Transposed") {
		supported = "8 is"
	}
	return fmt.Sprintf("mathx: %s: unsupported size %d (only %s supported)", e.Op, e.Size, supported)
}

func validSize(n int) bool { return n == 8 || n == 16 }

// LogSumExp returns log(sum(exp(v))), computed by subtracting the max
// element before exponentiating for numerical stability.
func LogSumExp(v []float32) (float32, error) {
	if !validSize(len(v)) {
		return 0, &UnsupportedSizeError{Size: len(v), Op: "LogSumExp"}
	}
	maxVal := v[0]
	for _, x := range v[1:] {
		if x > maxVal {
			maxVal = x
		}
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(float64(x - maxVal))
	}
	return float32(math.Log(sum)) + maxVal, nil
}

// LogSoftmax rewrites v in place so that v[i] <- v[i] - LogSumExp(v).
func LogSoftmax(v []float32) error {
	if !validSize(len(v)) {
		return &UnsupportedSizeError{Size: len(v), Op: "LogSoftmax"}
	}
	maxVal := v[0]
	for _, x := range v[1:] {
		if x > maxVal {
			maxVal = x
		}
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(float64(x - maxVal))
	}
	shift := maxVal + float32(math.Log(sum))
	for i := range v {
		v[i] -= shift
	}
	return nil
}

// LogSumExpTransposed computes, for each of batchSize columns strided
// by stride within an 8-row block starting at arr, the log-sum-exp
// across the 8 rows, writing the result back into the block's first
// row (arr[col*1], i.e. arr[i]). Only an 8-row block is supported,
// matching the reference's LogSumExpTransposed<archType,8> specialization.
func LogSumExpTransposed(arr []float32, rows, batchSize, stride int) error {
	if rows != 8 {
		return &UnsupportedSizeError{Size: rows, Op: "LogSumExpTransposed"}
	}
	for col := 0; col < batchSize; col++ {
		base := col
		maxVal := float32(math.Inf(-1))
		for r := 0; r < 8; r++ {
			v := arr[base+r*stride]
			if v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for r := 0; r < 8; r++ {
			sum += math.Exp(float64(arr[base+r*stride] - maxVal))
		}
		arr[base] = float32(math.Log(sum)) + maxVal
	}
	return nil
}

// LogSoftmaxTransposed computes, for each of batchSize columns strided
// by stride within an 8-row block starting at arr, log-softmax across
// the 8 rows, writing every row of the column back in place. Only an
// 8-row block is supported.
func LogSoftmaxTransposed(arr []float32, rows, batchSize, stride int) error {
	if rows != 8 {
		return &UnsupportedSizeError{Size: rows, Op: "LogSoftmaxTransposed"}
	}
	for col := 0; col < batchSize; col++ {
		base := col
		maxVal := float32(math.Inf(-1))
		for r := 0; r < 8; r++ {
			v := arr[base+r*stride]
			if v > maxVal {
				maxVal = v
			}
		}
		var sum float64
		for r := 0; r < 8; r++ {
			sum += math.Exp(float64(arr[base+r*stride] - maxVal))
		}
		shift := maxVal + float32(math.Log(sum))
		for r := 0; r < 8; r++ {
			arr[base+r*stride] -= shift
		}
	}
	return nil
}
