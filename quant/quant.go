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

// Package quant implements component C, the two embedding-row quantized
// formats: per-row int8 (a scale per row) and grouped int4 (a global
// scale plus per-group local scales), with helpers to requantize rows to
// int8/uint8 so the arch kernels (kernel package) only see one integer
// width. congram.FromBytes does not call this package: it reads every
// embedding row as dim int8 values, whatever qbit the header declares.
package quant

import (
	"fmt"

	"github.com/congram-lm/congram/hwy"
	"github.com/congram-lm/congram/hwy/contrib/bitpack"
)

// QBit is the per-row storage width, either 4 (grouped) or 8 (per-row).
type QBit int

const (
	QBit4 QBit = 4
	QBit8 QBit = 8
)

// UnsupportedQuantError reports a qbit/qgroup combination the reader
// cannot decode (§4.C: "Unsupported combinations fail with
// UnsupportedQuantError").
type UnsupportedQuantError struct {
	QBit   QBit
	QGroup int
	Dim    int
	Reason string
}

func (e *UnsupportedQuantError) Error() string {
	return fmt.Sprintf("quant: unsupported qbit=%d qgroup=%d dim=%d: %s", e.QBit, e.QGroup, e.Dim, e.Reason)
}

// RowFormat describes the quantized layout shared by every row of an
// embedding block.
type RowFormat struct {
	Dim    int
	QBit   QBit
	QGroup int // only meaningful when QBit == QBit4
}

// Validate checks the qbit/qgroup/dim combination named in §4.C:
// qgroup must divide dim, qbit must be in {4,8}.
func (f RowFormat) Validate() error {
	switch f.QBit {
	case QBit8:
		return nil
	case QBit4:
		if f.QGroup <= 0 {
			return &UnsupportedQuantError{QBit: f.QBit, QGroup: f.QGroup, Dim: f.Dim, Reason: "qgroup must be positive"}
		}
		if f.Dim%f.QGroup != 0 {
			return &UnsupportedQuantError{QBit: f.QBit, QGroup: f.QGroup, Dim: f.Dim, Reason: "qgroup must divide dim"}
		}
		return nil
	default:
		return &UnsupportedQuantError{QBit: f.QBit, QGroup: f.QGroup, Dim: f.Dim, Reason: "qbit must be 4 or 8"}
	}
}

// NumGroups returns dim/qgroup for a QBit4 format.
func (f RowFormat) NumGroups() int {
	if f.QBit != QBit4 {
		return 0
	}
	return f.Dim / f.QGroup
}

// RawRowSize returns the on-disk byte length of one row in this format,
// not counting the scale fields which are stored in a separate plane
// per §6.1.
func (f RowFormat) RawRowSize() int {
	if f.QBit == QBit8 {
		return f.Dim
	}
	return bitpack.PackedSize(f.Dim, 4)
}

// Row is a requantized embedding row: int8 values plus the effective
// per-row scale (global*local merged for int4) and, when Biased is
// set, the +128 signed->unsigned shift already applied together with
// the precomputed column-sum compensation term (§4.C last paragraph).
type Row struct {
	Values   []int8
	Scale    float32
	Biased   bool
	Unsigned []uint8 // populated instead of Values when Biased
	ColSum   int32   // sum(Values) * 128, subtracted by the kernel when Biased
}

// DequantizeInt8Row expands a per-row int8 row (§4.C format 1) to
// float32: dequant = int8 * halfToFloat(scale).
func DequantizeInt8Row(values []int8, scale hwy.Float16, out []float32) {
	s := hwy.Float16ToFloat32(scale)
	for i, v := range values {
		out[i] = float32(v) * s
	}
}

// DequantizeInt4Row expands a grouped int4 row (§4.C format 2) to
// float32. nibbles holds dim/2 packed bytes, localScales holds
// dim/qgroup uint8 per-group scales, globalScale is the row-level fp16
// scale. Effective per-element scale is globalScale * localScales[g]/255
// normalized the way the reference stores local scales: a uint8 scale
// is a fraction of the global scale's dynamic range.
func DequantizeInt4Row(nibbles []byte, format RowFormat, globalScale hwy.Float16, localScales []uint8, out []float32) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if len(localScales) != format.NumGroups() {
		return &UnsupportedQuantError{QBit: format.QBit, QGroup: format.QGroup, Dim: format.Dim, Reason: "localScales length mismatch"}
	}
	g := hwy.Float16ToFloat32(globalScale)
	nib := make([]uint8, format.Dim)
	bitpack.Unpack4(nibbles, format.Dim, nib)
	for i := 0; i < format.Dim; i++ {
		group := i / format.QGroup
		local := float32(localScales[group]) / 255.0
		signed := int8(nib[i]) - 8 // nibble range [0,15] recentered to [-8,7]
		out[i] = float32(signed) * g * local
	}
	return nil
}

// RequantizeToInt8 converts a dequantized float32 row back to a single
// int8 row plus effective scale, the format the kernel package always
// operates on regardless of how the row was stored on disk. The scale
// is picked from the row's max absolute value so the full int8 range
// is used.
func RequantizeToInt8(values []float32) Row {
	maxAbs := bitpack.MaxAbs(values)
	if maxAbs == 0 {
		return Row{Values: make([]int8, len(values)), Scale: 1}
	}
	scale := maxAbs / 127.0
	out := make([]int8, len(values))
	for i, v := range values {
		q := v / scale
		if q > 127 {
			q = 127
		} else if q < -127 {
			q = -127
		}
		out[i] = int8(q)
	}
	return Row{Values: out, Scale: scale}
}

// ApplyVNNIBias shifts a signed int8 row to unsigned by adding 128 to
// every element (so it can feed a u8xi8->i32 VNNI-style dot product)
// and precomputes the column-sum compensation term the kernel must
// subtract back out, per §4.C's last paragraph.
func ApplyVNNIBias(row Row) Row {
	out := make([]uint8, len(row.Values))
	var sum int32
	for i, v := range row.Values {
		out[i] = uint8(int16(v) + 128)
		sum += int32(v)
	}
	row.Unsigned = out
	row.Biased = true
	row.ColSum = sum * 128
	return row
}
