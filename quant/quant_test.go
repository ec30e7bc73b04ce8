package quant

import (
	"math"
	"testing"

	"github.com/congram-lm/congram/hwy"
)

func TestRowFormatValidate(t *testing.T) {
	if err := (RowFormat{Dim: 8, QBit: QBit8}).Validate(); err != nil {
		t.Fatalf("QBit8 should never need qgroup: %v", err)
	}
	if err := (RowFormat{Dim: 8, QBit: QBit4, QGroup: 4}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (RowFormat{Dim: 9, QBit: QBit4, QGroup: 4}).Validate(); err == nil {
		t.Fatal("expected UnsupportedQuantError: qgroup does not divide dim")
	}
	if err := (RowFormat{Dim: 8, QBit: 3}).Validate(); err == nil {
		t.Fatal("expected UnsupportedQuantError: qbit not in {4,8}")
	}
}

func TestDequantizeInt8Row(t *testing.T) {
	scale := hwy.Float32ToFloat16(0.5)
	values := []int8{2, -4, 127}
	out := make([]float32, 3)
	DequantizeInt8Row(values, scale, out)
	want := []float32{1, -2, 63.5}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-3 {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestDequantizeInt4RowRoundTripsSign(t *testing.T) {
	format := RowFormat{Dim: 4, QBit: QBit4, QGroup: 2}
	// nibbles 15 and 0 recenter to +7 and -8 (see recentering comment).
	nibbles := []byte{0x0F, 0x0F} // low nibble 15, high nibble 0 per byte -> [15,0,15,0]
	global := hwy.Float32ToFloat16(1.0)
	localScales := []uint8{255, 255}
	out := make([]float32, 4)

	if err := DequantizeInt4Row(nibbles, format, global, localScales, out); err != nil {
		t.Fatalf("DequantizeInt4Row: %v", err)
	}
	if out[0] <= 0 {
		t.Fatalf("out[0] = %v, expected positive value from nibble 15", out[0])
	}
}

func TestDequantizeInt4RowRejectsScaleLengthMismatch(t *testing.T) {
	format := RowFormat{Dim: 4, QBit: QBit4, QGroup: 2}
	nibbles := []byte{0x0F, 0x0F}
	global := hwy.Float32ToFloat16(1.0)
	out := make([]float32, 4)
	err := DequantizeInt4Row(nibbles, format, global, []uint8{255}, out)
	if err == nil {
		t.Fatal("expected UnsupportedQuantError for localScales length mismatch")
	}
}

func TestRequantizeToInt8UsesFullRange(t *testing.T) {
	row := RequantizeToInt8([]float32{0.5, -1.0, 2.0})
	if row.Values[2] != 127 {
		t.Fatalf("max-magnitude element should saturate to 127, got %d", row.Values[2])
	}
	reconstructed := float32(row.Values[1]) * row.Scale
	if math.Abs(float64(reconstructed-(-1.0))) > 0.05 {
		t.Fatalf("reconstructed %v, want ~-1.0", reconstructed)
	}
}

func TestRequantizeToInt8AllZeros(t *testing.T) {
	row := RequantizeToInt8([]float32{0, 0, 0})
	if row.Scale != 1 {
		t.Fatalf("Scale = %v, want 1 for an all-zero row", row.Scale)
	}
	for _, v := range row.Values {
		if v != 0 {
			t.Fatalf("expected all-zero Values, got %v", row.Values)
		}
	}
}

func TestApplyVNNIBiasShiftsToUnsignedRange(t *testing.T) {
	row := Row{Values: []int8{-128, 0, 127}, Scale: 1}
	biased := ApplyVNNIBias(row)
	if !biased.Biased {
		t.Fatal("expected Biased to be set")
	}
	want := []uint8{0, 128, 255}
	for i := range want {
		if biased.Unsigned[i] != want[i] {
			t.Fatalf("Unsigned[%d] = %d, want %d", i, biased.Unsigned[i], want[i])
		}
	}
	wantSum := int32(-128+0+127) * 128
	if biased.ColSum != wantSum {
		t.Fatalf("ColSum = %d, want %d", biased.ColSum, wantSum)
	}
}
