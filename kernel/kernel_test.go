package kernel

import (
	"math"
	"testing"
)

func TestDotS8S8(t *testing.T) {
	a := []int8{1, 2, 3, -4}
	b := []int8{4, -3, 2, 1}
	got := DotS8S8(a, b)
	want := int32(1*4 + 2*-3 + 3*2 + -4*1)
	if got != want {
		t.Fatalf("DotS8S8 = %d, want %d", got, want)
	}
}

func TestInvNormS8(t *testing.T) {
	row := []int8{3, 4}
	got := InvNormS8(row)
	want := float32(1.0 / 5.0)
	if math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("InvNormS8 = %v, want %v", got, want)
	}
}

func TestGEMVMatchesManualScaling(t *testing.T) {
	in := GEMVInput{
		Rows:   [][]int8{{1, 2}, {3, 4}},
		AScale: []float32{0.5, 0.25},
		B:      []int8{2, 2},
		BScale: 1.0,
	}
	out := GEMV(in)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	want0 := float32(1*2+2*2) * 0.5 * 1.0
	if math.Abs(float64(out[0]-want0)) > 1e-5 {
		t.Fatalf("out[0] = %v, want %v", out[0], want0)
	}
}

func TestScatteredGEMM(t *testing.T) {
	a := [][]int8{{1, 1}, {2, 2}}
	b := [][]int8{{1, 0}, {0, 1}}
	c := make([]float32, 4)
	ScatteredGEMM(2, 2, 2, a, []int{0, 1}, []float32{1, 1}, []float32{0, 0}, b, []int{0, 1}, []float32{1, 1}, []int32{0, 0}, c, 2)
	// row0 = a[0]=[1,1]; dot with b[0]=[1,0] -> 1; dot with b[1]=[0,1] -> 1
	if c[0] != 1 || c[1] != 1 {
		t.Fatalf("row0 = %v, want [1 1]", c[:2])
	}
	// row1 = a[1]=[2,2]; dot with b[0] -> 2; dot with b[1] -> 2
	if c[2] != 2 || c[3] != 2 {
		t.Fatalf("row1 = %v, want [2 2]", c[2:4])
	}
}
