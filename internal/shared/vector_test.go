package shared

import (
	"math"
	"testing"
)

func TestCloneVectorDetaches(t *testing.T) {
	src := []float64{1, 2, 3}
	dst := CloneVector(src)

	dst[0] = 99
	if src[0] != 1 {
		t.Errorf("clone aliased source: src[0] = %v", src[0])
	}
	if len(dst) != len(src) {
		t.Errorf("expected length %d, got %d", len(src), len(dst))
	}
}

func TestCloneVectorNilStaysNil(t *testing.T) {
	if CloneVector(nil) != nil {
		t.Error("expected nil clone for nil input")
	}
}

func TestOnesVector(t *testing.T) {
	v := OnesVector(4)
	for i, x := range v {
		if x != 1 {
			t.Errorf("entry %d: expected 1, got %v", i, x)
		}
	}
}

func TestAllFinite(t *testing.T) {
	cases := []struct {
		name string
		v    []float64
		want bool
	}{
		{"plain", []float64{0, -1.5, 2}, true},
		{"empty", nil, true},
		{"nan", []float64{1, math.NaN()}, false},
		{"posinf", []float64{math.Inf(1)}, false},
		{"neginf", []float64{math.Inf(-1)}, false},
	}
	for _, c := range cases {
		if got := AllFinite(c.v); got != c.want {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, got)
		}
	}
}

func TestSameLen(t *testing.T) {
	if !SameLen([]float64{1, 2}, []float64{3, 4}) {
		t.Error("equal lengths reported as mismatched")
	}
	if SameLen([]float64{1, 2}, []float64{3}) {
		t.Error("mismatched lengths reported as equal")
	}
	if !SameLen() {
		t.Error("empty argument list should be consistent")
	}
}

func TestAddVectors(t *testing.T) {
	got := AddVectors([]float64{1, 2, 3}, []float64{10, 20, 30})
	want := []float64{11, 22, 33}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestArgMax(t *testing.T) {
	if got := ArgMax([]float64{0.1, 0.9, 0.5}); got != 1 {
		t.Errorf("expected index 1, got %d", got)
	}
	if got := ArgMax(nil); got != -1 {
		t.Errorf("expected -1 for empty vector, got %d", got)
	}
	// Ties resolve low.
	if got := ArgMax([]float64{2, 2}); got != 0 {
		t.Errorf("expected index 0 on tie, got %d", got)
	}
}
