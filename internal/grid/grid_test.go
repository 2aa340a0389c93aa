package grid

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestValuesOfView(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	view := m.Slice(1, 3, 1, 3).(*mat.Dense)
	got := Values(view)
	want := []float64{5, 6, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("Expected %d values, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Value %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if Sum(view) != 28 {
		t.Errorf("Expected sum 28, got %v", Sum(view))
	}
}

func TestArgMaxAndFlat(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{0, 1, 0, 0, 7, 7})
	if r, c := ArgMax(m); r != 1 || c != 1 {
		t.Errorf("Expected (1,1), got (%d,%d)", r, c)
	}
	if IsFlat(m) {
		t.Errorf("Frame with structure reported flat")
	}
	if !IsFlat(mat.NewDense(2, 2, []float64{3, 3, 3, 3})) {
		t.Errorf("Constant frame not reported flat")
	}
}
