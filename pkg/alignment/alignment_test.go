package alignment

import (
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"specklerec/internal/models"
	"specklerec/pkg/errs"
)

// createTestImage builds a reproducible textured frame
func createTestImage(rows, cols int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	m := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			m.Set(i, j, rng.Float64())
		}
	}
	return m
}

// roll circularly moves the content of m by (dy, dx)
func roll(m *mat.Dense, dy, dx int) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(((i+dy)%rows+rows)%rows, ((j+dx)%cols+cols)%cols, m.At(i, j))
		}
	}
	return out
}

// TestEstimateShiftsRecoversRoll verifies that a circular shift by (dy, dx)
// is measured as (-dy, -dx)
func TestEstimateShiftsRecoversRoll(t *testing.T) {
	base := createTestImage(32, 32, 1)
	cases := []models.Shift{{DY: 3, DX: -5}, {DY: -7, DX: 2}, {DY: 0, DX: 9}}

	for _, c := range cases {
		shifts, err := EstimateShifts([]*mat.Dense{base, roll(base, c.DY, c.DX)}, 0, 2)
		if err != nil {
			t.Fatalf("EstimateShifts failed: %v", err)
		}
		if shifts[0] != (models.Shift{}) {
			t.Errorf("Reference should receive (0,0), got %+v", shifts[0])
		}
		want := models.Shift{DY: -c.DY, DX: -c.DX}
		if shifts[1] != want {
			t.Errorf("Roll %+v: expected %+v, got %+v", c, want, shifts[1])
		}
	}
}

func TestEstimateShiftsNonZeroReference(t *testing.T) {
	base := createTestImage(24, 20, 2)
	moved := roll(base, 2, 4)
	shifts, err := EstimateShifts([]*mat.Dense{base, moved}, 1, 0)
	if err != nil {
		t.Fatalf("EstimateShifts failed: %v", err)
	}
	if shifts[1] != (models.Shift{}) || shifts[0] != (models.Shift{DY: 2, DX: 4}) {
		t.Errorf("Unexpected shifts %+v", shifts)
	}
}

func TestEstimateShiftsEdgeCases(t *testing.T) {
	flat := mat.NewDense(8, 8, nil)

	t.Run("singleton", func(t *testing.T) {
		shifts, err := EstimateShifts([]*mat.Dense{flat}, 0, 1)
		if err != nil || len(shifts) != 1 || shifts[0] != (models.Shift{}) {
			t.Errorf("Expected [(0,0)], got %v (%v)", shifts, err)
		}
	})

	t.Run("flat reference", func(t *testing.T) {
		_, err := EstimateShifts([]*mat.Dense{flat, createTestImage(8, 8, 3)}, 0, 1)
		if !errs.Is(err, errs.DegenerateSignal) {
			t.Errorf("Expected DegenerateSignal, got %v", err)
		}
	})

	t.Run("shape mismatch", func(t *testing.T) {
		_, err := EstimateShifts([]*mat.Dense{createTestImage(8, 8, 3), createTestImage(8, 9, 4)}, 0, 1)
		if !errs.Is(err, errs.ShapeMismatch) {
			t.Errorf("Expected ShapeMismatch, got %v", err)
		}
	})

	t.Run("bad reference", func(t *testing.T) {
		_, err := EstimateShifts([]*mat.Dense{flat}, 3, 1)
		if !errs.Is(err, errs.InvalidArgument) {
			t.Errorf("Expected InvalidArgument, got %v", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := EstimateShifts(nil, 0, 1); !errs.Is(err, errs.InvalidArgument) {
			t.Errorf("Expected InvalidArgument, got %v", err)
		}
	})
}

// TestPadSingleFrameSame verifies a lone frame passes through unchanged
func TestPadSingleFrameSame(t *testing.T) {
	frame := createTestImage(10, 12, 5)
	vectors, ref, err := PadVectors([]models.Shift{{}}, models.ModeSame)
	if err != nil {
		t.Fatalf("PadVectors failed: %v", err)
	}
	if vectors[0] != (models.PadVector{}) || ref != (models.PadVector{}) {
		t.Errorf("Expected zero pad vectors, got %+v and %+v", vectors[0], ref)
	}
	padded, err := Pad(frame, vectors[0], models.ModeSame, ref)
	if err != nil {
		t.Fatalf("Pad failed: %v", err)
	}
	if !mat.Equal(frame, padded) {
		t.Errorf("Single frame in same mode was modified")
	}
}

// TestCanvasOrdering verifies full >= same >= valid per axis
func TestCanvasOrdering(t *testing.T) {
	shifts := []models.Shift{{DY: 0, DX: 0}, {DY: -2, DX: 1}, {DY: 3, DX: -4}}
	_, ref, err := PadVectors(shifts, models.ModeFull)
	if err != nil {
		t.Fatalf("PadVectors failed: %v", err)
	}

	shape := map[models.Mode][2]int{}
	for _, mode := range []models.Mode{models.ModeFull, models.ModeSame, models.ModeValid} {
		r, c, err := Canvas(20, 20, ref, mode)
		if err != nil {
			t.Fatalf("Canvas(%v) failed: %v", mode, err)
		}
		shape[mode] = [2]int{r, c}
	}

	if shape[models.ModeFull] != [2]int{25, 25} {
		t.Errorf("Expected full canvas 25x25, got %v", shape[models.ModeFull])
	}
	if shape[models.ModeValid] != [2]int{15, 15} {
		t.Errorf("Expected valid canvas 15x15, got %v", shape[models.ModeValid])
	}
	for axis := 0; axis < 2; axis++ {
		if shape[models.ModeFull][axis] < shape[models.ModeSame][axis] ||
			shape[models.ModeSame][axis] < shape[models.ModeValid][axis] {
			t.Errorf("Axis %d violates full >= same >= valid: %v", axis, shape)
		}
	}

	if _, _, err := Canvas(4, 20, ref, models.ModeValid); !errs.Is(err, errs.ShapeMismatch) {
		t.Errorf("Expected ShapeMismatch for non-overlapping frames, got %v", err)
	}
	if _, _, err := Canvas(4, 4, ref, models.Mode(9)); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument for unknown mode, got %v", err)
	}
}

// TestPadAlignsContent checks that a displaced point lands on the reference
// point in every mode
func TestPadAlignsContent(t *testing.T) {
	refFrame := mat.NewDense(9, 9, nil)
	refFrame.Set(4, 4, 1)
	moved := mat.NewDense(9, 9, nil)
	moved.Set(6, 3, 1) // displaced by (2,-1), so its shift is (-2,1)

	shifts := []models.Shift{{DY: 0, DX: 0}, {DY: -2, DX: 1}}
	for _, mode := range []models.Mode{models.ModeFull, models.ModeSame, models.ModeValid} {
		vectors, ref, err := PadVectors(shifts, mode)
		if err != nil {
			t.Fatalf("PadVectors failed: %v", err)
		}
		a, err := Pad(refFrame, vectors[0], mode, ref)
		if err != nil {
			t.Fatalf("Pad failed: %v", err)
		}
		b, err := Pad(moved, vectors[1], mode, ref)
		if err != nil {
			t.Fatalf("Pad failed: %v", err)
		}
		if !mat.Equal(a, b) {
			t.Errorf("Mode %v: padded frames do not coincide", mode)
		}
		oy, ox := Origin(vectors[0], ref, mode)
		if a.At(4+oy, 4+ox) != 1 {
			t.Errorf("Mode %v: Origin (%d,%d) does not locate the reference point", mode, oy, ox)
		}
	}
}

func TestCompositor(t *testing.T) {
	c := NewCompositor(3, 3, true)
	one := mat.NewDense(3, 3, []float64{1, 1, 1, 1, 1, 1, 1, 1, 1})
	for i := 0; i < 3; i++ {
		if err := c.Accumulate(one, one); err != nil {
			t.Fatalf("Accumulate failed: %v", err)
		}
	}
	if c.Image().At(1, 1) != 3 || c.Variance().At(2, 2) != 3 {
		t.Errorf("Unexpected sums: %v %v", c.Image().At(1, 1), c.Variance().At(2, 2))
	}
	if err := c.Accumulate(mat.NewDense(2, 3, nil), nil); !errs.Is(err, errs.ShapeMismatch) {
		t.Errorf("Expected ShapeMismatch, got %v", err)
	}
	if err := c.Accumulate(one, mat.NewDense(2, 2, nil)); !errs.Is(err, errs.ShapeMismatch) {
		t.Errorf("Expected ShapeMismatch for a bad variance frame, got %v", err)
	}
	if err := c.Accumulate(one, nil); !errs.Is(err, errs.InvalidArgument) {
		t.Errorf("Expected InvalidArgument for a missing variance frame, got %v", err)
	}
	// Rejected frames leave both canvases untouched
	if c.Image().At(1, 1) != 3 || c.Variance().At(1, 1) != 3 {
		t.Errorf("Rejected frames changed the canvas: %v %v", c.Image().At(1, 1), c.Variance().At(1, 1))
	}
	if NewCompositor(2, 2, false).Variance() != nil {
		t.Errorf("Variance canvas should be nil when untracked")
	}
}
