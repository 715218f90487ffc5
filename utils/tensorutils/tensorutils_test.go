package tensorutils_test

import (
	"testing"

	"gorgonia.org/tensor"

	"github.com/thomasychen/rm-marllib/utils/tensorutils"
)

// TestTimeSlice ensures slicing a [B, T, ...] batch at a timestep
// returns that timestep's rows, flattened to [B, prod(...)].
func TestTimeSlice(t *testing.T) {
	const (
		b     = 2
		steps = 3
		n     = 2
		dim   = 2
	)
	data := make([]float64, b*steps*n*dim)
	for i := range data {
		data[i] = float64(i)
	}
	batch := tensor.New(tensor.WithShape(b, steps, n, dim),
		tensor.WithBacking(data))

	for step := 0; step < steps; step++ {
		out, err := tensorutils.TimeSlice(batch, step)
		if err != nil {
			t.Fatalf("timeslice(%v): %v", step, err)
		}
		shape := out.Shape()
		if len(shape) != 2 || shape[0] != b || shape[1] != n*dim {
			t.Fatalf("timeslice(%v): got shape %v, want (%v, %v)", step,
				shape, b, n*dim)
		}

		got := out.Data().([]float64)
		for row := 0; row < b; row++ {
			for j := 0; j < n*dim; j++ {
				want := float64((row*steps+step)*n*dim + j)
				if got[row*n*dim+j] != want {
					t.Errorf("timeslice(%v): entry (%v, %v): got %v, "+
						"want %v", step, row, j, got[row*n*dim+j], want)
				}
			}
		}
	}
}

// TestTimeSliceInvalidInput ensures out-of-range timesteps and flat
// tensors are rejected.
func TestTimeSliceInvalidInput(t *testing.T) {
	batch := tensor.New(tensor.WithShape(2, 3),
		tensor.WithBacking(make([]float64, 6)))
	if _, err := tensorutils.TimeSlice(batch, 3); err == nil {
		t.Error("timeslice: expected error for out of range timestep")
	}
	if _, err := tensorutils.TimeSlice(batch, -1); err == nil {
		t.Error("timeslice: expected error for negative timestep")
	}

	vec := tensor.New(tensor.WithShape(4),
		tensor.WithBacking(make([]float64, 4)))
	if _, err := tensorutils.TimeSlice(vec, 0); err == nil {
		t.Error("timeslice: expected error for a flat tensor")
	}
}
