package solver

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ClipNorm rescales the gradients of model in place so that their
// joint L2 norm is at most maxNorm, returning the norm before
// clipping. A maxNorm <= 0 disables clipping; the norm is still
// computed and returned for diagnostics.
func ClipNorm(model []G.ValueGrad, maxNorm float64) (float64, error) {
	grads := make([]*tensor.Dense, len(model))
	total := 0.0
	for i, vg := range model {
		grad, err := vg.Grad()
		if err != nil {
			return 0, fmt.Errorf("clipnorm: could not get gradient "+
				"%v: %v", i, err)
		}
		dense, ok := grad.(*tensor.Dense)
		if !ok {
			return 0, fmt.Errorf("clipnorm: gradient %v is not a "+
				"dense tensor (%T)", i, grad)
		}
		grads[i] = dense
		for _, g := range dense.Data().([]float64) {
			total += g * g
		}
	}

	norm := math.Sqrt(total)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm, nil
	}

	scale := maxNorm / norm
	for i, dense := range grads {
		if _, err := dense.MulScalar(scale, true,
			tensor.UseUnsafe()); err != nil {
			return 0, fmt.Errorf("clipnorm: could not scale gradient "+
				"%v: %v", i, err)
		}
	}
	return norm, nil
}
