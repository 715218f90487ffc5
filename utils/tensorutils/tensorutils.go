// Package tensorutils provides utilities for working with dense
// tensors, in particular for slicing the padded [B, T, ...] batches
// produced by sequence batching.
package tensorutils

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Slice implements a struct that can be used for slicing tensors.
//
// Given a tensor T and a Slice S, T.Slice(..., S, ...) is equivalent to
// T[..., S.start:S.end:S.step, ...]
type Slice struct {
	start, end, step int
}

// Start returns the start index for the tensor slice
func (s Slice) Start() int {
	return s.start
}

// End returns the ending index for the tensor slice
func (s Slice) End() int {
	return s.end
}

// Step returns the step for the tensor slice
func (s Slice) Step() int {
	return s.step
}

// NewSlice returns a new Slice that can be used to slice tensors
func NewSlice(start, stop, step int) Slice {
	return Slice{start, stop, step}
}

// TimeSlice slices timestep t out of a padded batch of shape
// [B, T, ...], returning a contiguous tensor of shape [B, prod(...)].
// The trailing dimensions are flattened so the result can feed a
// network input node directly.
func TimeSlice(batch *tensor.Dense, t int) (*tensor.Dense, error) {
	shape := batch.Shape()
	if len(shape) < 2 {
		return nil, fmt.Errorf("timeslice: batch must have shape "+
			"[B, T, ...] \n\thave(%v)", shape)
	}
	b, steps := shape[0], shape[1]
	if t < 0 || t >= steps {
		return nil, fmt.Errorf("timeslice: timestep out of range "+
			"\n\twant([0, %v)) \n\thave(%v)", steps, t)
	}

	rest := 1
	for _, d := range shape[2:] {
		rest *= d
	}

	view, err := batch.Slice(nil, NewSlice(t, t+1, 1))
	if err != nil {
		return nil, fmt.Errorf("timeslice: %v", err)
	}
	out, ok := view.Materialize().(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("timeslice: could not materialize view "+
			"of type %T", view)
	}
	if err := out.Reshape(b, rest); err != nil {
		return nil, fmt.Errorf("timeslice: %v", err)
	}
	return out, nil
}
