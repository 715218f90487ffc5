package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// StepRunner runs an estimator one timestep at a time outside any
// gradient computation. It owns the estimator's input nodes and a
// TapeMachine over the estimator's graph, and exposes a purely numeric
// Forward. Unrolling a sequence through a StepRunner step by step
// carries the recurrent state exactly as an in-graph unroll does.
//
// The wrapped estimator must be alone on its graph: construct it on a
// fresh graph, then wrap it before adding anything else.
type StepRunner struct {
	est Estimator

	obsIn    *G.Node
	hiddenIn *G.Node

	qVal      G.Value
	hiddenVal G.Value

	vm G.VM
}

// NewStepRunner wraps est, adding its input nodes and forward pass to
// the estimator's graph and compiling a VM over it.
func NewStepRunner(est Estimator) (*StepRunner, error) {
	g := est.Graph()
	obsIn := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(est.BatchSize(), est.Features()),
		G.WithName("obs"),
		G.WithInit(G.Zeroes()),
	)
	hiddenIn := G.NewMatrix(
		g,
		tensor.Float64,
		G.WithShape(est.BatchSize(), est.HiddenSize()),
		G.WithName("hidden"),
		G.WithInit(G.Zeroes()),
	)

	q, hidden, err := est.Step(obsIn, hiddenIn)
	if err != nil {
		return nil, fmt.Errorf("newsteprunner: could not build "+
			"forward pass: %v", err)
	}

	r := &StepRunner{est: est, obsIn: obsIn, hiddenIn: hiddenIn}
	G.Read(q, &r.qVal)
	G.Read(hidden, &r.hiddenVal)
	r.vm = G.NewTapeMachine(g)
	return r, nil
}

// Estimator returns the wrapped estimator.
func (r *StepRunner) Estimator() Estimator {
	return r.est
}

// InitialHidden returns a zeroed recurrent state for the start of a
// sequence.
func (r *StepRunner) InitialHidden() *tensor.Dense {
	shape := []int{r.est.BatchSize(), r.est.HiddenSize()}
	return tensor.New(tensor.WithShape(shape...),
		tensor.WithBacking(make([]float64, shape[0]*shape[1])))
}

// Forward runs one timestep, returning the per-action values
// [batch, actions] and the recurrent state to carry to the next call.
// The returned tensors are owned by the caller.
func (r *StepRunner) Forward(obs, hidden *tensor.Dense) (*tensor.Dense,
	*tensor.Dense, error) {
	if err := G.Let(r.obsIn, obs); err != nil {
		return nil, nil, fmt.Errorf("forward: could not set "+
			"observation input: %v", err)
	}
	if err := G.Let(r.hiddenIn, hidden); err != nil {
		return nil, nil, fmt.Errorf("forward: could not set hidden "+
			"state input: %v", err)
	}
	if err := r.vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("forward: %v", err)
	}

	q := r.qVal.(*tensor.Dense).Clone().(*tensor.Dense)
	next := r.hiddenVal.(*tensor.Dense).Clone().(*tensor.Dense)
	r.vm.Reset()
	return q, next, nil
}

// Unroll runs the estimator across a whole sequence of observations,
// resetting the recurrent state at the start, and returns the
// per-timestep action values together with the final state.
func (r *StepRunner) Unroll(obs []*tensor.Dense) ([]*tensor.Dense,
	*tensor.Dense, error) {
	hidden := r.InitialHidden()
	qs := make([]*tensor.Dense, len(obs))
	for t := range obs {
		var err error
		qs[t], hidden, err = r.Forward(obs[t], hidden)
		if err != nil {
			return nil, nil, fmt.Errorf("unroll: timestep %v: %v", t,
				err)
		}
	}
	return qs, hidden, nil
}
