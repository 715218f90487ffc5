package mixer

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Runner evaluates a mixer numerically, outside any gradient
// computation. It clones the source mixer onto a private graph with
// fixed-shape input nodes and a TapeMachine; the clone's weights are
// refreshed through Mixer().Set.
type Runner struct {
	mix Mixer

	qIn     *G.Node
	stateIn *G.Node

	outVal G.Value
	vm     G.VM

	batch    int
	agents   int
	stateDim int
}

// NewRunner clones src onto a fresh graph for the given batch shape
// and compiles the mixing forward pass. stateDim is 0 for mixers that
// ignore state.
func NewRunner(src Mixer, batch, agents, stateDim int) (*Runner, error) {
	g := G.NewGraph()
	mix, err := src.CloneTo(g)
	if err != nil {
		return nil, fmt.Errorf("newrunner: could not clone mixer: %v",
			err)
	}

	qIn := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, agents),
		G.WithName("mixQ"), G.WithInit(G.Zeroes()))
	var stateIn *G.Node
	if stateDim > 0 {
		stateIn = G.NewMatrix(g, tensor.Float64,
			G.WithShape(batch, stateDim), G.WithName("mixState"),
			G.WithInit(G.Zeroes()))
	}

	out, err := mix.Mix(qIn, stateIn)
	if err != nil {
		return nil, fmt.Errorf("newrunner: could not build mixing "+
			"pass: %v", err)
	}

	r := &Runner{
		mix:      mix,
		qIn:      qIn,
		stateIn:  stateIn,
		batch:    batch,
		agents:   agents,
		stateDim: stateDim,
	}
	G.Read(out, &r.outVal)
	r.vm = G.NewTapeMachine(g)
	return r, nil
}

// Mixer returns the runner's private mixer copy.
func (r *Runner) Mixer() Mixer {
	return r.mix
}

// Forward mixes one batch of per-agent values [batch, agents] with the
// optional state [batch, stateDim], returning the joint values.
func (r *Runner) Forward(q, state *tensor.Dense) ([]float64, error) {
	if err := G.Let(r.qIn, q); err != nil {
		return nil, fmt.Errorf("forward: could not set value input: %v",
			err)
	}
	if r.stateIn != nil {
		if state == nil {
			return nil, fmt.Errorf("forward: conditioned mixing " +
				"requires a global state")
		}
		if err := G.Let(r.stateIn, state); err != nil {
			return nil, fmt.Errorf("forward: could not set state "+
				"input: %v", err)
		}
	}
	if err := r.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("forward: %v", err)
	}

	data := r.outVal.(*tensor.Dense).Data().([]float64)
	out := make([]float64, len(data))
	copy(out, data)
	r.vm.Reset()
	return out, nil
}
