package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Estimator is a per-agent action-value network that can be unrolled
// over a sequence one timestep at a time. An Estimator only builds
// graph nodes; running the graph is the caller's concern (see
// StepRunner for the no-gradient case).
//
// Recurrent state is threaded explicitly: Step consumes the hidden
// state from the previous timestep and returns the state to carry
// forward, so an unroll over T steps is an ordinary loop. Callers
// reset the state to zeros at sequence boundaries. Feedforward
// estimators carry a 1-wide dummy state and return it untouched.
type Estimator interface {
	Graph() *G.ExprGraph

	// Step adds one timestep of the forward pass to the graph. obs has
	// shape [batch, Features()] and hidden [batch, HiddenSize()]. It
	// returns the per-action values [batch, Actions()] and the hidden
	// state for the next timestep.
	Step(obs, hidden *G.Node) (*G.Node, *G.Node, error)

	Features() int
	Actions() int
	HiddenSize() int
	BatchSize() int

	// CloneWithBatch copies the estimator onto graph g with a new
	// batch size, carrying the current weight values.
	CloneWithBatch(batch int, g *G.ExprGraph) (Estimator, error)

	Learnables() G.Nodes
	Model() []G.ValueGrad

	// Set overwrites this estimator's weights with source's.
	Set(source Estimator) error

	// Weights exports the parameters as an ordered list of dense
	// tensors; SetWeights is its exact inverse.
	Weights() []*tensor.Dense
	SetWeights([]*tensor.Dense) error
}

// setLearnables copies the values of src onto the nodes of dst. Both
// node lists must come from structurally identical networks.
func setLearnables(dst, src G.Nodes) error {
	if len(dst) != len(src) {
		return fmt.Errorf("setlearnables: mismatched learnables "+
			"\n\twant(%v) \n\thave(%v)", len(dst), len(src))
	}
	for i, node := range dst {
		clone := src[i].Clone()
		if err := G.Let(node, clone.(*G.Node).Value()); err != nil {
			return err
		}
	}
	return nil
}

// LearnableValues exports the values of a list of learnable nodes as
// cloned dense tensors.
func LearnableValues(nodes G.Nodes) []*tensor.Dense {
	values := make([]*tensor.Dense, len(nodes))
	for i, node := range nodes {
		values[i] = node.Value().(*tensor.Dense).Clone().(*tensor.Dense)
	}
	return values
}

// SetLearnableValues overwrites the values of a list of learnable
// nodes with cloned copies of the given tensors.
func SetLearnableValues(nodes G.Nodes, values []*tensor.Dense) error {
	if len(nodes) != len(values) {
		return fmt.Errorf("setlearnablevalues: mismatched parameter "+
			"count \n\twant(%v) \n\thave(%v)", len(nodes), len(values))
	}
	for i, node := range nodes {
		value := values[i].Clone().(*tensor.Dense)
		if !node.Shape().Eq(value.Shape()) {
			return fmt.Errorf("setlearnablevalues: mismatched shape "+
				"for %v \n\twant%v \n\thave%v", node.Name(),
				node.Shape(), value.Shape())
		}
		if err := G.Let(node, value); err != nil {
			return err
		}
	}
	return nil
}

// valueGrads converts learnable nodes into the slice consumed by
// Gorgonia solvers.
func valueGrads(nodes G.Nodes) []G.ValueGrad {
	model := make([]G.ValueGrad, 0, len(nodes))
	for _, node := range nodes {
		model = append(model, node)
	}
	return model
}
