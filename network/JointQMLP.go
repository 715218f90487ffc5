package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// JointQMLP is a feedforward per-agent action-value estimator. It
// predicts one value per discrete action from the current local
// observation alone and ignores recurrent state.
type JointQMLP struct {
	g      *G.ExprGraph
	layers []Layer

	features int
	actions  int
	batch    int

	hiddenSizes []int
	biases      []bool
	activations []*Activation

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewJointQMLP returns a new feedforward estimator on graph g. A final
// linear layer with a bias unit and no activation is always appended
// so that the network outputs one value per action.
func NewJointQMLP(features, actions, batch int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation) (Estimator, error) {
	// Ensure one activation per layer
	if len(hiddenSizes) != len(activations) {
		msg := "newjointqmlp: invalid number of activations" +
			"\n\twant(%d)\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}

	// Ensure one bias bool per layer
	if len(hiddenSizes) != len(biases) {
		msg := "newjointqmlp: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}

	sizes := append([]int{}, hiddenSizes...)
	sizes = append(sizes, actions)
	layerBiases := append([]bool{}, biases...)
	layerBiases = append(layerBiases, true)
	acts := append([]*Activation{}, activations...)
	acts = append(acts, Identity())

	layers := make([]Layer, len(sizes))
	in := features
	for i, out := range sizes {
		name := fmt.Sprintf("L%d", i)
		layers[i] = NewFC(g, in, out, layerBiases[i], acts[i], init, name)
		in = out
	}

	return &JointQMLP{
		g:           g,
		layers:      layers,
		features:    features,
		actions:     actions,
		batch:       batch,
		hiddenSizes: hiddenSizes,
		biases:      biases,
		activations: activations,
	}, nil
}

// Step adds one timestep of the forward pass to the graph. The hidden
// state is returned unchanged; feedforward estimators are stateless.
func (m *JointQMLP) Step(obs, hidden *G.Node) (*G.Node, *G.Node, error) {
	pred := obs
	var err error
	for i, l := range m.layers {
		if pred, err = l.Fwd(pred); err != nil {
			return nil, nil, fmt.Errorf("step: could not compute "+
				"forward pass of layer %v: %v", i, err)
		}
	}
	return pred, hidden, nil
}

// Graph returns the computational graph of the estimator.
func (m *JointQMLP) Graph() *G.ExprGraph {
	return m.g
}

// Features returns the number of features in a single observation
// vector that the estimator takes as input.
func (m *JointQMLP) Features() int {
	return m.features
}

// Actions returns the number of discrete actions the estimator
// predicts values for.
func (m *JointQMLP) Actions() int {
	return m.actions
}

// HiddenSize returns the width of the (unused) recurrent state.
func (m *JointQMLP) HiddenSize() int {
	return 1
}

// BatchSize returns the batch size of inputs to the estimator.
func (m *JointQMLP) BatchSize() int {
	return m.batch
}

// CloneWithBatch clones the estimator onto graph g with a new batch
// size, carrying the current weight values.
func (m *JointQMLP) CloneWithBatch(batch int,
	g *G.ExprGraph) (Estimator, error) {
	layers := make([]Layer, len(m.layers))
	for i := range m.layers {
		layers[i] = m.layers[i].CloneTo(g)
	}

	return &JointQMLP{
		g:           g,
		layers:      layers,
		features:    m.features,
		actions:     m.actions,
		batch:       batch,
		hiddenSizes: m.hiddenSizes,
		biases:      m.biases,
		activations: m.activations,
	}, nil
}

// Learnables returns the learnable nodes of the estimator.
func (m *JointQMLP) Learnables() G.Nodes {
	// Lazy instantiation
	if m.learnables == nil {
		m.learnables = LayerLearnables(m.layers)
	}
	return m.learnables
}

// Model returns the learnable nodes with their gradients.
func (m *JointQMLP) Model() []G.ValueGrad {
	// Lazy instantiation
	if m.model == nil {
		m.model = valueGrads(m.Learnables())
	}
	return m.model
}

// Set overwrites the estimator's weights with source's.
func (m *JointQMLP) Set(source Estimator) error {
	return setLearnables(m.Learnables(), source.Learnables())
}

// Weights exports the estimator's parameters.
func (m *JointQMLP) Weights() []*tensor.Dense {
	return LearnableValues(m.Learnables())
}

// SetWeights overwrites the estimator's parameters.
func (m *JointQMLP) SetWeights(values []*tensor.Dense) error {
	return SetLearnableValues(m.Learnables(), values)
}
