package mixer

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// vdn is the additive mixer: the joint value is the element-wise sum
// of the per-agent values. It has no parameters and ignores state.
type vdn struct{}

// NewVDN returns the additive mixer.
func NewVDN() Mixer {
	return vdn{}
}

// Mix sums the per-agent values over the agent axis.
func (vdn) Mix(q, state *G.Node) (*G.Node, error) {
	return G.Sum(q, 1)
}

// Learnables returns nil; the additive mixer has no parameters.
func (vdn) Learnables() G.Nodes {
	return nil
}

// Model returns nil; the additive mixer has no parameters.
func (vdn) Model() []G.ValueGrad {
	return nil
}

// CloneTo returns the mixer itself; there is nothing to copy.
func (v vdn) CloneTo(*G.ExprGraph) (Mixer, error) {
	return v, nil
}

// Set is a no-op for parameterless mixers.
func (vdn) Set(source Mixer) error {
	if _, ok := source.(vdn); !ok {
		return fmt.Errorf("set: cannot set additive mixer from %T",
			source)
	}
	return nil
}

// Weights returns nil; the additive mixer has no parameters.
func (vdn) Weights() []*tensor.Dense {
	return nil
}

// SetWeights rejects any parameters; the additive mixer has none.
func (vdn) SetWeights(values []*tensor.Dense) error {
	if len(values) != 0 {
		return fmt.Errorf("setweights: additive mixer has no "+
			"parameters \n\twant(0) \n\thave(%v)", len(values))
	}
	return nil
}
