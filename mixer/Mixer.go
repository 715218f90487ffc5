// Package mixer implements the mixing functions that combine per-agent
// action values into a single joint action value for centralized
// training. Two strategies are provided: an additive mixer (VDN) that
// sums per-agent values, and a state-conditioned monotonic mixer
// (QMIX) whose weights are produced by a hyper-network.
package mixer

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Kind describes the available mixing strategies.
type Kind string

const (
	// None disables mixing entirely: agents learn independent values
	// with no credit assignment.
	None Kind = "none"

	// VDN sums per-agent values into the joint value.
	VDN Kind = "vdn"

	// QMix mixes per-agent values through a monotonic, state-
	// conditioned network.
	QMix Kind = "qmix"
)

// Valid returns whether the Kind names a supported mixing strategy.
func (k Kind) Valid() bool {
	switch k {
	case None, VDN, QMix:
		return true
	}
	return false
}

// Mixer combines per-agent action values into a joint value as a graph
// operation. Both variants expose the same call signature; mixers that
// do not condition on state ignore it.
type Mixer interface {
	// Mix combines per-agent values q of shape [batch, agents] and the
	// global state [batch, stateDim] into a joint value [batch]. State
	// may be nil for mixers that do not use it.
	Mix(q, state *G.Node) (*G.Node, error)

	Learnables() G.Nodes
	Model() []G.ValueGrad

	// CloneTo copies the mixer onto graph g, carrying the current
	// weight values.
	CloneTo(g *G.ExprGraph) (Mixer, error)

	// Set overwrites this mixer's weights with source's.
	Set(source Mixer) error

	Weights() []*tensor.Dense
	SetWeights([]*tensor.Dense) error
}

// New returns a mixer of the given kind on graph g. The agents, state
// dimension, and embedding size are only consulted by the conditioned
// mixer. Kind None is rejected: callers represent "no mixer" as the
// absence of a Mixer, not as a Mixer value.
func New(kind Kind, agents, stateDim, embed int, g *G.ExprGraph,
	init G.InitWFn) (Mixer, error) {
	switch kind {
	case VDN:
		return NewVDN(), nil
	case QMix:
		return NewQMix(agents, stateDim, embed, g, init)
	}
	return nil, fmt.Errorf("new: unsupported mixer kind %q", kind)
}
