package mixer

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/thomasychen/rm-marllib/network"
)

// qmix is the conditioned mixer: a hyper-network maps the global state
// to per-sample mixing weights, which combine the per-agent values
// through a two-layer monotonic network. Taking the absolute value of
// every emitted weight matrix keeps the joint value monotonically
// non-decreasing in each per-agent value; the state-conditioned bias
// head is unconstrained.
type qmix struct {
	g *G.ExprGraph

	agents   int
	stateDim int
	embed    int

	hyperW1    network.Layer // state -> agents*embed mixing weights
	hyperB1    network.Layer // state -> embed bias
	hyperWOut  network.Layer // state -> embed output weights
	stateValue []network.Layer // state -> scalar bias, two layers

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewQMix returns a conditioned mixer on graph g for the given number
// of agents, global state width, and mixing embedding size.
func NewQMix(agents, stateDim, embed int, g *G.ExprGraph,
	init G.InitWFn) (Mixer, error) {
	if agents < 1 {
		return nil, fmt.Errorf("newqmix: invalid number of agents "+
			"\n\twant(>0) \n\thave(%v)", agents)
	}
	if stateDim < 1 {
		return nil, fmt.Errorf("newqmix: conditioned mixing requires "+
			"a global state \n\twant(>0) \n\thave(%v)", stateDim)
	}
	if embed < 1 {
		return nil, fmt.Errorf("newqmix: invalid embedding size "+
			"\n\twant(>0) \n\thave(%v)", embed)
	}

	return &qmix{
		g:        g,
		agents:   agents,
		stateDim: stateDim,
		embed:    embed,
		hyperW1: network.NewFC(g, stateDim, agents*embed, true,
			network.Identity(), init, "HyperW1"),
		hyperB1: network.NewFC(g, stateDim, embed, true,
			network.Identity(), init, "HyperB1"),
		hyperWOut: network.NewFC(g, stateDim, embed, true,
			network.Identity(), init, "HyperWOut"),
		stateValue: []network.Layer{
			network.NewFC(g, stateDim, embed, true, network.ReLU(),
				init, "StateV0"),
			network.NewFC(g, embed, 1, true, network.Identity(), init,
				"StateV1"),
		},
	}, nil
}

// Mix combines the per-agent values through the hyper-network
// conditioned on state.
func (m *qmix) Mix(q, state *G.Node) (*G.Node, error) {
	if state == nil {
		return nil, fmt.Errorf("mix: conditioned mixing requires a " +
			"global state")
	}

	batch := q.Shape()[0]

	// First mixing layer: per-sample non-negative weight matrices
	w1, err := m.hyperW1.Fwd(state)
	if err != nil {
		return nil, fmt.Errorf("mix: could not compute mixing "+
			"weights: %v", err)
	}
	w1 = G.Must(G.Abs(w1))
	w1 = G.Must(G.Reshape(w1, tensor.Shape{batch, m.agents, m.embed}))

	b1, err := m.hyperB1.Fwd(state)
	if err != nil {
		return nil, fmt.Errorf("mix: could not compute mixing bias: %v",
			err)
	}
	b1 = G.Must(G.Reshape(b1, tensor.Shape{batch, 1, m.embed}))

	qRow := G.Must(G.Reshape(q, tensor.Shape{batch, 1, m.agents}))
	hidden := G.Must(G.BatchedMatMul(qRow, w1))
	hidden = G.Must(G.Rectify(G.Must(G.Add(hidden, b1))))

	// Second mixing layer down to the joint value
	wOut, err := m.hyperWOut.Fwd(state)
	if err != nil {
		return nil, fmt.Errorf("mix: could not compute output "+
			"weights: %v", err)
	}
	wOut = G.Must(G.Abs(wOut))
	wOut = G.Must(G.Reshape(wOut, tensor.Shape{batch, m.embed, 1}))
	joint := G.Must(G.BatchedMatMul(hidden, wOut))

	// State-dependent bias
	value := state
	for i, l := range m.stateValue {
		if value, err = l.Fwd(value); err != nil {
			return nil, fmt.Errorf("mix: could not compute state "+
				"value layer %v: %v", i, err)
		}
	}
	value = G.Must(G.Reshape(value, tensor.Shape{batch, 1, 1}))

	joint = G.Must(G.Add(joint, value))
	return G.Reshape(joint, tensor.Shape{batch})
}

// layers returns the mixer's layers in a deterministic order.
func (m *qmix) layers() []network.Layer {
	layers := []network.Layer{m.hyperW1, m.hyperB1, m.hyperWOut}
	return append(layers, m.stateValue...)
}

// Learnables returns the learnable nodes of the hyper-network.
func (m *qmix) Learnables() G.Nodes {
	// Lazy instantiation
	if m.learnables == nil {
		m.learnables = network.LayerLearnables(m.layers())
	}
	return m.learnables
}

// Model returns the learnable nodes with their gradients.
func (m *qmix) Model() []G.ValueGrad {
	// Lazy instantiation
	if m.model == nil {
		for _, node := range m.Learnables() {
			m.model = append(m.model, node)
		}
	}
	return m.model
}

// CloneTo copies the mixer onto graph g, carrying the current weight
// values.
func (m *qmix) CloneTo(g *G.ExprGraph) (Mixer, error) {
	clone := &qmix{
		g:         g,
		agents:    m.agents,
		stateDim:  m.stateDim,
		embed:     m.embed,
		hyperW1:   m.hyperW1.CloneTo(g),
		hyperB1:   m.hyperB1.CloneTo(g),
		hyperWOut: m.hyperWOut.CloneTo(g),
	}
	for _, l := range m.stateValue {
		clone.stateValue = append(clone.stateValue, l.CloneTo(g))
	}
	return clone, nil
}

// Set overwrites the mixer's weights with source's.
func (m *qmix) Set(source Mixer) error {
	src, ok := source.(*qmix)
	if !ok {
		return fmt.Errorf("set: cannot set conditioned mixer from %T",
			source)
	}
	return network.SetLearnableValues(m.Learnables(),
		network.LearnableValues(src.Learnables()))
}

// Weights exports the mixer's parameters.
func (m *qmix) Weights() []*tensor.Dense {
	return network.LearnableValues(m.Learnables())
}

// SetWeights overwrites the mixer's parameters.
func (m *qmix) SetWeights(values []*tensor.Dense) error {
	return network.SetLearnableValues(m.Learnables(), values)
}
