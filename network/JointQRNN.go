package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// JointQRNN is a recurrent per-agent action-value estimator: a fully
// connected encoder, a single GRU cell, and a linear value head. The
// GRU hidden state is the estimator's recurrent state and is threaded
// through Step by the caller.
type JointQRNN struct {
	g *G.ExprGraph

	encoder Layer // features -> cell, ReLU
	head    Layer // cell -> actions, linear

	// GRU cell parameters. The w* nodes map the encoded input, the u*
	// nodes map the previous hidden state.
	wr, ur, br *G.Node // reset gate
	wz, uz, bz *G.Node // update gate
	wn, un, bn *G.Node // candidate state

	features int
	actions  int
	cell     int
	batch    int

	learnables G.Nodes
	model      []G.ValueGrad
}

// NewJointQRNN returns a new recurrent estimator on graph g with a GRU
// cell of the given size.
func NewJointQRNN(features, actions, cell, batch int, g *G.ExprGraph,
	init G.InitWFn) (Estimator, error) {
	if cell < 1 {
		return nil, fmt.Errorf("newjointqrnn: invalid cell size "+
			"\n\twant(>0) \n\thave(%v)", cell)
	}

	gate := func(inName, hiddenName, biasName string) (*G.Node, *G.Node,
		*G.Node) {
		w := G.NewMatrix(g, tensor.Float64, G.WithShape(cell, cell),
			G.WithName(inName), G.WithInit(init))
		u := G.NewMatrix(g, tensor.Float64, G.WithShape(cell, cell),
			G.WithName(hiddenName), G.WithInit(init))
		b := G.NewVector(g, tensor.Float64, G.WithShape(cell),
			G.WithName(biasName), G.WithInit(G.Zeroes()))
		return w, u, b
	}

	r := &JointQRNN{
		g:        g,
		encoder:  NewFC(g, features, cell, true, ReLU(), init, "Enc"),
		head:     NewFC(g, cell, actions, true, Identity(), init, "Head"),
		features: features,
		actions:  actions,
		cell:     cell,
		batch:    batch,
	}
	r.wr, r.ur, r.br = gate("GruWr", "GruUr", "GruBr")
	r.wz, r.uz, r.bz = gate("GruWz", "GruUz", "GruBz")
	r.wn, r.un, r.bn = gate("GruWn", "GruUn", "GruBn")

	return r, nil
}

// Step adds one timestep of the forward pass to the graph: encode the
// observation, advance the GRU cell, and predict action values from
// the new hidden state.
func (r *JointQRNN) Step(obs, hidden *G.Node) (*G.Node, *G.Node, error) {
	x, err := r.encoder.Fwd(obs)
	if err != nil {
		return nil, nil, fmt.Errorf("step: could not encode "+
			"observation: %v", err)
	}

	gate := func(w, u, b *G.Node) *G.Node {
		pre := G.Must(G.Add(G.Must(G.Mul(x, w)), G.Must(G.Mul(hidden, u))))
		return G.Must(G.BroadcastAdd(pre, b, nil, []byte{0}))
	}

	reset := G.Must(G.Sigmoid(gate(r.wr, r.ur, r.br)))
	update := G.Must(G.Sigmoid(gate(r.wz, r.uz, r.bz)))

	candidatePre := G.Must(G.Add(
		G.Must(G.Mul(x, r.wn)),
		G.Must(G.HadamardProd(reset, G.Must(G.Mul(hidden, r.un)))),
	))
	candidatePre = G.Must(G.BroadcastAdd(candidatePre, r.bn, nil,
		[]byte{0}))
	candidate := G.Must(G.Tanh(candidatePre))

	// next = (1 - update) * candidate + update * hidden, written
	// without a ones constant
	next := G.Must(G.Add(
		G.Must(G.Sub(candidate,
			G.Must(G.HadamardProd(update, candidate)))),
		G.Must(G.HadamardProd(update, hidden)),
	))

	q, err := r.head.Fwd(next)
	if err != nil {
		return nil, nil, fmt.Errorf("step: could not predict action "+
			"values: %v", err)
	}
	return q, next, nil
}

// Graph returns the computational graph of the estimator.
func (r *JointQRNN) Graph() *G.ExprGraph {
	return r.g
}

// Features returns the number of features in a single observation
// vector that the estimator takes as input.
func (r *JointQRNN) Features() int {
	return r.features
}

// Actions returns the number of discrete actions the estimator
// predicts values for.
func (r *JointQRNN) Actions() int {
	return r.actions
}

// HiddenSize returns the width of the GRU hidden state.
func (r *JointQRNN) HiddenSize() int {
	return r.cell
}

// BatchSize returns the batch size of inputs to the estimator.
func (r *JointQRNN) BatchSize() int {
	return r.batch
}

// CloneWithBatch clones the estimator onto graph g with a new batch
// size, carrying the current weight values.
func (r *JointQRNN) CloneWithBatch(batch int,
	g *G.ExprGraph) (Estimator, error) {
	clone := &JointQRNN{
		g:        g,
		encoder:  r.encoder.CloneTo(g),
		head:     r.head.CloneTo(g),
		wr:       r.wr.CloneTo(g),
		ur:       r.ur.CloneTo(g),
		br:       r.br.CloneTo(g),
		wz:       r.wz.CloneTo(g),
		uz:       r.uz.CloneTo(g),
		bz:       r.bz.CloneTo(g),
		wn:       r.wn.CloneTo(g),
		un:       r.un.CloneTo(g),
		bn:       r.bn.CloneTo(g),
		features: r.features,
		actions:  r.actions,
		cell:     r.cell,
		batch:    batch,
	}
	return clone, nil
}

// Learnables returns the learnable nodes of the estimator.
func (r *JointQRNN) Learnables() G.Nodes {
	// Lazy instantiation
	if r.learnables == nil {
		learnables := LayerLearnables([]Layer{r.encoder, r.head})
		learnables = append(learnables, r.wr, r.ur, r.br, r.wz, r.uz,
			r.bz, r.wn, r.un, r.bn)
		r.learnables = learnables
	}
	return r.learnables
}

// Model returns the learnable nodes with their gradients.
func (r *JointQRNN) Model() []G.ValueGrad {
	// Lazy instantiation
	if r.model == nil {
		r.model = valueGrads(r.Learnables())
	}
	return r.model
}

// Set overwrites the estimator's weights with source's.
func (r *JointQRNN) Set(source Estimator) error {
	return setLearnables(r.Learnables(), source.Learnables())
}

// Weights exports the estimator's parameters.
func (r *JointQRNN) Weights() []*tensor.Dense {
	return LearnableValues(r.Learnables())
}

// SetWeights overwrites the estimator's parameters.
func (r *JointQRNN) SetWeights(values []*tensor.Dense) error {
	return SetLearnableValues(r.Learnables(), values)
}
