package jointq

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/thomasychen/rm-marllib/mixer"
	"github.com/thomasychen/rm-marllib/network"
	"github.com/thomasychen/rm-marllib/solver"
)

// lossGraph is the compiled training graph for one (B, T) batch shape.
// It holds the online estimator unrolled over the whole T+1
// observation sequence (so gradients flow through time), the one-hot
// gather of the actions actually taken, the online mixer, and the
// masked mean-squared TD error against target values that are fed in
// as constants. The graph is rebuilt only when the batch shape
// changes; weights are carried across rebuilds by cloning.
type lossGraph struct {
	b, t    int
	agents  int
	actions int

	g   *G.ExprGraph
	est network.Estimator
	mix mixer.Mixer // nil for independent learners

	obsIn    []*G.Node // T+1 observation slices [B*agents, obsDim]
	hiddenIn *G.Node   // initial recurrent state [B*agents, hidden]
	actionIn []*G.Node // T one-hot taken actions [B*agents, actions]
	stateIn  []*G.Node // T global states [B, stateDim], mixer only
	targetIn []*G.Node // T TD targets [B, agents]
	maskIn   []*G.Node // T validity masks [B, agents]
	maskSum  *G.Node   // scalar count of valid mask entries

	// chosenVals reads the per-timestep chosen values for statistics:
	// the mixed joint value [B] or the per-agent values [B, agents].
	chosenVals []G.Value
	lossNode   *G.Node
	lossVal    G.Value

	learnables G.Nodes
	model      []G.ValueGrad
	vm         G.VM

	zeroHidden *tensor.Dense
}

// newLossGraph builds the training graph for a batch of b sequences of
// length t, cloning the estimator and mixer weights from the given
// sources.
func newLossGraph(srcEst network.Estimator, srcMix mixer.Mixer, b, t,
	agents, stateDim int) (*lossGraph, error) {
	g := G.NewGraph()
	rows := b * agents

	est, err := srcEst.CloneWithBatch(rows, g)
	if err != nil {
		return nil, fmt.Errorf("newlossgraph: could not clone "+
			"estimator: %v", err)
	}

	var mix mixer.Mixer
	if srcMix != nil {
		if mix, err = srcMix.CloneTo(g); err != nil {
			return nil, fmt.Errorf("newlossgraph: could not clone "+
				"mixer: %v", err)
		}
	}

	l := &lossGraph{
		b:       b,
		t:       t,
		agents:  agents,
		actions: est.Actions(),
		g:       g,
		est:     est,
		mix:     mix,
	}

	l.hiddenIn = G.NewMatrix(g, tensor.Float64,
		G.WithShape(rows, est.HiddenSize()), G.WithName("hidden0"))
	l.zeroHidden = tensor.New(
		tensor.WithShape(rows, est.HiddenSize()),
		tensor.WithBacking(make([]float64, rows*est.HiddenSize())))

	l.obsIn = make([]*G.Node, t+1)
	for i := range l.obsIn {
		l.obsIn[i] = G.NewMatrix(g, tensor.Float64,
			G.WithShape(rows, est.Features()),
			G.WithName(fmt.Sprintf("obs%d", i)))
	}
	l.actionIn = make([]*G.Node, t)
	l.targetIn = make([]*G.Node, t)
	l.maskIn = make([]*G.Node, t)
	for i := 0; i < t; i++ {
		l.actionIn[i] = G.NewMatrix(g, tensor.Float64,
			G.WithShape(rows, l.actions),
			G.WithName(fmt.Sprintf("action%d", i)))
		l.targetIn[i] = G.NewMatrix(g, tensor.Float64,
			G.WithShape(b, agents),
			G.WithName(fmt.Sprintf("target%d", i)))
		l.maskIn[i] = G.NewMatrix(g, tensor.Float64,
			G.WithShape(b, agents),
			G.WithName(fmt.Sprintf("mask%d", i)))
	}
	if mix != nil && stateDim > 0 {
		l.stateIn = make([]*G.Node, t)
		for i := 0; i < t; i++ {
			l.stateIn[i] = G.NewMatrix(g, tensor.Float64,
				G.WithShape(b, stateDim),
				G.WithName(fmt.Sprintf("state%d", i)))
		}
	}
	l.maskSum = G.NewScalar(g, tensor.Float64, G.WithName("maskSum"))

	if err := l.build(); err != nil {
		return nil, err
	}

	l.learnables = est.Learnables()
	if mix != nil {
		l.learnables = append(l.learnables, mix.Learnables()...)
	}
	l.model = est.Model()
	if mix != nil {
		l.model = append(l.model, mix.Model()...)
	}

	if _, err := G.Grad(l.loss(), l.learnables...); err != nil {
		return nil, fmt.Errorf("newlossgraph: could not compute "+
			"gradient: %v", err)
	}
	l.vm = G.NewTapeMachine(g, G.BindDualValues(l.learnables...))
	return l, nil
}

func (l *lossGraph) loss() *G.Node {
	return l.lossNode
}

// build unrolls the estimator and assembles the masked TD loss.
func (l *lossGraph) build() error {
	l.chosenVals = make([]G.Value, l.t)

	// Unroll the online estimator once across all T+1 timesteps,
	// carrying the recurrent state exactly as a step-by-step unroll
	// would.
	qs := make([]*G.Node, l.t+1)
	hidden := l.hiddenIn
	for i := 0; i <= l.t; i++ {
		var err error
		if qs[i], hidden, err = l.est.Step(l.obsIn[i], hidden); err != nil {
			return fmt.Errorf("build: could not unroll estimator at "+
				"timestep %v: %v", i, err)
		}
	}

	var total *G.Node
	for i := 0; i < l.t; i++ {
		// Q-value of the action actually taken, via one-hot gather
		chosen := G.Must(G.Sum(
			G.Must(G.HadamardProd(qs[i], l.actionIn[i])), 1))
		chosen = G.Must(G.Reshape(chosen,
			tensor.Shape{l.b, l.agents}))

		var td *G.Node
		if l.mix != nil {
			var state *G.Node
			if l.stateIn != nil {
				state = l.stateIn[i]
			}
			mixed, err := l.mix.Mix(chosen, state)
			if err != nil {
				return fmt.Errorf("build: could not mix chosen "+
					"values at timestep %v: %v", i, err)
			}
			G.Read(mixed, &l.chosenVals[i])

			// The joint value is broadcast against the per-agent
			// targets
			mixedCol := G.Must(G.Reshape(mixed, tensor.Shape{l.b, 1}))
			td = G.Must(G.BroadcastSub(mixedCol, l.targetIn[i],
				[]byte{1}, nil))
		} else {
			G.Read(chosen, &l.chosenVals[i])
			td = G.Must(G.Sub(chosen, l.targetIn[i]))
		}

		masked := G.Must(G.HadamardProd(td, l.maskIn[i]))
		sq := G.Must(G.Sum(G.Must(G.Square(masked))))
		if total == nil {
			total = sq
		} else {
			total = G.Must(G.Add(total, sq))
		}
	}

	// Mean over the count of valid entries, not over padded ones
	l.lossNode = G.Must(G.HadamardDiv(total, l.maskSum))
	G.Read(l.lossNode, &l.lossVal)
	return nil
}

// step feeds one prepared batch through the graph, applies gradient
// clipping and one solver step, and returns the loss value, the
// pre-clip gradient norm, and the per-timestep chosen values.
func (l *lossGraph) step(batch *trainBatch, slv *solver.Solver,
	gradClip float64) (float64, float64, [][]float64, error) {
	if err := G.Let(l.hiddenIn, l.zeroHidden); err != nil {
		return 0, 0, nil, fmt.Errorf("step: could not reset hidden "+
			"state: %v", err)
	}
	for i, node := range l.obsIn {
		if err := G.Let(node, batch.wholeObs[i]); err != nil {
			return 0, 0, nil, fmt.Errorf("step: could not set "+
				"observation %v: %v", i, err)
		}
	}
	for i := 0; i < l.t; i++ {
		if err := G.Let(l.actionIn[i], batch.actionOneHot[i]); err != nil {
			return 0, 0, nil, err
		}
		target := tensor.New(tensor.WithShape(l.b, l.agents),
			tensor.WithBacking(batch.targets[i]))
		if err := G.Let(l.targetIn[i], target); err != nil {
			return 0, 0, nil, err
		}
		mask := tensor.New(tensor.WithShape(l.b, l.agents),
			tensor.WithBacking(batch.maskRows[i]))
		if err := G.Let(l.maskIn[i], mask); err != nil {
			return 0, 0, nil, err
		}
		if l.stateIn != nil {
			if err := G.Let(l.stateIn[i], batch.states[i]); err != nil {
				return 0, 0, nil, err
			}
		}
	}
	if err := G.Let(l.maskSum, batch.maskCount); err != nil {
		return 0, 0, nil, err
	}

	if err := l.vm.RunAll(); err != nil {
		return 0, 0, nil, fmt.Errorf("step: %v", err)
	}

	gradNorm, err := solver.ClipNorm(l.model, gradClip)
	if err != nil {
		return 0, 0, nil, err
	}
	if err := slv.Step(l.model); err != nil {
		return 0, 0, nil, fmt.Errorf("step: could not apply solver "+
			"step: %v", err)
	}

	loss := l.lossVal.Data().(float64)
	chosen := make([][]float64, l.t)
	for i := 0; i < l.t; i++ {
		data := l.chosenVals[i].(*tensor.Dense).Data().([]float64)
		chosen[i] = make([]float64, len(data))
		copy(chosen[i], data)
	}

	l.vm.Reset()
	return loss, gradNorm, chosen, nil
}
