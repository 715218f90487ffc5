package jointq

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/thomasychen/rm-marllib/mixer"
	"github.com/thomasychen/rm-marllib/network"
	"github.com/thomasychen/rm-marllib/sequence"
	"github.com/thomasychen/rm-marllib/timestep"
	"github.com/thomasychen/rm-marllib/utils/floatutils"
	"github.com/thomasychen/rm-marllib/utils/tensorutils"
)

// Stats summarizes one training update.
type Stats struct {
	// Loss is the masked mean-squared TD error.
	Loss float64

	// GradNorm is the joint L2 norm of the gradients before clipping.
	GradNorm float64

	// TDErrorAbs, QTakenMean and TargetMean are masked means of the
	// absolute TD error, the chosen (possibly mixed) action values, and
	// the TD targets.
	TDErrorAbs float64
	QTakenMean float64
	TargetMean float64
}

// Policy learns joint action values for a cooperative agent group and
// selects decentralized ε-greedy actions from the individual values.
type Policy struct {
	config   Config
	space    timestep.ObsSpace
	schedule EpsilonSchedule

	// online and onlineMix are the canonical online weights. Once a
	// training graph exists they alias its clones, so solver steps
	// update them directly.
	online    network.Estimator
	onlineMix mixer.Mixer

	// actRunner runs the online estimator for one agent group during
	// execution. evalRunner runs it at training batch size for the
	// double-Q greedy action; it is rebuilt with the training graph.
	actRunner  *network.StepRunner
	evalRunner *network.StepRunner

	loss    *lossGraph
	targets *targets
	targetB int

	curEpsilon float64
	source     rand.Source
}

// New validates config and returns a Policy for agent groups with the
// given observation layout.
func New(space timestep.ObsSpace, config Config) (*Policy, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	est, err := newEstimator(space, config, space.NumAgents,
		G.NewGraph())
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	actRunner, err := network.NewStepRunner(est)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	var mix mixer.Mixer
	if config.Mixer != mixer.None {
		mix, err = mixer.New(config.Mixer, space.NumAgents,
			mixerStateDim(space, config), config.MixingEmbedDim,
			G.NewGraph(), config.InitWFn.InitWFn())
		if err != nil {
			return nil, fmt.Errorf("new: %v", err)
		}
	}

	p := &Policy{
		config:     config,
		space:      space,
		schedule:   config.Schedule(),
		online:     est,
		onlineMix:  mix,
		actRunner:  actRunner,
		curEpsilon: config.EpsilonInitial,
		source:     rand.NewSource(config.Seed),
	}

	p.targets, err = newTargets(est, mix, 1, space.NumAgents,
		p.mixStateDim(), config.TargetUpdateFreq)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	p.targetB = 1
	return p, nil
}

// newEstimator builds the configured estimator architecture on g.
func newEstimator(space timestep.ObsSpace, config Config, batch int,
	g *G.ExprGraph) (network.Estimator, error) {
	switch config.CoreArch {
	case MLP:
		return network.NewJointQMLP(space.ObsDim, space.NumActions,
			batch, g, config.HiddenSizes, config.Biases,
			config.InitWFn.InitWFn(), config.Activations)
	case RNN:
		return network.NewJointQRNN(space.ObsDim, space.NumActions,
			config.CellSize, batch, g, config.InitWFn.InitWFn())
	default:
		return nil, fmt.Errorf("unsupported estimator architecture %q",
			config.CoreArch)
	}
}

// mixerStateDim returns the width of the state the mixer consumes.
// Only conditioned mixing reads state; when the group records no
// global state, the concatenated per-agent local observations stand
// in for it.
func mixerStateDim(space timestep.ObsSpace, config Config) int {
	if config.Mixer != mixer.QMix {
		return 0
	}
	if space.HasState() {
		return space.StateDim
	}
	return space.NumAgents * space.ObsDim
}

func (p *Policy) mixStateDim() int {
	return mixerStateDim(p.space, p.config)
}

// InitialHidden returns a zeroed recurrent state for the start of an
// episode.
func (p *Policy) InitialHidden() *tensor.Dense {
	return p.actRunner.InitialHidden()
}

// Epsilon returns the exploration rate used by the most recent call to
// SelectActions.
func (p *Policy) Epsilon() float64 {
	return p.curEpsilon
}

// SelectActions chooses one action per agent from the raw observations
// of a single group timestep. With explore set, each agent acts
// ε-greedily with respect to its own action values, where ε follows
// the annealing schedule at the given environment step; otherwise each
// agent acts greedily. Invalid actions are never selected. hidden is
// the recurrent state carried from the previous call, or nil at the
// start of an episode; the state to carry forward is returned with the
// actions.
func (p *Policy) SelectActions(obs [][]float64, hidden *tensor.Dense,
	step int64, explore bool) (*mat.VecDense, *tensor.Dense, error) {
	n := p.space.NumAgents
	if len(obs) != n {
		return nil, nil, fmt.Errorf("selectactions: invalid number of "+
			"observations \n\twant(%v) \n\thave(%v)", n, len(obs))
	}

	masks := make([][]float64, n)
	obsData := make([]float64, n*p.space.ObsDim)
	for i, raw := range obs {
		mask, local, _, err := p.space.Unpack(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("selectactions: agent %v: %v",
				i, err)
		}
		masks[i] = mask
		copy(obsData[i*p.space.ObsDim:(i+1)*p.space.ObsDim], local)
	}

	if hidden == nil {
		hidden = p.actRunner.InitialHidden()
	}
	obsTensor := tensor.New(tensor.WithShape(n, p.space.ObsDim),
		tensor.WithBacking(obsData))
	q, nextHidden, err := p.actRunner.Forward(obsTensor, hidden)
	if err != nil {
		return nil, nil, fmt.Errorf("selectactions: %v", err)
	}
	qData := q.Data().([]float64)

	epsilon := 0.0
	if explore {
		epsilon = p.schedule.Value(step)
		p.curEpsilon = epsilon
	}

	actions := mat.NewVecDense(n, nil)
	numActions := p.space.NumActions
	for i := 0; i < n; i++ {
		row := qData[i*numActions : (i+1)*numActions]

		numValid := 0
		for a := 0; a < numActions; a++ {
			if masks[i][a] == 0 {
				row[a] = math.Inf(-1)
			} else {
				numValid++
			}
		}
		if numValid == 0 {
			return nil, nil, fmt.Errorf("selectactions: no valid "+
				"action for agent %v: every action is masked", i)
		}
		_, greedy := floatutils.MaxSlice(row)

		// With probability 1-ε take a greedy action (uniform over
		// exact ties), otherwise a uniformly random valid action
		probs := make([]float64, numActions)
		for a := 0; a < numActions; a++ {
			if masks[i][a] != 0 {
				probs[a] = epsilon / float64(numValid)
			}
		}
		for _, a := range greedy {
			probs[a] += (1.0 - epsilon) / float64(len(greedy))
		}

		sampler := distuv.NewCategorical(probs, p.source)
		actions.SetVec(i, sampler.Rand())
	}
	return actions, nextHidden, nil
}

// trainBatch is one fully prepared training batch: the padded sequence
// tensors sliced per timestep into the layout the loss graph consumes,
// plus the numerically computed TD targets.
type trainBatch struct {
	b, t int

	wholeObs     []*tensor.Dense // T+1 observations [B*agents, obsDim]
	actionOneHot []*tensor.Dense // T one-hot actions [B*agents, actions]
	nextMask     [][]float64     // T next-step masks [B*agents*actions]
	valid        [][]float64     // T row validity [B*agents]
	maskRows     [][]float64     // T loss masks [B*agents]
	rewards      [][]float64     // T rewards [B*agents]
	terminated   [][]float64     // T termination flags [B*agents]
	states       []*tensor.Dense // T global states [B, stateDim]
	nextStates   []*tensor.Dense // T next global states [B, stateDim]
	targets      [][]float64     // T TD targets [B*agents]

	maskCount float64
	envSteps  int
}

// Learn performs one training update from a collection of group
// timesteps. The steps are batched into padded sequences, TD targets
// are computed from the target networks, and one solver step is taken
// on the masked mean-squared TD error. Target networks are hard-synced
// on their environment-step schedule.
func (p *Policy) Learn(steps []timestep.Step) (Stats, error) {
	batch, err := p.buildBatch(steps)
	if err != nil {
		return Stats{}, fmt.Errorf("learn: %v", err)
	}

	if p.loss == nil || p.loss.b != batch.b || p.loss.t != batch.t {
		if err := p.rebuild(batch.b, batch.t); err != nil {
			return Stats{}, fmt.Errorf("learn: %v", err)
		}
	}
	if batch.b != p.targetB {
		if err := p.targets.resize(batch.b); err != nil {
			return Stats{}, fmt.Errorf("learn: %v", err)
		}
		p.targetB = batch.b
	}

	// The double-Q greedy action comes from the current online weights
	if err := p.evalRunner.Estimator().Set(p.online); err != nil {
		return Stats{}, fmt.Errorf("learn: %v", err)
	}
	if err := p.computeTargets(batch); err != nil {
		return Stats{}, fmt.Errorf("learn: %v", err)
	}

	loss, gradNorm, chosen, err := p.loss.step(batch, p.config.Solver,
		p.config.GradNormClip)
	if err != nil {
		return Stats{}, fmt.Errorf("learn: %v", err)
	}

	// Execution must follow the updated weights
	if err := p.actRunner.Estimator().Set(p.online); err != nil {
		return Stats{}, fmt.Errorf("learn: %v", err)
	}
	if p.targets.tick(batch.envSteps) {
		if err := p.targets.sync(p.online, p.onlineMix); err != nil {
			return Stats{}, fmt.Errorf("learn: %v", err)
		}
	}

	return p.stats(batch, loss, gradNorm, chosen), nil
}

// rebuild compiles the training graph and evaluation runner for a new
// batch shape, carrying the online weights forward.
func (p *Policy) rebuild(b, t int) error {
	loss, err := newLossGraph(p.online, p.onlineMix, b, t,
		p.space.NumAgents, p.mixStateDim())
	if err != nil {
		return err
	}
	p.loss = loss
	p.online = loss.est
	p.onlineMix = loss.mix

	clone, err := p.online.CloneWithBatch(b*p.space.NumAgents,
		G.NewGraph())
	if err != nil {
		return err
	}
	if p.evalRunner, err = network.NewStepRunner(clone); err != nil {
		return err
	}
	return nil
}

// buildBatch batches raw group timesteps into padded sequences and
// slices them into the per-timestep layout the training graph and the
// target computation consume.
func (p *Policy) buildBatch(steps []timestep.Step) (*trainBatch, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("buildbatch: no timesteps given")
	}

	n := p.space.NumAgents
	numActions := p.space.NumActions
	obsDim := p.space.ObsDim
	stateDim := p.space.StateDim

	episodes := make([]int64, len(steps))
	groups := make([]int64, len(steps))
	indices := make([]int, len(steps))

	obsData := make([]float64, len(steps)*n*obsDim)
	nextObsData := make([]float64, len(steps)*n*obsDim)
	maskData := make([]float64, len(steps)*n*numActions)
	nextMaskData := make([]float64, len(steps)*n*numActions)
	actData := make([]float64, len(steps)*n)
	rewData := make([]float64, len(steps)*n)
	doneData := make([]float64, len(steps))
	var stateData, nextStateData []float64
	if p.space.HasState() {
		stateData = make([]float64, len(steps)*stateDim)
		nextStateData = make([]float64, len(steps)*stateDim)
	}

	for i, step := range steps {
		if step.NumAgents() != n || len(step.NextObs) != n {
			return nil, fmt.Errorf("buildbatch: timestep %v has an "+
				"invalid number of agents \n\twant(%v) \n\thave(%v)", i,
				n, step.NumAgents())
		}
		if len(step.Actions) != n || len(step.Rewards) != n {
			return nil, fmt.Errorf("buildbatch: timestep %v has "+
				"mismatched action or reward columns", i)
		}

		// The group reward is shared equally between the agents
		group := 0.0
		for _, r := range step.Rewards {
			group += r
		}
		share := group / float64(n)

		for a := 0; a < n; a++ {
			if step.Actions[a] < 0 || step.Actions[a] >= numActions {
				return nil, fmt.Errorf("buildbatch: timestep %v agent "+
					"%v took invalid action %v", i, a, step.Actions[a])
			}

			mask, obs, state, err := p.space.Unpack(step.Obs[a])
			if err != nil {
				return nil, fmt.Errorf("buildbatch: timestep %v agent "+
					"%v: %v", i, a, err)
			}
			nextMask, nextObs, nextState, err := p.space.Unpack(
				step.NextObs[a])
			if err != nil {
				return nil, fmt.Errorf("buildbatch: timestep %v agent "+
					"%v: %v", i, a, err)
			}

			row := i*n + a
			copy(obsData[row*obsDim:(row+1)*obsDim], obs)
			copy(nextObsData[row*obsDim:(row+1)*obsDim], nextObs)
			copy(maskData[row*numActions:(row+1)*numActions], mask)
			copy(nextMaskData[row*numActions:(row+1)*numActions],
				nextMask)
			actData[row] = float64(step.Actions[a])
			rewData[row] = share

			// Every agent reports the same global state; the group's
			// copy is taken from the first agent
			if a == 0 && p.space.HasState() {
				copy(stateData[i*stateDim:(i+1)*stateDim], state)
				copy(nextStateData[i*stateDim:(i+1)*stateDim],
					nextState)
			}
		}

		episodes[i] = step.EpisodeID
		groups[i] = step.GroupID
		indices[i] = step.Index
		if step.Done {
			doneData[i] = 1.0
		}
	}

	fields := []sequence.Field{
		{Name: "obs", Dims: []int{n, obsDim}, Data: obsData},
		{Name: "next_obs", Dims: []int{n, obsDim}, Data: nextObsData},
		{Name: "action_mask", Dims: []int{n, numActions},
			Data: maskData},
		{Name: "next_action_mask", Dims: []int{n, numActions},
			Data: nextMaskData},
		{Name: "act", Dims: []int{n}, Data: actData},
		{Name: "rew", Dims: []int{n}, Data: rewData},
		{Name: "done", Data: doneData},
	}
	if p.space.HasState() {
		fields = append(fields,
			sequence.Field{Name: "state", Dims: []int{stateDim},
				Data: stateData},
			sequence.Field{Name: "next_state", Dims: []int{stateDim},
				Data: nextStateData},
		)
	}

	padded, err := sequence.Chop(episodes, groups, indices, fields,
		p.config.MaxSeqLen)
	if err != nil {
		return nil, err
	}
	if p.config.RewardStandardize {
		standardize(padded.Fields["rew"].Data().([]float64))
	}

	return p.sliceBatch(padded)
}

// standardize rescales values in place to zero mean and unit variance.
func standardize(values []float64) {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	if len(values) > 1 {
		variance /= float64(len(values) - 1)
	}
	std := math.Sqrt(variance)

	for i := range values {
		values[i] = (values[i] - mean) / (std + 1e-5)
	}
}

// sliceBatch converts one padded batch into per-timestep tensors and
// slices.
func (p *Policy) sliceBatch(padded *sequence.Batch) (*trainBatch,
	error) {
	b, t := padded.B, padded.T
	n := p.space.NumAgents
	numActions := p.space.NumActions
	rows := b * n
	maskData := padded.MaskData()

	batch := &trainBatch{
		b:            b,
		t:            t,
		wholeObs:     make([]*tensor.Dense, t+1),
		actionOneHot: make([]*tensor.Dense, t),
		nextMask:     make([][]float64, t),
		valid:        make([][]float64, t),
		maskRows:     make([][]float64, t),
		rewards:      make([][]float64, t),
		terminated:   make([][]float64, t),
		targets:      make([][]float64, t),
	}
	useState := p.mixStateDim() > 0
	stateField, nextStateField := "state", "next_state"
	if useState && !p.space.HasState() {
		// Concatenated local observations stand in for the missing
		// global state
		stateField, nextStateField = "obs", "next_obs"
	}
	if useState {
		if (padded.Fields[stateField] == nil) !=
			(padded.Fields[nextStateField] == nil) {
			return nil, fmt.Errorf("slicebatch: state and next state " +
				"columns must be given together")
		}
		if padded.Fields[stateField] == nil {
			return nil, fmt.Errorf("slicebatch: conditioned mixing " +
				"requires state and next state columns")
		}
		batch.states = make([]*tensor.Dense, t)
		batch.nextStates = make([]*tensor.Dense, t)
	}

	// The observation sequence for unrolling covers T+1 timesteps: the
	// first observation followed by every next observation.
	first, err := tensorutils.TimeSlice(padded.Fields["obs"], 0)
	if err != nil {
		return nil, err
	}
	if err := first.Reshape(rows, p.space.ObsDim); err != nil {
		return nil, err
	}
	batch.wholeObs[0] = first
	for i := 0; i < t; i++ {
		next, err := tensorutils.TimeSlice(padded.Fields["next_obs"], i)
		if err != nil {
			return nil, err
		}
		if err := next.Reshape(rows, p.space.ObsDim); err != nil {
			return nil, err
		}
		batch.wholeObs[i+1] = next
	}

	for i := 0; i < t; i++ {
		act, err := tensorutils.TimeSlice(padded.Fields["act"], i)
		if err != nil {
			return nil, err
		}
		actFlat := act.Data().([]float64)
		oneHot := make([]float64, rows*numActions)
		for row := 0; row < rows; row++ {
			oneHot[row*numActions+int(actFlat[row])] = 1.0
		}
		batch.actionOneHot[i] = tensor.New(
			tensor.WithShape(rows, numActions),
			tensor.WithBacking(oneHot))

		nextMask, err := tensorutils.TimeSlice(
			padded.Fields["next_action_mask"], i)
		if err != nil {
			return nil, err
		}
		batch.nextMask[i] = nextMask.Data().([]float64)

		rew, err := tensorutils.TimeSlice(padded.Fields["rew"], i)
		if err != nil {
			return nil, err
		}
		batch.rewards[i] = rew.Data().([]float64)

		done, err := tensorutils.TimeSlice(padded.Fields["done"], i)
		if err != nil {
			return nil, err
		}
		doneFlat := done.Data().([]float64)

		valid := make([]float64, rows)
		lossMask := make([]float64, rows)
		terminated := make([]float64, rows)
		for row := 0; row < b; row++ {
			for a := 0; a < n; a++ {
				valid[row*n+a] = maskData[row*t+i]
				lossMask[row*n+a] = maskData[row*t+i]
				terminated[row*n+a] = doneFlat[row]
			}
		}
		batch.valid[i] = valid
		batch.maskRows[i] = lossMask
		batch.terminated[i] = terminated

		if useState {
			if batch.states[i], err = tensorutils.TimeSlice(
				padded.Fields[stateField], i); err != nil {
				return nil, err
			}
			if batch.nextStates[i], err = tensorutils.TimeSlice(
				padded.Fields[nextStateField], i); err != nil {
				return nil, err
			}
		}
	}

	for _, length := range padded.SeqLens {
		batch.envSteps += length
	}
	batch.maskCount = float64(batch.envSteps * n)
	return batch, nil
}

// computeTargets fills batch.targets with one-step TD targets computed
// from the target networks, using double-Q action selection when
// configured.
func (p *Policy) computeTargets(batch *trainBatch) error {
	n := p.space.NumAgents
	numActions := p.space.NumActions
	rows := batch.b * n

	onlineQ, _, err := p.evalRunner.Unroll(batch.wholeObs)
	if err != nil {
		return fmt.Errorf("computetargets: %v", err)
	}
	targetQ, _, err := p.targets.runner.Unroll(batch.wholeObs)
	if err != nil {
		return fmt.Errorf("computetargets: %v", err)
	}

	for i := 0; i < batch.t; i++ {
		online := onlineQ[i+1].Data().([]float64)
		target := targetQ[i+1].Data().([]float64)
		applyNextActionMask(online, batch.nextMask[i], batch.valid[i],
			numActions)
		applyNextActionMask(target, batch.nextMask[i], batch.valid[i],
			numActions)

		values, err := selectTargetValues(online, target,
			batch.valid[i], rows, numActions, p.config.DoubleQ)
		if err != nil {
			return fmt.Errorf("computetargets: timestep %v: %v", i, err)
		}

		targets := make([]float64, rows)
		if p.onlineMix != nil {
			var state *tensor.Dense
			if batch.nextStates != nil {
				state = batch.nextStates[i]
			}
			mixed, err := p.targets.mixRun.Forward(
				tensor.New(tensor.WithShape(batch.b, n),
					tensor.WithBacking(values)), state)
			if err != nil {
				return fmt.Errorf("computetargets: timestep %v: %v", i,
					err)
			}

			// The mixed joint value bootstraps every agent's target
			for row := 0; row < batch.b; row++ {
				for a := 0; a < n; a++ {
					flat := row*n + a
					targets[flat] = tdTarget(batch.rewards[i][flat],
						mixed[row], batch.terminated[i][flat],
						p.config.Discount)
				}
			}
		} else {
			for row := 0; row < rows; row++ {
				targets[row] = tdTarget(batch.rewards[i][row],
					values[row], batch.terminated[i][row],
					p.config.Discount)
			}
		}
		batch.targets[i] = targets
	}
	return nil
}

// stats computes the masked summary statistics of one update.
func (p *Policy) stats(batch *trainBatch, loss, gradNorm float64,
	chosen [][]float64) Stats {
	n := p.space.NumAgents

	var tdAbs, qTaken, target float64
	for i := 0; i < batch.t; i++ {
		for row := 0; row < batch.b; row++ {
			for a := 0; a < n; a++ {
				flat := row*n + a
				if batch.maskRows[i][flat] == 0 {
					continue
				}

				var value float64
				if p.onlineMix != nil {
					value = chosen[i][row]
				} else {
					value = chosen[i][flat]
				}
				tdAbs += math.Abs(value - batch.targets[i][flat])
				qTaken += value
				target += batch.targets[i][flat]
			}
		}
	}

	return Stats{
		Loss:       loss,
		GradNorm:   gradNorm,
		TDErrorAbs: tdAbs / batch.maskCount,
		QTakenMean: qTaken / batch.maskCount,
		TargetMean: target / batch.maskCount,
	}
}
