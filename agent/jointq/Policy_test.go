package jointq_test

import (
	"math"
	"testing"

	"gorgonia.org/tensor"

	"github.com/thomasychen/rm-marllib/agent/jointq"
	"github.com/thomasychen/rm-marllib/initwfn"
	"github.com/thomasychen/rm-marllib/mixer"
	"github.com/thomasychen/rm-marllib/network"
	"github.com/thomasychen/rm-marllib/solver"
	"github.com/thomasychen/rm-marllib/timestep"
)

const (
	numAgents  = 2
	numActions = 3
	obsDim     = 4
	stateDim   = 2
)

func testSpace(t *testing.T) timestep.ObsSpace {
	t.Helper()
	space, err := timestep.NewObsSpace(numAgents, numActions, obsDim,
		stateDim, true)
	if err != nil {
		t.Fatalf("newobsspace: %v", err)
	}
	return space
}

func testConfig(t *testing.T, kind mixer.Kind) jointq.Config {
	t.Helper()
	sol, err := solver.NewDefaultRMSProp(0.001, 1)
	if err != nil {
		t.Fatalf("newdefaultrmsprop: %v", err)
	}
	initWFn, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatalf("newglorotu: %v", err)
	}

	return jointq.Config{
		Discount:           0.9,
		DoubleQ:            true,
		Mixer:              kind,
		MixingEmbedDim:     8,
		MaxSeqLen:          8,
		TargetUpdateFreq:   1000,
		GradNormClip:       10,
		EpsilonInitial:     1.0,
		EpsilonFinal:       0.05,
		EpsilonAnnealSteps: 100,
		CoreArch:           jointq.RNN,
		CellSize:           8,
		InitWFn:            initWFn,
		Solver:             sol,
		Seed:               192382,
	}
}

// rawObs builds one raw per-agent observation: mask, then a
// deterministic local observation, then the shared state.
func rawObs(mask []float64, agent, index int) []float64 {
	raw := make([]float64, numActions+obsDim+stateDim)
	copy(raw, mask)
	for j := 0; j < obsDim; j++ {
		raw[numActions+j] = 0.1*float64(agent+1) +
			0.01*float64(index*obsDim+j)
	}
	raw[numActions+obsDim] = float64(index)
	raw[numActions+obsDim+1] = 1.0
	return raw
}

func fullMask() []float64 {
	mask := make([]float64, numActions)
	for i := range mask {
		mask[i] = 1.0
	}
	return mask
}

func groupObs(index int) [][]float64 {
	obs := make([][]float64, numAgents)
	for a := range obs {
		obs[a] = rawObs(fullMask(), a, index)
	}
	return obs
}

// episode builds one synthetic episode of group timesteps.
func episode(id int64, length int) []timestep.Step {
	steps := make([]timestep.Step, length)
	for i := 0; i < length; i++ {
		steps[i] = timestep.Step{
			EpisodeID: id,
			Index:     i,
			Obs:       groupObs(i),
			NextObs:   groupObs(i + 1),
			Actions:   []int{i % numActions, (i + 1) % numActions},
			Rewards:   []float64{0.5, 0.5},
			Done:      i == length-1,
		}
	}
	return steps
}

func TestNewValidatesConfig(t *testing.T) {
	config := testConfig(t, mixer.VDN)
	config.Discount = 1.5
	if _, err := jointq.New(testSpace(t), config); err == nil {
		t.Error("new: expected error for invalid discount")
	}

	config = testConfig(t, mixer.QMix)
	config.MixingEmbedDim = 0
	if _, err := jointq.New(testSpace(t), config); err == nil {
		t.Error("new: expected error for invalid mixing embedding " +
			"size")
	}
}

// TestQMixWithoutState checks that conditioned mixing falls back to
// the concatenated local observations when the group records no
// global state.
func TestQMixWithoutState(t *testing.T) {
	space, err := timestep.NewObsSpace(numAgents, numActions, obsDim,
		0, true)
	if err != nil {
		t.Fatalf("newobsspace: %v", err)
	}
	policy, err := jointq.New(space, testConfig(t, mixer.QMix))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	steps := episode(0, 4)
	for i := range steps {
		for a := 0; a < numAgents; a++ {
			steps[i].Obs[a] = steps[i].Obs[a][:numActions+obsDim]
			steps[i].NextObs[a] = steps[i].NextObs[a][:numActions+obsDim]
		}
	}

	stats, err := policy.Learn(steps)
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	checkStats(t, "qmix stateless", stats)
}

// TestSelectActionsGreedyDeterministic checks that greedy action
// selection is a pure function of the observation and hidden state.
func TestSelectActionsGreedyDeterministic(t *testing.T) {
	policy, err := jointq.New(testSpace(t), testConfig(t, mixer.VDN))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	first, _, err := policy.SelectActions(groupObs(0), nil, 0, false)
	if err != nil {
		t.Fatalf("selectactions: %v", err)
	}
	second, _, err := policy.SelectActions(groupObs(0), nil, 0, false)
	if err != nil {
		t.Fatalf("selectactions: %v", err)
	}

	for i := 0; i < numAgents; i++ {
		a := int(first.AtVec(i))
		if a < 0 || a >= numActions {
			t.Errorf("agent %v selected out-of-range action %v", i, a)
		}
		if first.AtVec(i) != second.AtVec(i) {
			t.Errorf("greedy selection is not deterministic for "+
				"agent %v: %v != %v", i, first.AtVec(i),
				second.AtVec(i))
		}
	}
}

// TestSelectActionsRespectsMask checks that fully random exploration
// never selects an invalid action.
func TestSelectActionsRespectsMask(t *testing.T) {
	policy, err := jointq.New(testSpace(t), testConfig(t, mixer.VDN))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	// One valid action per agent
	obs := [][]float64{
		rawObs([]float64{0, 0, 1}, 0, 0),
		rawObs([]float64{1, 0, 0}, 1, 0),
	}

	for trial := 0; trial < 25; trial++ {
		// Step 0 keeps ε at its initial value of 1
		actions, _, err := policy.SelectActions(obs, nil, 0, true)
		if err != nil {
			t.Fatalf("selectactions: %v", err)
		}
		if actions.AtVec(0) != 2 || actions.AtVec(1) != 0 {
			t.Fatalf("invalid action selected: (%v, %v)",
				actions.AtVec(0), actions.AtVec(1))
		}
	}

	if policy.Epsilon() != 1.0 {
		t.Errorf("epsilon: got %v, want 1.0", policy.Epsilon())
	}
}

func TestSelectActionsAllMaskedFatal(t *testing.T) {
	policy, err := jointq.New(testSpace(t), testConfig(t, mixer.VDN))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	obs := [][]float64{
		rawObs([]float64{0, 0, 0}, 0, 0),
		rawObs(fullMask(), 1, 0),
	}
	if _, _, err := policy.SelectActions(obs, nil, 0, true); err == nil {
		t.Error("selectactions: expected error when every action is " +
			"masked")
	}
}

// TestLearn runs training updates for every mixing strategy and both
// estimator architectures, including a batch shape change between
// updates.
func TestLearn(t *testing.T) {
	kinds := []mixer.Kind{mixer.None, mixer.VDN, mixer.QMix}

	for _, kind := range kinds {
		config := testConfig(t, kind)
		policy, err := jointq.New(testSpace(t), config)
		if err != nil {
			t.Fatalf("%v: new: %v", kind, err)
		}

		stats, err := policy.Learn(episode(0, 4))
		if err != nil {
			t.Fatalf("%v: learn: %v", kind, err)
		}
		checkStats(t, string(kind), stats)

		// A second update with a different batch shape exercises the
		// graph rebuild
		steps := append(episode(1, 6), episode(2, 3)...)
		stats, err = policy.Learn(steps)
		if err != nil {
			t.Fatalf("%v: learn after reshape: %v", kind, err)
		}
		checkStats(t, string(kind), stats)
	}
}

// TestLearnMLP runs one update with the feedforward estimator and
// reward standardization.
func TestLearnMLP(t *testing.T) {
	config := testConfig(t, mixer.VDN)
	config.CoreArch = jointq.MLP
	config.HiddenSizes = []int{8}
	config.Biases = []bool{true}
	config.Activations = nil
	config.RewardStandardize = true

	// One hidden layer needs one activation
	if _, err := jointq.New(testSpace(t), config); err == nil {
		t.Fatal("new: expected error for missing activations")
	}

	config.Activations = []*network.Activation{network.ReLU()}
	policy, err := jointq.New(testSpace(t), config)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	stats, err := policy.Learn(episode(0, 5))
	if err != nil {
		t.Fatalf("learn: %v", err)
	}
	checkStats(t, "mlp", stats)
}

func checkStats(t *testing.T, name string, stats jointq.Stats) {
	t.Helper()
	values := map[string]float64{
		"loss":         stats.Loss,
		"grad norm":    stats.GradNorm,
		"td error abs": stats.TDErrorAbs,
		"q taken mean": stats.QTakenMean,
		"target mean":  stats.TargetMean,
	}
	for stat, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			t.Errorf("%v: %v is not finite: %v", name, stat, value)
		}
	}
	if stats.Loss < 0 {
		t.Errorf("%v: negative loss %v", name, stats.Loss)
	}
	if stats.TDErrorAbs < 0 {
		t.Errorf("%v: negative absolute td error %v", name,
			stats.TDErrorAbs)
	}
}

// TestTargetSyncSchedule checks that target weights stay frozen until
// the synchronization interval elapses, then match the online weights
// exactly.
func TestTargetSyncSchedule(t *testing.T) {
	// A long interval freezes the targets across this update
	config := testConfig(t, mixer.VDN)
	policy, err := jointq.New(testSpace(t), config)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	before := policy.GetWeights()[jointq.WeightsTargetModel]
	if _, err := policy.Learn(episode(0, 4)); err != nil {
		t.Fatalf("learn: %v", err)
	}
	after := policy.GetWeights()

	if !weightsEqual(before, after[jointq.WeightsTargetModel]) {
		t.Error("target weights changed before the synchronization " +
			"interval elapsed")
	}
	if weightsEqual(after[jointq.WeightsModel],
		after[jointq.WeightsTargetModel]) {
		t.Error("online weights did not move away from the frozen " +
			"targets")
	}

	// An interval of one environment step syncs on every update
	config.TargetUpdateFreq = 1
	policy, err = jointq.New(testSpace(t), config)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := policy.Learn(episode(0, 4)); err != nil {
		t.Fatalf("learn: %v", err)
	}

	w := policy.GetWeights()
	if !weightsEqual(w[jointq.WeightsModel],
		w[jointq.WeightsTargetModel]) {
		t.Error("target weights were not synchronized")
	}
}

// TestWeightsRoundTrip checks that transferring a trained policy's
// state into a freshly constructed twin reproduces its behaviour.
func TestWeightsRoundTrip(t *testing.T) {
	config := testConfig(t, mixer.QMix)
	trained, err := jointq.New(testSpace(t), config)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := trained.Learn(episode(0, 4)); err != nil {
		t.Fatalf("learn: %v", err)
	}

	fresh, err := jointq.New(testSpace(t), config)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := fresh.SetState(trained.GetState()); err != nil {
		t.Fatalf("setstate: %v", err)
	}

	want, _, err := trained.SelectActions(groupObs(0), nil, 0, false)
	if err != nil {
		t.Fatalf("selectactions: %v", err)
	}
	got, _, err := fresh.SelectActions(groupObs(0), nil, 0, false)
	if err != nil {
		t.Fatalf("selectactions: %v", err)
	}
	for i := 0; i < numAgents; i++ {
		if want.AtVec(i) != got.AtVec(i) {
			t.Errorf("agent %v: got action %v, want %v", i,
				got.AtVec(i), want.AtVec(i))
		}
	}

	if fresh.Epsilon() != trained.Epsilon() {
		t.Errorf("epsilon: got %v, want %v", fresh.Epsilon(),
			trained.Epsilon())
	}
}

func weightsEqual(a, b []*tensor.Dense) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x := a[i].Data().([]float64)
		y := b[i].Data().([]float64)
		if len(x) != len(y) {
			return false
		}
		for j := range x {
			if x[j] != y[j] {
				return false
			}
		}
	}
	return true
}
