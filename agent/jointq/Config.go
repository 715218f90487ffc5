// Package jointq implements cooperative value-decomposition Q-learning
// for agent groups. Each agent produces an individual action-value
// estimate from its local observation; a mixing function combines the
// per-agent values into one joint action value used as the training
// target, while execution stays decentralized. With the additive mixer
// this is VDN, with the conditioned mixer QMIX, and with no mixer
// independent Q-learning.
package jointq

import (
	"fmt"

	"github.com/thomasychen/rm-marllib/initwfn"
	"github.com/thomasychen/rm-marllib/mixer"
	"github.com/thomasychen/rm-marllib/network"
	"github.com/thomasychen/rm-marllib/solver"
)

// Arch selects the estimator architecture.
type Arch string

// Available estimator architectures
const (
	MLP Arch = "mlp"
	RNN Arch = "rnn"
)

// Config implements a configuration for a joint Q-learning Policy.
type Config struct {
	// Discount is the per-step reward discount γ.
	Discount float64

	// DoubleQ selects double-Q target estimation: the online network
	// picks the greedy next action, the target network evaluates it.
	DoubleQ bool

	// Mixer selects the mixing strategy. MixingEmbedDim sizes the
	// conditioned mixer's embedding and is ignored otherwise.
	Mixer          mixer.Kind
	MixingEmbedDim int

	// MaxSeqLen caps training sequence length; longer episode
	// fragments are split into consecutive sub-sequences.
	MaxSeqLen int

	// TargetUpdateFreq is the number of environment steps between
	// hard target network synchronizations.
	TargetUpdateFreq int

	// GradNormClip bounds the joint L2 norm of the gradients; <= 0
	// disables clipping.
	GradNormClip float64

	// RewardStandardize rescales rewards to zero mean and unit
	// variance within each training batch.
	RewardStandardize bool

	// Epsilon-greedy exploration schedule: ε anneals linearly from
	// EpsilonInitial to EpsilonFinal over EpsilonAnnealSteps
	// environment steps, then holds.
	EpsilonInitial     float64
	EpsilonFinal       float64
	EpsilonAnnealSteps int

	// Estimator architecture. HiddenSizes, Biases and Activations
	// configure the MLP estimator; CellSize sizes the recurrent
	// estimator's GRU cell.
	CoreArch    Arch
	HiddenSizes []int
	Biases      []bool
	Activations []*network.Activation
	CellSize    int

	// InitWFn initializes estimator and mixer weights.
	InitWFn *initwfn.InitWFn

	// Solver adapts the online weights.
	Solver *solver.Solver

	Seed uint64
}

// Schedule returns the exploration schedule described by the Config.
func (c Config) Schedule() EpsilonSchedule {
	return EpsilonSchedule{
		Initial:     c.EpsilonInitial,
		Final:       c.EpsilonFinal,
		AnnealSteps: c.EpsilonAnnealSteps,
	}
}

// Validate checks a Config to ensure it is a valid configuration of a
// joint Q-learning Policy.
func (c Config) Validate() error {
	if c.Discount < 0 || c.Discount > 1 {
		return fmt.Errorf("validate: invalid discount \n\twant([0, 1])"+
			" \n\thave(%v)", c.Discount)
	}

	if !c.Mixer.Valid() {
		return fmt.Errorf("validate: unsupported mixer kind %q", c.Mixer)
	}
	if c.Mixer == mixer.QMix && c.MixingEmbedDim < 1 {
		return fmt.Errorf("validate: invalid mixing embedding size "+
			"\n\twant(>0) \n\thave(%v)", c.MixingEmbedDim)
	}

	if c.MaxSeqLen < 1 {
		return fmt.Errorf("validate: invalid maximum sequence length "+
			"\n\twant(>0) \n\thave(%v)", c.MaxSeqLen)
	}

	if c.TargetUpdateFreq < 1 {
		return fmt.Errorf("validate: target networks must be updated "+
			"at positive timestep intervals \n\twant(>0) \n\thave(%v)",
			c.TargetUpdateFreq)
	}

	if c.EpsilonInitial < c.EpsilonFinal {
		return fmt.Errorf("validate: exploration must anneal "+
			"downwards \n\tinitial(%v) \n\tfinal(%v)", c.EpsilonInitial,
			c.EpsilonFinal)
	}
	if c.EpsilonAnnealSteps < 0 {
		return fmt.Errorf("validate: negative exploration horizon %v",
			c.EpsilonAnnealSteps)
	}

	switch c.CoreArch {
	case MLP:
		if len(c.HiddenSizes) != len(c.Biases) {
			return fmt.Errorf("validate: invalid number of biases"+
				"\n\twant(%v)\n\thave(%v)", len(c.HiddenSizes),
				len(c.Biases))
		}
		if len(c.HiddenSizes) != len(c.Activations) {
			return fmt.Errorf("validate: invalid number of activations"+
				"\n\twant(%v)\n\thave(%v)", len(c.HiddenSizes),
				len(c.Activations))
		}
	case RNN:
		if c.CellSize < 1 {
			return fmt.Errorf("validate: invalid recurrent cell size "+
				"\n\twant(>0) \n\thave(%v)", c.CellSize)
		}
	default:
		return fmt.Errorf("validate: unsupported estimator "+
			"architecture %q", c.CoreArch)
	}

	if c.InitWFn == nil {
		return fmt.Errorf("validate: no weight initializer given")
	}
	if c.Solver == nil {
		return fmt.Errorf("validate: unsupported optimizer: no solver " +
			"given")
	}

	return nil
}
