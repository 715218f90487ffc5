package jointq

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Weight collection keys
const (
	WeightsModel       = "model"
	WeightsTargetModel = "target_model"
	WeightsMixer       = "mixer"
	WeightsTargetMixer = "target_mixer"
)

// Weights is a snapshot of every network parameter of a Policy. The
// mixer entries are nil for independent learners.
type Weights map[string][]*tensor.Dense

// State is a full training snapshot: the weights plus the exploration
// rate in effect when the snapshot was taken.
type State struct {
	Weights Weights
	Epsilon float64
}

// GetWeights exports cloned copies of the online and target parameters.
func (p *Policy) GetWeights() Weights {
	w := Weights{
		WeightsModel:       p.online.Weights(),
		WeightsTargetModel: p.targets.runner.Estimator().Weights(),
		WeightsMixer:       nil,
		WeightsTargetMixer: nil,
	}
	if p.onlineMix != nil {
		w[WeightsMixer] = p.onlineMix.Weights()
		w[WeightsTargetMixer] = p.targets.mixRun.Mixer().Weights()
	}
	return w
}

// SetWeights overwrites the Policy's parameters with a snapshot
// produced by GetWeights on an identically configured Policy.
func (p *Policy) SetWeights(w Weights) error {
	if values := w[WeightsModel]; values != nil {
		if err := p.online.SetWeights(values); err != nil {
			return fmt.Errorf("setweights: %v", err)
		}
		if p.actRunner.Estimator() != p.online {
			if err := p.actRunner.Estimator().Set(p.online); err != nil {
				return fmt.Errorf("setweights: %v", err)
			}
		}
		if p.evalRunner != nil {
			if err := p.evalRunner.Estimator().Set(p.online); err != nil {
				return fmt.Errorf("setweights: %v", err)
			}
		}
	}
	if values := w[WeightsTargetModel]; values != nil {
		err := p.targets.runner.Estimator().SetWeights(values)
		if err != nil {
			return fmt.Errorf("setweights: %v", err)
		}
	}

	if p.onlineMix == nil {
		if w[WeightsMixer] != nil || w[WeightsTargetMixer] != nil {
			return fmt.Errorf("setweights: unexpected mixer weights " +
				"for an independent learner")
		}
		return nil
	}
	if values := w[WeightsMixer]; values != nil {
		if err := p.onlineMix.SetWeights(values); err != nil {
			return fmt.Errorf("setweights: %v", err)
		}
	}
	if values := w[WeightsTargetMixer]; values != nil {
		err := p.targets.mixRun.Mixer().SetWeights(values)
		if err != nil {
			return fmt.Errorf("setweights: %v", err)
		}
	}
	return nil
}

// GetState snapshots the Policy's weights and exploration rate.
func (p *Policy) GetState() State {
	return State{Weights: p.GetWeights(), Epsilon: p.curEpsilon}
}

// SetState restores a snapshot produced by GetState.
func (p *Policy) SetState(s State) error {
	if err := p.SetWeights(s.Weights); err != nil {
		return fmt.Errorf("setstate: %v", err)
	}
	p.curEpsilon = s.Epsilon
	return nil
}
