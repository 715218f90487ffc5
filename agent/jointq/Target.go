package jointq

import (
	"fmt"

	G "gorgonia.org/gorgonia"

	"github.com/thomasychen/rm-marllib/mixer"
	"github.com/thomasychen/rm-marllib/network"
)

// targets holds the lagged copies of the estimator and mixer used to
// compute bootstrap values. The copies live on their own graphs and
// are evaluated numerically; they are hard-synchronized from the
// online weights every updateFreq environment steps.
type targets struct {
	runner *network.StepRunner
	mixRun *mixer.Runner

	agents   int
	stateDim int

	updateFreq int
	sinceSync  int
}

// newTargets creates target copies of the online estimator and mixer,
// initially identical to them, sized for batches of b sequences.
func newTargets(est network.Estimator, mix mixer.Mixer, b, agents,
	stateDim, updateFreq int) (*targets, error) {
	t := &targets{
		agents:     agents,
		stateDim:   stateDim,
		updateFreq: updateFreq,
	}
	if err := t.rebuild(est, mix, b); err != nil {
		return nil, err
	}
	return t, nil
}

// rebuild compiles fresh runners for a new batch size, cloning the
// weights from the given sources.
func (t *targets) rebuild(est network.Estimator, mix mixer.Mixer,
	b int) error {
	clone, err := est.CloneWithBatch(b*t.agents, G.NewGraph())
	if err != nil {
		return fmt.Errorf("rebuild: could not clone target "+
			"estimator: %v", err)
	}
	if t.runner, err = network.NewStepRunner(clone); err != nil {
		return fmt.Errorf("rebuild: %v", err)
	}

	t.mixRun = nil
	if mix != nil {
		t.mixRun, err = mixer.NewRunner(mix, b, t.agents, t.stateDim)
		if err != nil {
			return fmt.Errorf("rebuild: %v", err)
		}
	}
	return nil
}

// resize adapts the runners to a new batch size without losing the
// target weights: the new runners are cloned from the current target
// copies, so a stale target stays stale until its next scheduled sync.
func (t *targets) resize(b int) error {
	var mix mixer.Mixer
	if t.mixRun != nil {
		mix = t.mixRun.Mixer()
	}
	return t.rebuild(t.runner.Estimator(), mix, b)
}

// tick advances the synchronization clock by n environment steps and
// reports whether a hard sync is now due.
func (t *targets) tick(n int) bool {
	t.sinceSync += n
	return t.sinceSync >= t.updateFreq
}

// sync copies the online weights into the target copies and resets the
// synchronization clock.
func (t *targets) sync(est network.Estimator, mix mixer.Mixer) error {
	if err := t.runner.Estimator().Set(est); err != nil {
		return fmt.Errorf("sync: could not copy estimator weights: %v",
			err)
	}
	if t.mixRun != nil {
		if err := t.mixRun.Mixer().Set(mix); err != nil {
			return fmt.Errorf("sync: could not copy mixer weights: %v",
				err)
		}
	}
	t.sinceSync = 0
	return nil
}
