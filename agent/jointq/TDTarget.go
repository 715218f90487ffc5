package jointq

import (
	"fmt"
	"math"

	"github.com/thomasychen/rm-marllib/utils/floatutils"
)

// applyNextActionMask forces the value of every action that is invalid
// at the next timestep to -Inf, in place, so that no subsequent max or
// argmax can select it. q and nextMask are row-major [rows, actions];
// valid marks the rows holding real (unpadded) data. Padded rows are
// left untouched: their values never reach a TD target.
func applyNextActionMask(q, nextMask, valid []float64, actions int) {
	rows := len(q) / actions
	for row := 0; row < rows; row++ {
		if valid[row] == 0 {
			continue
		}
		base := row * actions
		for a := 0; a < actions; a++ {
			if nextMask[base+a] == 0 {
				q[base+a] = math.Inf(-1)
			}
		}
	}
}

// selectTargetValues computes the bootstrap value for every row of one
// next-step timestep. With double-Q, the greedy action is chosen from
// the online network's values and evaluated by the target network;
// otherwise the target network's maximum is used directly. Both value
// slices must already have invalid next actions masked to -Inf.
//
// A valid row whose selected value is -Inf has no valid action at all,
// which signals malformed upstream trajectory construction and is
// returned as an error rather than silently recovered.
func selectTargetValues(onlineQ, targetQ, valid []float64, rows,
	actions int, doubleQ bool) ([]float64, error) {
	values := make([]float64, rows)
	for row := 0; row < rows; row++ {
		base := row * actions
		var value float64
		if doubleQ {
			greedy := floatutils.ArgMax(onlineQ[base : base+actions])
			value = targetQ[base+greedy]
		} else {
			value = floatutils.Max(targetQ[base : base+actions]...)
		}

		if valid[row] == 1 && math.IsInf(value, -1) {
			return nil, fmt.Errorf("selecttargetvalues: no valid "+
				"action for row %v: every action is masked", row)
		}
		values[row] = value
	}
	return values, nil
}

// tdTarget returns the one-step temporal-difference target
// r + γ(1-terminated)v. The target value v is a constant for gradient
// purposes: it is computed outside the training graph.
func tdTarget(reward, value, terminated, discount float64) float64 {
	return reward + discount*(1-terminated)*value
}
