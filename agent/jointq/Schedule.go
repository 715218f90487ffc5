package jointq

// EpsilonSchedule linearly anneals the exploration rate ε from Initial
// to Final over AnnealSteps environment steps, then holds Final. The
// schedule is a pure function of the step argument, so ε can be
// recomputed idempotently from any step number.
type EpsilonSchedule struct {
	Initial     float64
	Final       float64
	AnnealSteps int
}

// Value returns ε at the given environment step.
func (s EpsilonSchedule) Value(step int64) float64 {
	if step <= 0 {
		return s.Initial
	}
	if step >= int64(s.AnnealSteps) {
		return s.Final
	}

	progress := float64(step) / float64(s.AnnealSteps)
	return s.Initial + progress*(s.Final-s.Initial)
}
