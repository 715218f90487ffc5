package jointq_test

import (
	"math"
	"testing"

	"github.com/thomasychen/rm-marllib/agent/jointq"
)

// TestScheduleAnnealsLinearly checks the endpoints and midpoint of the
// linear ε schedule.
func TestScheduleAnnealsLinearly(t *testing.T) {
	schedule := jointq.EpsilonSchedule{
		Initial:     1.0,
		Final:       0.1,
		AnnealSteps: 100,
	}

	if got := schedule.Value(0); got != 1.0 {
		t.Errorf("value(0): got %v, want 1.0", got)
	}
	if got := schedule.Value(50); math.Abs(got-0.55) > 1e-12 {
		t.Errorf("value(50): got %v, want 0.55", got)
	}
	if got := schedule.Value(100); got != 0.1 {
		t.Errorf("value(100): got %v, want 0.1", got)
	}
	if got := schedule.Value(1000000); got != 0.1 {
		t.Errorf("value beyond horizon: got %v, want 0.1", got)
	}
}

// TestScheduleNeverIncreases checks monotonicity over the whole
// horizon.
func TestScheduleNeverIncreases(t *testing.T) {
	schedule := jointq.EpsilonSchedule{
		Initial:     0.8,
		Final:       0.05,
		AnnealSteps: 37,
	}

	prev := math.Inf(1)
	for step := int64(0); step <= 40; step++ {
		value := schedule.Value(step)
		if value > prev {
			t.Fatalf("ε increased from %v to %v at step %v", prev,
				value, step)
		}
		prev = value
	}
}

// TestScheduleZeroHorizon checks that a zero-step horizon holds the
// final rate from the first step on.
func TestScheduleZeroHorizon(t *testing.T) {
	schedule := jointq.EpsilonSchedule{Initial: 1.0, Final: 0.2}

	if got := schedule.Value(0); got != 1.0 {
		t.Errorf("value(0): got %v, want 1.0", got)
	}
	if got := schedule.Value(1); got != 0.2 {
		t.Errorf("value(1): got %v, want 0.2", got)
	}
}
