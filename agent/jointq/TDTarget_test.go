package jointq

import (
	"math"
	"testing"
)

func TestTDTarget(t *testing.T) {
	if got := tdTarget(1.0, 2.0, 0.0, 0.9); math.Abs(got-2.8) > 1e-12 {
		t.Errorf("tdtarget: got %v, want 2.8", got)
	}

	// Termination cuts the bootstrap
	if got := tdTarget(1.0, 2.0, 1.0, 0.9); got != 1.0 {
		t.Errorf("tdtarget at termination: got %v, want 1.0", got)
	}
}

func TestApplyNextActionMask(t *testing.T) {
	q := []float64{1, 2, 3, 4, 5, 6}
	nextMask := []float64{1, 0, 1, 0, 0, 0}
	valid := []float64{1, 0}

	applyNextActionMask(q, nextMask, valid, 3)

	if q[0] != 1 || q[2] != 3 {
		t.Errorf("valid actions were modified: %v", q)
	}
	if !math.IsInf(q[1], -1) {
		t.Errorf("masked action was not set to -Inf: %v", q[1])
	}

	// Padded rows stay untouched even with a zero mask
	for i := 3; i < 6; i++ {
		if q[i] != float64(i+1) {
			t.Errorf("padded row was modified: %v", q)
		}
	}
}

func TestSelectTargetValues(t *testing.T) {
	online := []float64{1, 5, 3}
	target := []float64{10, 20, 30}
	valid := []float64{1}

	// Double-Q: the online argmax picks action 1, the target network
	// evaluates it
	values, err := selectTargetValues(online, target, valid, 1, 3, true)
	if err != nil {
		t.Fatalf("selecttargetvalues: %v", err)
	}
	if values[0] != 20 {
		t.Errorf("double-q value: got %v, want 20", values[0])
	}

	// Plain max over the target network
	values, err = selectTargetValues(online, target, valid, 1, 3, false)
	if err != nil {
		t.Fatalf("selecttargetvalues: %v", err)
	}
	if values[0] != 30 {
		t.Errorf("max value: got %v, want 30", values[0])
	}
}

func TestSelectTargetValuesNeverPicksMasked(t *testing.T) {
	online := []float64{1, 2, 3}
	target := []float64{10, 20, 30}
	nextMask := []float64{1, 1, 0}
	valid := []float64{1}

	applyNextActionMask(online, nextMask, valid, 3)
	applyNextActionMask(target, nextMask, valid, 3)

	values, err := selectTargetValues(online, target, valid, 1, 3, true)
	if err != nil {
		t.Fatalf("selecttargetvalues: %v", err)
	}
	if values[0] != 20 {
		t.Errorf("double-q skipped the mask: got %v, want 20",
			values[0])
	}
}

func TestSelectTargetValuesAllMaskedFatal(t *testing.T) {
	online := []float64{1, 2}
	target := []float64{10, 20}
	nextMask := []float64{0, 0}
	valid := []float64{1}

	applyNextActionMask(online, nextMask, valid, 2)
	applyNextActionMask(target, nextMask, valid, 2)

	if _, err := selectTargetValues(online, target, valid, 1, 2,
		true); err == nil {
		t.Error("selecttargetvalues: expected error when every " +
			"action is masked")
	}
}
