package sequence_test

import (
	"testing"

	"github.com/thomasychen/rm-marllib/sequence"
)

// TestChopPadsToLongestRun ensures that two episodes of different
// lengths are padded to a rectangular batch with the correct validity
// mask and zero padding.
func TestChopPadsToLongestRun(t *testing.T) {
	episodes := []int64{0, 0, 0, 1, 1, 1, 1, 1}
	groups := make([]int64, len(episodes))
	indices := []int{0, 1, 2, 0, 1, 2, 3, 4}

	rew := make([]float64, len(episodes))
	for i := range rew {
		rew[i] = float64(i + 1)
	}
	fields := []sequence.Field{{Name: "rew", Data: rew}}

	batch, err := sequence.Chop(episodes, groups, indices, fields, 10)
	if err != nil {
		t.Fatalf("chop: %v", err)
	}

	if batch.B != 2 || batch.T != 5 {
		t.Fatalf("chop: invalid batch shape: got (%v, %v), want (2, 5)",
			batch.B, batch.T)
	}
	if batch.SeqLens[0] != 3 || batch.SeqLens[1] != 5 {
		t.Errorf("chop: invalid sequence lengths %v", batch.SeqLens)
	}

	wantMask := []float64{1, 1, 1, 0, 0, 1, 1, 1, 1, 1}
	for i, want := range wantMask {
		if got := batch.MaskData()[i]; got != want {
			t.Errorf("mask[%v]: got %v, want %v", i, got, want)
		}
	}

	wantRew := []float64{1, 2, 3, 0, 0, 4, 5, 6, 7, 8}
	got := batch.Fields["rew"].Data().([]float64)
	for i, want := range wantRew {
		if got[i] != want {
			t.Errorf("rew[%v]: got %v, want %v", i, got[i], want)
		}
	}
}

// TestChopOrdersByIndex ensures timesteps are placed by within-episode
// index regardless of their order in the input.
func TestChopOrdersByIndex(t *testing.T) {
	episodes := []int64{0, 0, 0}
	groups := []int64{0, 0, 0}
	indices := []int{2, 0, 1}
	fields := []sequence.Field{{Name: "x", Data: []float64{30, 10, 20}}}

	batch, err := sequence.Chop(episodes, groups, indices, fields, 10)
	if err != nil {
		t.Fatalf("chop: %v", err)
	}

	want := []float64{10, 20, 30}
	got := batch.Fields["x"].Data().([]float64)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("x[%v]: got %v, want %v", i, got[i], want[i])
		}
	}
}

// TestChopSplitsLongRuns ensures runs longer than the maximum sequence
// length are split into consecutive sub-sequences.
func TestChopSplitsLongRuns(t *testing.T) {
	n := 7
	episodes := make([]int64, n)
	groups := make([]int64, n)
	indices := make([]int, n)
	x := make([]float64, n)
	for i := 0; i < n; i++ {
		indices[i] = i
		x[i] = float64(i)
	}
	fields := []sequence.Field{{Name: "x", Data: x}}

	batch, err := sequence.Chop(episodes, groups, indices, fields, 3)
	if err != nil {
		t.Fatalf("chop: %v", err)
	}

	if batch.B != 3 || batch.T != 3 {
		t.Fatalf("chop: invalid batch shape: got (%v, %v), want (3, 3)",
			batch.B, batch.T)
	}
	wantLens := []int{3, 3, 1}
	for i, want := range wantLens {
		if batch.SeqLens[i] != want {
			t.Errorf("seqlens[%v]: got %v, want %v", i,
				batch.SeqLens[i], want)
		}
	}

	want := []float64{0, 1, 2, 3, 4, 5, 6, 0, 0}
	got := batch.Fields["x"].Data().([]float64)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("x[%v]: got %v, want %v", i, got[i], want[i])
		}
	}
}

// TestChopSeparatesGroups ensures timesteps from different agent
// groups never share a batch row even within one episode.
func TestChopSeparatesGroups(t *testing.T) {
	episodes := []int64{0, 0, 0, 0}
	groups := []int64{0, 1, 0, 1}
	indices := []int{0, 0, 1, 1}
	fields := []sequence.Field{{Name: "x",
		Data: []float64{1, 2, 3, 4}}}

	batch, err := sequence.Chop(episodes, groups, indices, fields, 10)
	if err != nil {
		t.Fatalf("chop: %v", err)
	}
	if batch.B != 2 || batch.T != 2 {
		t.Fatalf("chop: invalid batch shape: got (%v, %v), want (2, 2)",
			batch.B, batch.T)
	}

	want := []float64{1, 3, 2, 4}
	got := batch.Fields["x"].Data().([]float64)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("x[%v]: got %v, want %v", i, got[i], want[i])
		}
	}
}

// TestChopInvalidInput ensures degenerate inputs are rejected.
func TestChopInvalidInput(t *testing.T) {
	fields := []sequence.Field{{Name: "x", Data: []float64{1}}}

	if _, err := sequence.Chop([]int64{0}, []int64{0}, []int{0},
		fields, 0); err == nil {
		t.Error("chop: expected error for non-positive maximum " +
			"sequence length")
	}

	if _, err := sequence.Chop(nil, nil, nil, nil, 5); err == nil {
		t.Error("chop: expected error for empty input")
	}

	if _, err := sequence.Chop([]int64{0, 1}, []int64{0}, []int{0, 1},
		fields, 5); err == nil {
		t.Error("chop: expected error for mismatched id columns")
	}

	bad := []sequence.Field{{Name: "x", Dims: []int{2},
		Data: []float64{1}}}
	if _, err := sequence.Chop([]int64{0}, []int64{0}, []int{0}, bad,
		5); err == nil {
		t.Error("chop: expected error for invalid field length")
	}
}
