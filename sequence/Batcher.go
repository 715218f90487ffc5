// Package sequence converts flat collections of trajectory timesteps
// into rectangular, temporally-aligned training batches. Timesteps are
// grouped into contiguous runs sharing an (episode, agent group) pair,
// sorted by their within-episode index, optionally split at a maximum
// sequence length, and zero-padded to the longest run in the batch.
package sequence

import (
	"fmt"
	"sort"

	"gorgonia.org/tensor"
)

// Field is one named column of per-timestep data. Data holds one
// record per timestep, each Size() floats wide, laid out row-major
// according to Dims. A scalar field has Dims = nil.
type Field struct {
	Name string
	Dims []int
	Data []float64
}

// Size returns the number of floats in a single record of the field.
func (f Field) Size() int {
	size := 1
	for _, d := range f.Dims {
		size *= d
	}
	return size
}

// Batch is a rectangular set of padded sequence tensors. Every field
// tensor has shape [B, T, field dims...]. Mask has shape [B, T] and is
// 1 exactly at indices below the owning run's true length.
type Batch struct {
	B, T    int
	SeqLens []int
	Mask    *tensor.Dense
	Fields  map[string]*tensor.Dense
}

// MaskData returns the backing slice of the validity mask.
func (b *Batch) MaskData() []float64 {
	return b.Mask.Data().([]float64)
}

// run is one contiguous (episode, group) fragment: the positions of
// its timesteps in the flat input, ordered by within-episode index.
type run struct {
	episode, group int64
	rows           []int
}

// Chop groups the timesteps tagged by (episodeIDs[i], groupIDs[i],
// indices[i]) into episode fragments, splits fragments longer than
// maxSeqLen into consecutive non-overlapping sub-sequences, and pads
// every field to the longest resulting sequence. Fragments from
// different agent groups never share a batch row.
func Chop(episodeIDs, groupIDs []int64, indices []int, fields []Field,
	maxSeqLen int) (*Batch, error) {
	if maxSeqLen < 1 {
		return nil, fmt.Errorf("chop: invalid maximum sequence length "+
			"\n\twant(>0) \n\thave(%v)", maxSeqLen)
	}

	n := len(episodeIDs)
	if len(groupIDs) != n || len(indices) != n {
		return nil, fmt.Errorf("chop: mismatched id column lengths "+
			"\n\tepisodes(%v) \n\tgroups(%v) \n\tindices(%v)", n,
			len(groupIDs), len(indices))
	}
	if n == 0 {
		return nil, fmt.Errorf("chop: no timesteps to batch")
	}
	for _, f := range fields {
		if len(f.Data) != n*f.Size() {
			return nil, fmt.Errorf("chop: field %v has invalid length "+
				"\n\twant(%v) \n\thave(%v)", f.Name, n*f.Size(),
				len(f.Data))
		}
	}

	runs := groupRuns(episodeIDs, groupIDs, indices)

	// Split long runs into consecutive sub-sequences and record each
	// resulting row's true length.
	var rows [][]int
	for _, r := range runs {
		for start := 0; start < len(r.rows); start += maxSeqLen {
			end := start + maxSeqLen
			if end > len(r.rows) {
				end = len(r.rows)
			}
			rows = append(rows, r.rows[start:end])
		}
	}

	b := len(rows)
	t := 0
	seqLens := make([]int, b)
	for i, row := range rows {
		seqLens[i] = len(row)
		if len(row) > t {
			t = len(row)
		}
	}

	batch := &Batch{
		B:       b,
		T:       t,
		SeqLens: seqLens,
		Fields:  make(map[string]*tensor.Dense, len(fields)),
	}

	maskData := make([]float64, b*t)
	for i, row := range rows {
		for j := range row {
			maskData[i*t+j] = 1.0
		}
	}
	batch.Mask = tensor.New(tensor.WithShape(b, t),
		tensor.WithBacking(maskData))

	for _, f := range fields {
		size := f.Size()
		data := make([]float64, b*t*size)
		for i, row := range rows {
			for j, src := range row {
				dst := (i*t + j) * size
				copy(data[dst:dst+size], f.Data[src*size:(src+1)*size])
			}
		}
		shape := append([]int{b, t}, f.Dims...)
		batch.Fields[f.Name] = tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(data))
	}

	return batch, nil
}

// groupRuns partitions row positions into (episode, group) runs sorted
// by within-episode index. Run order follows first appearance in the
// input so batching is deterministic.
func groupRuns(episodeIDs, groupIDs []int64, indices []int) []*run {
	type key struct{ episode, group int64 }

	byKey := make(map[key]*run)
	var runs []*run
	for i := range episodeIDs {
		k := key{episodeIDs[i], groupIDs[i]}
		r, ok := byKey[k]
		if !ok {
			r = &run{episode: k.episode, group: k.group}
			byKey[k] = r
			runs = append(runs, r)
		}
		r.rows = append(r.rows, i)
	}

	for _, r := range runs {
		rows := r.rows
		sort.SliceStable(rows, func(i, j int) bool {
			return indices[rows[i]] < indices[rows[j]]
		})
	}
	return runs
}
