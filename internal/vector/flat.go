package vector

import (
	"fmt"
	"sort"

	"github.com/hyperjump/webrag/pkg/utils"
)

// FlatIndex is an exact L2 index. Rows are stored contiguously and only ever appended,
// so row i always maps to chunk i of the owning collection.
// A FlatIndex is not safe for concurrent Insert; concurrent Search on an index that is
// no longer being written is safe.
type FlatIndex struct {
	dim  int
	data []float32
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{dim: dimensions}, nil
}

// Dim returns the vector dimension.
func (f *FlatIndex) Dim() int {
	return f.dim
}

// Len returns the number of stored rows.
func (f *FlatIndex) Len() int {
	return len(f.data) / f.dim
}

// Insert appends vectors as new rows. Every vector is checked before any is added,
// so a dimension error leaves the index unchanged.
func (f *FlatIndex) Insert(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) != f.dim {
			return &DimensionMismatchError{Expected: f.dim, Got: len(v)}
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Row returns a copy of row i.
func (f *FlatIndex) Row(i int) ([]float32, error) {
	if i < 0 || i >= f.Len() {
		return nil, fmt.Errorf("row %d out of range [0, %d)", i, f.Len())
	}
	out := make([]float32, f.dim)
	copy(out, f.row(i))
	return out, nil
}

func (f *FlatIndex) row(i int) []float32 {
	return f.data[i*f.dim : (i+1)*f.dim]
}

// Search returns the k rows closest to query by squared Euclidean distance, ascending.
// Equal distances are ordered by lower row id. k is clamped to Len(); k <= 0 yields no results.
func (f *FlatIndex) Search(query []float32, k int) ([]Result, error) {
	if len(query) != f.dim {
		return nil, &DimensionMismatchError{Expected: f.dim, Got: len(query)}
	}
	n := f.Len()
	if k <= 0 || n == 0 {
		return []Result{}, nil
	}
	if k > n {
		k = n
	}
	type scored struct {
		row  int
		dist float64
	}
	scores := make([]scored, n)
	for i := 0; i < n; i++ {
		scores[i] = scored{row: i, dist: utils.SquaredL2(query, f.row(i))}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].dist != scores[j].dist {
			return scores[i].dist < scores[j].dist
		}
		return scores[i].row < scores[j].row
	})
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = Result{Row: scores[i].row, Distance: float32(scores[i].dist)}
	}
	return results, nil
}
