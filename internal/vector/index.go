// Package vector provides exact nearest-neighbor search over fixed-dimension float32 vectors.
package vector

import "fmt"

// Result is a single search hit: the row id and its squared L2 distance to the query.
type Result struct {
	Row      int
	Distance float32
}

// DimensionMismatchError reports a vector whose length differs from the index dimension.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Got, e.Expected)
}

// IndexKind names an index implementation.
type IndexKind string

const (
	// IndexKindFlat compares the query against every stored row. Exact.
	IndexKindFlat IndexKind = "flat"
)

// NewIndex creates an index of the given kind. Only "flat" (also the default for "")
// exists; quantized or graph indexes would be added here.
func NewIndex(kind string, dimensions int) (*FlatIndex, error) {
	switch IndexKind(kind) {
	case IndexKindFlat, "":
		return NewFlatIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index kind: %s (supported: flat)", kind)
	}
}
