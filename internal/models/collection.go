// Package models defines core data structures for collections, chunks, and retrieval results.
package models

import "time"

// IndexState is the lifecycle state of a collection's index.
type IndexState string

const (
	StateEmpty    IndexState = "empty"
	StateBuilding IndexState = "building"
	StateReady    IndexState = "ready"
	StateInvalid  IndexState = "invalid"
)

// Valid reports whether s is one of the known states.
func (s IndexState) Valid() bool {
	switch s {
	case StateEmpty, StateBuilding, StateReady, StateInvalid:
		return true
	}
	return false
}

// Chunk is a bounded text segment of a collection. ID is its dense ordinal and
// equals the row of its vector in the persisted matrix.
type Chunk struct {
	ID     int       `json:"id"`
	Text   string    `json:"text"`
	Vector []float32 `json:"-"`
}

// Collection is the isolated retrieval unit for one source (one website).
type Collection struct {
	ID           string    `json:"id"`
	Dimension    int       `json:"dimension"`
	Chunks       []Chunk   `json:"chunks"`
	SourceDigest string    `json:"source_digest,omitempty"`
	BuiltAt      time.Time `json:"built_at"`
}

// Len returns the number of chunks.
func (c *Collection) Len() int {
	return len(c.Chunks)
}

// Vectors returns the chunk vectors in row order. The slices are shared, not copied.
func (c *Collection) Vectors() [][]float32 {
	out := make([][]float32, len(c.Chunks))
	for i := range c.Chunks {
		out[i] = c.Chunks[i].Vector
	}
	return out
}

// CollectionInfo summarizes a collection for status output.
type CollectionInfo struct {
	ID         string     `json:"id"`
	State      IndexState `json:"state"`
	ChunkCount int        `json:"chunk_count"`
	Dimension  int        `json:"dimension,omitempty"`
}
