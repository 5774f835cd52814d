// Package vector provides nearest-neighbor indexes over L2-normalized embeddings.
package vector

import (
	"context"
	"errors"
	"sort"
)

// ErrDimensionMismatch is returned when a vector does not match the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// NearestNeighborIndex is an inner-product index. Vectors are addressed by their
// insertion position, starting at 0.
type NearestNeighborIndex interface {
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// Neighbor is a single search hit.
type Neighbor struct {
	Position int
	Score    float64 // inner product; cosine similarity for normalized vectors
}

// sortNeighbors orders hits by descending score, ties by insertion position.
func sortNeighbors(hits []Neighbor) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})
}
