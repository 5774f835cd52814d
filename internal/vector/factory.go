package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeFAISS uses FAISS flat inner product search.
	// Requires the FAISS C library and -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
	// IndexTypeAuto picks FAISS when compiled in, memory otherwise.
	IndexTypeAuto IndexType = "auto"
)

// NewIndex creates an index of the given type. The choice is made once here;
// callers only see NearestNeighborIndex.
func NewIndex(indexType string, dimensions int) (NearestNeighborIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	case IndexTypeAuto:
		if idx, err := NewFAISSIndex(dimensions); err == nil {
			return idx, nil
		}
		return NewMemoryIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, faiss, auto)", indexType)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
