// Package vectorindex holds the per-book similarity index: the chunk texts of
// one book and their embeddings, searchable by cosine similarity and
// serialisable to two artifacts (a binary vector matrix and a JSON payload).
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/rag"
)

// Index is an immutable in-memory similarity index. It is safe for
// concurrent searches.
type Index struct {
	// chunks holds the payload of each row, in chunk order.
	chunks []rag.Chunk

	// vectors holds one L2-normalised embedding per chunk.
	vectors [][]float32

	// dim is the embedding dimension shared by every row.
	dim int
}

// Build creates an Index from chunks and their embeddings. The vectors are
// copied and normalised; the inputs are not modified.
func Build(chunks []rag.Chunk, vectors [][]float32) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("vectorindex: %w", bookerr.ErrEmptyIndex)
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("vectorindex: %d chunks but %d vectors", len(chunks), len(vectors))
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("vectorindex: empty embedding for chunk 0")
	}

	idx := &Index{
		chunks:  append([]rag.Chunk(nil), chunks...),
		vectors: make([][]float32, len(vectors)),
		dim:     dim,
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vectorindex: chunk %d has dimension %d, want %d", i, len(v), dim)
		}
		idx.vectors[i] = normalize(v)
	}
	return idx, nil
}

// Len returns the number of indexed chunks.
func (x *Index) Len() int { return len(x.chunks) }

// Dim returns the embedding dimension.
func (x *Index) Dim() int { return x.dim }

// Chunks returns a copy of the indexed chunks in order.
func (x *Index) Chunks() []rag.Chunk { return append([]rag.Chunk(nil), x.chunks...) }

// Vectors returns a copy of the normalised embeddings, parallel to Chunks.
func (x *Index) Vectors() [][]float32 {
	out := make([][]float32, len(x.vectors))
	for i, v := range x.vectors {
		out[i] = append([]float32(nil), v...)
	}
	return out
}

// Search returns the k chunks most similar to query, best first. Equal scores
// keep chunk order. k <= 0 means rag.DefaultTopK; k larger than the index
// returns every chunk.
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]rag.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("vectorindex: %w", err)
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("vectorindex: query has dimension %d, index has %d", len(query), x.dim)
	}
	if k <= 0 {
		k = rag.DefaultTopK
	}
	k = min(k, len(x.chunks))

	q := normalize(query)
	hits := make([]rag.Hit, len(x.chunks))
	for i, v := range x.vectors {
		hits[i] = rag.Hit{Chunk: x.chunks[i], Score: dot(q, v)}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits[:k], nil
}

// normalize returns a unit-length copy of v. A zero vector is returned as
// zeros.
func normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}

// corrupt wraps a decoding failure.
func corrupt(format string, args ...any) error {
	return fmt.Errorf("vectorindex: %w: %s", bookerr.ErrCorruptIndex, fmt.Sprintf(format, args...))
}
