package rag

import (
	"context"
	"fmt"
)

// Retriever combines an Embedder and an IndexSource. It opens the book's
// index, embeds the question, and delegates similarity search.
type Retriever struct {
	// embedder converts question text to a dense vector.
	embedder Embedder

	// source resolves the per-book index.
	source IndexSource

	// defaultTopK is the number of results to return when the caller passes 0.
	defaultTopK int
}

// NewRetriever constructs a Retriever from the given Embedder and IndexSource.
// defaultTopK sets the fallback result count when Retrieve is called with topK=0.
func NewRetriever(embedder Embedder, source IndexSource, defaultTopK int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("rag: index source must not be nil")
	}
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	return &Retriever{
		embedder:    embedder,
		source:      source,
		defaultTopK: defaultTopK,
	}, nil
}

// Retrieve returns the top-k chunks of bookID most similar to question.
// The index is opened before the embedding call so a missing or corrupt
// index never costs an embedding request.
func (r *Retriever) Retrieve(ctx context.Context, bookID, question string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = r.defaultTopK
	}

	searcher, err := r.source.Open(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("rag: open index: %w", err)
	}

	embeddings, err := r.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding question failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for question")
	}

	hits, err := searcher.Search(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}

	return hits, nil
}
