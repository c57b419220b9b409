package rag

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload field names stored on every Qdrant point.
const (
	payloadBookID = "book_id"
	payloadText   = "text"
	payloadIndex  = "chunk_index"
	payloadOffset = "offset"
	payloadPage   = "page"
)

// pointNamespace seeds the deterministic point ids so re-ingesting a book
// overwrites the same points.
var pointNamespace = uuid.MustParse("6f1c0a52-55a4-4c7e-9d0f-2b8f3b9a7e41")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection holding every book's chunks.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore mirrors book indexes into a single Qdrant collection, one point
// per chunk, partitioned by a book_id payload field. It implements Mirror and
// IndexSource.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary).
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "bookqa-chunks"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection and the book_id payload
// index if they do not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      payloadBookID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to index %s: %w", payloadBookID, err)
	}

	return nil
}

// Client returns the underlying client for readiness probes.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// ReplaceBook deletes every point of bookID and upserts one point per chunk.
func (s *QdrantStore) ReplaceBook(ctx context.Context, bookID string, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("qdrant: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	if err := s.DeleteBook(ctx, bookID); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for i, c := range chunks {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(bookID, c.Index)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadBookID: bookID,
				payloadText:   c.Text,
				payloadIndex:  int64(c.Index),
				payloadOffset: int64(c.Offset),
				payloadPage:   int64(c.Page),
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed for book %s: %w", bookID, err)
	}

	return nil
}

// DeleteBook removes every point whose book_id payload equals bookID.
func (s *QdrantStore) DeleteBook(ctx context.Context, bookID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(bookFilter(bookID)),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed for book %s: %w", bookID, err)
	}
	return nil
}

// Open returns a Searcher restricted to bookID's points.
func (s *QdrantStore) Open(_ context.Context, bookID string) (Searcher, error) {
	return &qdrantBook{store: s, bookID: bookID}, nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// qdrantBook is a Searcher over the points of a single book.
type qdrantBook struct {
	// store is the owning QdrantStore.
	store *QdrantStore
	// bookID restricts every query to one book.
	bookID string
}

// Search performs a filtered cosine similarity search.
func (b *qdrantBook) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	limit := uint64(k) //nolint:gosec // k is positive
	results, err := b.store.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: b.store.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         bookFilter(b.bookID),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed for book %s: %w", b.bookID, err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		p := r.GetPayload()
		hits = append(hits, Hit{
			Chunk: Chunk{
				Text:   p[payloadText].GetStringValue(),
				Index:  int(p[payloadIndex].GetIntegerValue()),
				Offset: int(p[payloadOffset].GetIntegerValue()),
				Page:   int(p[payloadPage].GetIntegerValue()),
			},
			Score: r.GetScore(),
		})
	}

	// Qdrant does not guarantee an order among equal scores.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.Index < hits[j].Chunk.Index
	})

	return hits, nil
}

// bookFilter matches the points of a single book.
func bookFilter(bookID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadBookID, bookID)},
	}
}

// PointID returns the deterministic Qdrant point id of a book's chunk.
func PointID(bookID string, index int) string {
	return uuid.NewSHA1(pointNamespace, fmt.Appendf(nil, "%s/%d", bookID, index)).String()
}
