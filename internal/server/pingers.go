package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/bookqa-go/internal/blobstore"
	"github.com/54b3r/bookqa-go/internal/indexstore"
	"github.com/54b3r/bookqa-go/internal/provider"
)

// LLMPinger probes the chat backend through its zero-cost health endpoint,
// so readiness checks never spend tokens.
type LLMPinger struct {
	// healthCheck is the backend probe.
	healthCheck provider.HealthChecker
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger. It returns nil when hc is nil so
// callers can skip backends without a health endpoint.
func NewLLMPinger(hc provider.HealthChecker, name string) *LLMPinger {
	if hc == nil {
		return nil
	}
	return &LLMPinger{healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the backend health check.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if err := p.healthCheck.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	if _, err := p.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// BlobPinger probes the blob store holding the catalog and indexes.
type BlobPinger struct {
	// store is the blob store to probe.
	store blobstore.Store
}

// NewBlobPinger constructs a BlobPinger.
func NewBlobPinger(store blobstore.Store) *BlobPinger {
	return &BlobPinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *BlobPinger) Name() string { return "blobstore" }

// Ping uses the store's own Ping when it has one, otherwise a cheap
// existence check on the catalog key.
func (p *BlobPinger) Ping(ctx context.Context) error {
	if pp, ok := p.store.(interface{ Ping(context.Context) error }); ok {
		return pp.Ping(ctx)
	}
	if _, err := p.store.Exists(ctx, indexstore.CatalogKey); err != nil {
		return fmt.Errorf("catalog lookup failed: %w", err)
	}
	return nil
}
