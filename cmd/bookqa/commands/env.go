package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/bookqa-go/internal/audit"
	"github.com/54b3r/bookqa-go/internal/blobstore"
	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/embedder"
	"github.com/54b3r/bookqa-go/internal/generator"
	"github.com/54b3r/bookqa-go/internal/indexstore"
	"github.com/54b3r/bookqa-go/internal/ingestion"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/provider"
	"github.com/54b3r/bookqa-go/internal/query"
	"github.com/54b3r/bookqa-go/internal/rag"
	"github.com/54b3r/bookqa-go/internal/registry"
)

// defaultBlobDir is the fs backend root when BLOB_DIR is unset.
const defaultBlobDir = "bookqa-data"

// Search backends accepted by SEARCH_BACKEND.
const (
	searchLocal  = "local"
	searchQdrant = "qdrant"
)

// storage bundles the persistence layer shared by every command.
type storage struct {
	// blobs holds index artifacts and the catalog.
	blobs blobstore.Store
	// index reads and writes per-book indexes.
	index *indexstore.Store
	// registry owns the catalog.
	registry *registry.Registry
	// qdrant is the optional search mirror; nil when not configured.
	qdrant *rag.QdrantStore
}

// Close releases the blob store and the Qdrant connection.
func (s *storage) Close() {
	if s.qdrant != nil {
		_ = s.qdrant.Close()
	}
	_ = s.blobs.Close()
}

// searchSource returns the index source queries search: Qdrant when
// SEARCH_BACKEND=qdrant, the local index otherwise.
func (s *storage) searchSource() rag.IndexSource {
	if s.qdrant != nil && getEnvOrDefault("SEARCH_BACKEND", searchLocal) == searchQdrant {
		return s.qdrant
	}
	return s.index
}

// mirror returns the Qdrant mirror as a rag.Mirror, or nil.
func (s *storage) mirror() rag.Mirror {
	if s.qdrant == nil {
		return nil
	}
	return s.qdrant
}

// openStorage builds the blob store, index store, Qdrant mirror and registry
// from the environment.
func openStorage(ctx context.Context) (*storage, error) {
	log := logging.FromContext(ctx)

	backend := getEnvOrDefault("BLOB_BACKEND", blobstore.BackendFS)
	blobs, err := blobstore.Open(blobstore.Config{
		Backend:    backend,
		Dir:        getEnvOrDefault("BLOB_DIR", defaultBlobDir),
		SQLitePath: os.Getenv("BLOB_SQLITE_PATH"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", bookerr.ErrConfiguration, err)
	}
	log.Debug("blob store ready", slog.String("backend", backend))

	index := indexstore.New(blobs, indexstore.Options{
		Timeout:   getEnvDuration("BLOB_TIMEOUT", indexstore.DefaultTimeout),
		CacheSize: getEnvInt("INDEX_CACHE_SIZE", indexstore.DefaultCacheSize),
		CacheTTL:  getEnvDuration("INDEX_CACHE_TTL", indexstore.DefaultCacheTTL),
	})

	s := &storage{blobs: blobs, index: index}

	search := getEnvOrDefault("SEARCH_BACKEND", searchLocal)
	if search != searchLocal && search != searchQdrant {
		_ = blobs.Close()
		return nil, fmt.Errorf("%w: SEARCH_BACKEND must be %q or %q, got %q",
			bookerr.ErrConfiguration, searchLocal, searchQdrant, search)
	}
	if os.Getenv("QDRANT_HOST") != "" || search == searchQdrant {
		qs, err := openQdrant(ctx)
		if err != nil {
			_ = blobs.Close()
			return nil, err
		}
		s.qdrant = qs
	}

	s.registry = registry.New(index, s.mirror())
	return s, nil
}

// openQdrant connects to the Qdrant mirror described by QDRANT_*.
func openQdrant(ctx context.Context) (*rag.QdrantStore, error) {
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	collection := getEnvOrDefault("QDRANT_COLLECTION", "bookqa-chunks")

	qs, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: collection,
		VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are small positive ints
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant at %s:%d: %w", bookerr.ErrStorage, host, port, err)
	}
	logging.FromContext(ctx).Info("qdrant mirror ready",
		slog.String("host", host),
		slog.Int("port", port),
		slog.String("collection", collection),
	)
	return qs, nil
}

// newEmbedder builds the embedding gateway from EMBEDDING_*. The result is
// shared by both pipelines of a process.
func newEmbedder(ctx context.Context) (rag.Embedder, error) {
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	return emb, nil
}

// newIngestPipeline builds the ingestion pipeline over st.
func newIngestPipeline(st *storage, emb rag.Embedder) (*ingestion.Pipeline, error) {
	return ingestion.NewPipeline(emb, st.index, st.registry, st.mirror(), &ingestion.Config{
		ChunkSize:      getEnvInt("CHUNK_SIZE", 0),
		ChunkOverlap:   lookupEnvInt("CHUNK_OVERLAP"),
		MinChunkLength: getEnvInt("MIN_CHUNK_LENGTH", 0),
	})
}

// newQueryPipeline builds the query pipeline over st. emb may be nil, with
// embErr saying why. Services that cannot be constructed are reported
// through the pipeline so every query fails with a configuration error
// instead of the process refusing to start. The provider config is returned
// for readiness probes.
func newQueryPipeline(ctx context.Context, st *storage, emb rag.Embedder, embErr error) (*query.Pipeline, *provider.Config) {
	log := logging.FromContext(ctx)
	pcfg := provider.ConfigFromEnv()
	logCredential(log, pcfg)

	var (
		errs []error
		gen  query.Generator
	)
	if embErr != nil {
		errs = append(errs, embErr)
	}

	if cm, err := provider.New(ctx, pcfg); err != nil {
		errs = append(errs, err)
	} else if g, err := generator.New(ctx, cm, generator.Config{
		MaxContextTokens: getEnvInt("MODEL_MAX_CONTEXT_TOKENS", 0),
		Timeout:          getEnvDuration("MODEL_TIMEOUT", generator.DefaultTimeout),
	}); err != nil {
		errs = append(errs, err)
	} else {
		gen = g
		log.Info("provider initialised",
			slog.String("provider", string(pcfg.Backend)),
			slog.String("model", pcfg.ModelName()),
		)
	}

	configErr := errors.Join(errs...)
	if configErr != nil {
		log.Warn("query pipeline not fully configured", slog.Any("error", configErr))
	}

	return query.NewPipeline(query.Config{
		Books:     st.registry,
		Embedder:  emb,
		Index:     st.searchSource(),
		Generator: gen,
		ConfigErr: configErr,
	}), pcfg
}

// logCredential records which credential the chat backend will use.
func logCredential(log *slog.Logger, cfg *provider.Config) {
	switch cfg.Backend {
	case provider.BackendOpenAI:
		audit.LogCredential(log, string(cfg.Backend), "OPENAI_API_KEY", cfg.OpenAI.APIKey)
	case provider.BackendAzure:
		audit.LogCredential(log, string(cfg.Backend), "AZURE_OPENAI_API_KEY", cfg.AzureOpenAI.APIKey)
	case provider.BackendArk:
		audit.LogCredential(log, string(cfg.Backend), "ARK_API_KEY", cfg.Ark.APIKey)
	case provider.BackendGemini:
		audit.LogCredential(log, string(cfg.Backend), "GOOGLE_API_KEY", cfg.Gemini.APIKey)
	}
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// lookupEnvInt returns the int value of the named environment variable, or
// nil if the variable is unset, empty, or not parseable. Zero is a value.
func lookupEnvInt(key string) *int {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &i
}

// getEnvFloat returns the float value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration parses the named variable as a Go duration, or returns
// fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
