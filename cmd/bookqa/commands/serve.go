package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/provider"
	"github.com/54b3r/bookqa-go/internal/query"
	"github.com/54b3r/bookqa-go/internal/server"
	"github.com/54b3r/bookqa-go/internal/tracing"
)

// NewServeCmd constructs the `bookqa serve` command, which starts the HTTP
// API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bookqa HTTP API",
		Long: `Start the bookqa HTTP server.

Read routes (book listing and questions) are open unless BOOKQA_API_KEY is
set. Uploading, deleting and sweeping require ADMIN_PASSWORD as a bearer
token. Probes are served on /api/health and /api/ready and Prometheus
metrics on /metrics.

Examples:
  bookqa serve
  bookqa serve --port 9090
  MODEL_PROVIDER=gemini bookqa serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			handler, flush, ok := tracing.Setup()
			defer tracing.Install(handler, flush, ok)()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			st, err := openStorage(ctx)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			emb, embErr := newEmbedder(ctx)
			pipeline, providerCfg := newQueryPipeline(ctx, st, emb, embErr)

			// Uploads are disabled, not fatal, when no embedder can be built.
			var ingester server.IngestService
			if embErr != nil {
				log.Warn("serve: ingestion disabled", slog.Any("error", embErr))
			} else if ip, err := newIngestPipeline(st, emb); err != nil {
				log.Warn("serve: ingestion disabled", slog.Any("error", err))
			} else {
				ingester = ip
			}

			srv, err := server.New(server.Services{
				Books:  st.registry,
				Query:  pipeline,
				Ingest: ingester,
			}, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        buildPingers(st, pipeline, providerCfg),
				RateLimit:      getEnvFloat("BOOKQA_RATE_LIMIT", 0),
				RateBurst:      getEnvInt("BOOKQA_RATE_BURST", 0),
				APIKey:         os.Getenv("BOOKQA_API_KEY"),
				AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
				PublicURL:      os.Getenv("BOOKQA_PUBLIC_URL"),
				MaxUploadBytes: int64(getEnvInt("BOOKQA_MAX_UPLOAD_MB", 0)) << 20,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", getEnvOrDefault("BOOKQA_HOST", "127.0.0.1"), "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", getEnvInt("BOOKQA_PORT", 8080), "TCP port to listen on")

	return cmd
}

// buildPingers returns the readiness probes for the configured dependencies.
func buildPingers(st *storage, pipeline *query.Pipeline, pcfg *provider.Config) []server.Pinger {
	pingers := []server.Pinger{
		server.NewBlobPinger(st.blobs),
		server.PingerFunc{Label: "query", Fn: func(_ context.Context) error { return pipeline.Ready() }},
	}
	if st.qdrant != nil {
		pingers = append(pingers, server.NewQdrantPinger(st.qdrant.Client()))
	}
	if p := server.NewLLMPinger(provider.NewHealthChecker(pcfg), string(pcfg.Backend)); p != nil {
		pingers = append(pingers, p)
	}
	return pingers
}
