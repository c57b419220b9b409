package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookqa-go/internal/bookerr"
	"github.com/54b3r/bookqa-go/internal/ingestion"
	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/registry"
)

// NewIngestCmd constructs the `bookqa ingest` command, which indexes one PDF
// and registers it in the catalog.
func NewIngestCmd() *cobra.Command {
	var title string
	var author string
	var password string

	cmd := &cobra.Command{
		Use:   "ingest [file.pdf]",
		Short: "Index a book PDF and add it to the catalog",
		Long: `Extract the text of a PDF, split it into chunks, embed them and store the
resulting index. The book id is derived from the title and author, so
ingesting the same book again replaces its index.

When --title or --author are omitted they are taken from the PDF metadata,
then from file names shaped like "Title - Author.pdf".

Requires ADMIN_PASSWORD; pass it with --password or type it at the prompt.

Examples:
  bookqa ingest --title "Rayuela" --author "Julio Cortázar" rayuela.pdf
  bookqa ingest "Pedro Páramo - Juan Rulfo.pdf"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAdmin(password, os.Stdin, cmd.ErrOrStderr()); err != nil {
				return err
			}

			path := args[0]
			data, err := os.ReadFile(path) //nolint:gosec // path is the operator's own argument
			if err != nil {
				return fmt.Errorf("ingest: %w: %s: %w", bookerr.ErrSourceNotFound, path, err)
			}

			meta := ingestion.InferMetadata(title, author, filepath.Base(path), data)
			if !meta.Complete() {
				return fmt.Errorf("ingest: %w: pass --title and --author", bookerr.ErrInvalidBook)
			}
			ctx, log := logging.With(cmd.Context(),
				slog.String("title", meta.Title),
				slog.String("author", meta.Author),
				slog.String("title_origin", meta.TitleOrigin),
				slog.String("author_origin", meta.AuthorOrigin),
			)

			st, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			emb, err := newEmbedder(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			pipeline, err := newIngestPipeline(st, emb)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			out := cmd.OutOrStdout()
			id, err := pipeline.Ingest(ctx, ingestion.Source{PDF: data, Title: meta.Title, Author: meta.Author},
				func(msg string) { fmt.Fprintf(out, "  %s\n", msg) })
			if err != nil {
				return err
			}
			log.Info("ingest: done", slog.String("book_id", id))

			fmt.Fprintf(out, "Libro indexado: %s (%s)\n", meta.Title, meta.Author)
			fmt.Fprintf(out, "ID: %s\n", id)
			if base := os.Getenv("BOOKQA_PUBLIC_URL"); base != "" {
				fmt.Fprintf(out, "Enlace: %s\n", registry.Link(base, id))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Book title")
	cmd.Flags().StringVarP(&author, "author", "a", "", "Book author")
	cmd.Flags().StringVar(&password, "password", "", "Administrator password (prompted when omitted)")

	return cmd
}
