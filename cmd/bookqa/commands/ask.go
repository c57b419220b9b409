package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookqa-go/internal/logging"
	"github.com/54b3r/bookqa-go/internal/tracing"
)

// NewAskCmd constructs the `bookqa ask` command, which answers one question
// about one book and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var bookID string
	var showSources bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about a book",
		Long: `Answer a question using only the text of the given book.

The question is embedded, the closest passages of the book are retrieved and
the model writes an answer from them. If the book does not contain the
answer the model says so instead of guessing.

Examples:
  bookqa ask --book 3f2a9c "¿Quién es la Maga?"
  bookqa ask --book 3f2a9c --sources "¿Dónde transcurre la primera parte?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, log := logging.With(cmd.Context(), slog.String("book_id", bookID))

			flush := tracing.Install(tracing.Setup())
			defer flush()

			st, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			emb, embErr := newEmbedder(ctx)
			pipeline, _ := newQueryPipeline(ctx, st, emb, embErr)

			ans, err := pipeline.Query(ctx, bookID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			log.Debug("ask: answered", slog.Bool("refused", ans.Refused), slog.Int("sources", len(ans.Sources)))

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ans.Text)
			if showSources {
				fmt.Fprintf(out, "\nFuentes (%s, %s):\n", ans.Book.Title, ans.Book.Author)
				for i, h := range ans.Sources {
					fmt.Fprintf(out, "[%d] página %d, similitud %.3f\n    %s\n", i+1, h.Chunk.Page, h.Score, excerpt(h.Chunk.Text, 200))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&bookID, "book", "b", "", "Book id (see `bookqa books list`)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Print the retrieved passages")
	_ = cmd.MarkFlagRequired("book")

	return cmd
}

// excerpt flattens whitespace and truncates s to at most n runes.
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
