package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookqa-go/internal/registry"
)

// NewBooksCmd constructs the `bookqa books` command group.
func NewBooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List, inspect and remove catalog entries",
	}
	cmd.AddCommand(newBooksListCmd(), newBooksShowCmd(), newBooksDeleteCmd(), newBooksSweepCmd())
	return cmd
}

func newBooksListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every book in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			books, warnings, err := st.registry.List(ctx)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "aviso: %s\n", w)
			}
			if len(books) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No hay libros en el catálogo.")
				return nil
			}

			base := os.Getenv("BOOKQA_PUBLIC_URL")
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTÍTULO\tAUTOR\tENLACE")
			for _, b := range books {
				link := "-"
				if base != "" {
					link = registry.Link(base, b.ID)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Title, b.Author, link)
			}
			return tw.Flush()
		},
	}
}

func newBooksShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show one catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			b, err := st.registry.Get(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:     %s\nTítulo: %s\nAutor:  %s\n", b.ID, b.Title, b.Author)
			if base := os.Getenv("BOOKQA_PUBLIC_URL"); base != "" {
				fmt.Fprintf(out, "Enlace: %s\n", registry.Link(base, b.ID))
			}
			return nil
		},
	}
}

func newBooksDeleteCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Remove a book and its index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkAdmin(password, os.Stdin, cmd.ErrOrStderr()); err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			removed, err := st.registry.Remove(ctx, args[0])
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Libro %s eliminado.\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "El libro %s no está en el catálogo.\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Administrator password (prompted when omitted)")
	return cmd
}

func newBooksSweepCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete index blobs that have no catalog entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkAdmin(password, os.Stdin, cmd.ErrOrStderr()); err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			swept, err := st.registry.Sweep(ctx)
			if err != nil {
				return err
			}
			if len(swept) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No hay índices huérfanos.")
				return nil
			}
			for _, id := range swept {
				fmt.Fprintf(cmd.OutOrStdout(), "eliminado: %s\n", id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Administrator password (prompted when omitted)")
	return cmd
}
