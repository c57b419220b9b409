// Package commands defines all Cobra CLI commands for the bookqa binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/bookqa-go/internal/audit"
	"github.com/54b3r/bookqa-go/internal/config"
	"github.com/54b3r/bookqa-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// dotEnvPath holds the --env-file flag value.
var dotEnvPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "bookqa",
		Short: "bookqa: ask questions about your books",
		Long: `bookqa indexes books from PDF files and answers questions about them
using only the book's own text.

Books are identified by an id derived from their title and author. Indexes
and the catalog live in a blob store (BLOB_BACKEND=fs|sqlite); questions are
answered by the model selected with MODEL_PROVIDER.

Configuration is read from the environment, a .env file in the working
directory, and an optional YAML file (~/.bookqa/config.yaml).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			bootstrap := logging.New()

			if err := config.LoadDotEnv(dotEnvPath, bootstrap); err != nil {
				return err
			}
			path, err := config.Load(configPath, bootstrap)
			if err != nil {
				return err
			}

			// LOG_LEVEL and LOG_FORMAT may have come from the files above.
			log := logging.New()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(log, cmd.CommandPath(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.bookqa/config.yaml)")
	root.PersistentFlags().StringVar(&dotEnvPath, "env-file", ".env", "Path to a .env file; missing files are ignored")

	root.AddCommand(
		NewIngestCmd(),
		NewAskCmd(),
		NewBooksCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
