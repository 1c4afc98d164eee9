// Package commands defines all Cobra CLI commands for the retrieve binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/retrieve-go/internal/audit"
	"github.com/54b3r/retrieve-go/internal/config"
	"github.com/54b3r/retrieve-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "retrieve",
		Short: "Embed, store, and search texts by semantic similarity",
		Long: `retrieve stores texts alongside their embeddings and answers top-K
similarity queries.

Texts arrive through POST /v1/input (retrieve serve), through NSQ batches
(retrieve serve --consume), or directly from the command line (retrieve ingest).
The fetch command pulls random Wikipedia summaries with bounded concurrency and
ships them in fixed-size batches.

Settings come from the environment, a .env file, and an optional YAML config
file (~/.retrieve/config.yaml). Environment variables always win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			if err := config.LoadDotEnv(log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// LOG_* may have come from the files just loaded.
			log = logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)
			cmd.SetContext(ctx)

			audit.LogCommandStart(ctx, log, cmd.Name(), loadedConfigPath)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.retrieve/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewFetchCmd(),
		NewReplayCmd(),
		NewIngestCmd(),
		NewQueryCmd(),
		NewMigrateCmd(),
		NewVersionCmd(),
	)

	return root
}
