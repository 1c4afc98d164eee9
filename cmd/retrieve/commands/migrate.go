package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/retrieve-go/internal/logging"
)

// NewMigrateCmd constructs the `retrieve migrate` command, which prepares the
// configured store and records the embedding model and dimension.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Long: `Apply the embedded SQL migrations (postgres), create the schema (sqlite) or
the collections (qdrant), then record EMBEDDING_MODEL and EMBEDDING_DIMENSIONS.
Fails if the store was initialised with a different model or dimension.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := openPipeline(ctx, logging.FromContext(ctx), true)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer p.Close()

			n, err := p.store.Count(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store ready: %d texts, model %s, %d dimensions\n",
				p.store.Name(), n, p.settings.EmbeddingModel, p.store.Dimensions())
			return nil
		},
	}
}
