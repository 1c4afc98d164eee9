package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/rag"
)

// NewQueryCmd constructs the `retrieve query` command, which prints the
// stored texts nearest to the given text.
func NewQueryCmd() *cobra.Command {
	var topK int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "query TEXT...",
		Short: "Print the stored texts most similar to TEXT",
		Long: `Embed TEXT with EMBEDDING_MODEL and print the --top-k nearest stored texts,
closest first, with their cosine distance.

Examples:
  retrieve query "history of the printing press"
  retrieve query --top-k 10 --json rivers of europe`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			p, err := openPipeline(ctx, log, false)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer p.Close()

			ret, err := rag.NewRetriever(p.embedder, p.store, p.settings.EmbeddingModel)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			matches, err := ret.Search(ctx, strings.Join(args, " "), topK)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(matches)
			}
			for i, m := range matches {
				fmt.Fprintf(out, "%d. [%.4f] %s\n", i+1, m.Distance, m.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", rag.DefaultTopK, "Number of texts to return")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print matches as JSON")

	return cmd
}
