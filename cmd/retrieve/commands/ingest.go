package commands

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/rag"
)

// maxLineBytes bounds a single text read by `retrieve ingest`.
const maxLineBytes = 1 << 20

// NewIngestCmd constructs the `retrieve ingest` command, which embeds texts
// read from a file (one per line) and writes them straight to the store.
func NewIngestCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "ingest [FILE]",
		Short: "Embed and store texts from a file or stdin, one per line",
		Long: `Read texts one per line from FILE (or stdin when FILE is "-" or absent),
embed them with EMBEDDING_MODEL and insert them into the configured store.
Blank lines are ignored. Texts already stored are skipped.

Examples:
  retrieve ingest corpus.txt
  cat corpus.txt | retrieve ingest --batch-size 200`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if batchSize <= 0 {
				return fmt.Errorf("ingest: --batch-size must be positive")
			}

			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				defer f.Close()
				r = f
			}

			p, err := openPipeline(ctx, log, true)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer p.Close()

			ing, err := rag.NewIngester(p.embedder, p.store, p.settings.EmbeddingModel)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			var total rag.Result
			flush := func(texts []string) error {
				res, err := ing.Ingest(ctx, texts)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				total.Received += res.Received
				total.Unique += res.Unique
				total.Inserted += res.Inserted
				total.Skipped += res.Skipped
				log.Info("ingest: batch stored",
					slog.Int("inserted", res.Inserted),
					slog.Int("skipped", res.Skipped),
				)
				return nil
			}

			sc := bufio.NewScanner(r)
			sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
			pending := make([]string, 0, batchSize)
			for sc.Scan() {
				line := strings.TrimSpace(sc.Text())
				if line == "" {
					continue
				}
				pending = append(pending, line)
				if len(pending) == batchSize {
					if err := flush(pending); err != nil {
						return err
					}
					pending = make([]string, 0, batchSize)
				}
			}
			if err := sc.Err(); err != nil {
				return fmt.Errorf("ingest: read input: %w", err)
			}
			if len(pending) > 0 {
				if err := flush(pending); err != nil {
					return err
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), ingestSummary(total))
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "Texts per embedding call")

	return cmd
}

// ingestSummary reports the totals of an ingest run. Lines repeated within
// the input are counted in Received but in neither Inserted nor Skipped.
func ingestSummary(total rag.Result) string {
	s := fmt.Sprintf("read %d texts: %d inserted, %d already stored", total.Received, total.Inserted, total.Skipped)
	if dup := total.Received - total.Unique; dup > 0 {
		s += fmt.Sprintf(", %d repeated in input", dup)
	}
	return s
}
