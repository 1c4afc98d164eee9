package commands

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/spool"
)

// NewReplayCmd constructs the `retrieve replay` command, which resends the
// batches left in a fetch spool.
func NewReplayCmd() *cobra.Command {
	var spoolPath, target, sink string
	var sendTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Resend batches left in a fetch spool",
		Long: `Resend every batch still recorded in the spool file, oldest first.
Delivered batches are removed; failures stay for the next replay.

Examples:
  retrieve replay --spool pending.db
  retrieve replay --spool pending.db --sink nsq`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			sp, err := spool.Open(spoolPath)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			defer func() { _ = sp.Close() }()

			sender, closeSink, err := buildSink(log, sink, target, sendTimeout)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			defer closeSink()

			sent, failed, err := sp.Replay(ctx, sender)
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d batches, %d still pending\n", sent, failed)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			if failed > 0 {
				return fmt.Errorf("replay: %d batches could not be delivered", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&spoolPath, "spool", "", "Spool file written by 'retrieve fetch --spool'")
	cmd.Flags().StringVar(&target, "target", "http://localhost:8080", "Base URL of the retrieve server (http sink)")
	cmd.Flags().StringVar(&sink, "sink", sinkHTTP, "Where batches go: http or nsq")
	cmd.Flags().DurationVar(&sendTimeout, "send-timeout", 0, "Per-batch HTTP send timeout (default 120s)")
	_ = cmd.MarkFlagRequired("spool")

	return cmd
}
