package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/54b3r/retrieve-go/internal/fetcher"
	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/spool"
)

// NewFetchCmd constructs the `retrieve fetch` command, which pulls random
// Wikipedia summaries with bounded concurrency and ships them in batches.
func NewFetchCmd() *cobra.Command {
	var (
		totalSize   int
		batchSize   int
		concurrency int
		delay       time.Duration
		target      string
		sink        string
		spoolPath   string
		sourceURL   string
		sendTimeout time.Duration
		metricsAddr string
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch random Wikipedia summaries and send them in batches",
		Long: `Fetch --total-size random Wikipedia summaries, at most --concurrency at a
time, grouping them into batches of --batch-size. Every full batch is sent as
soon as it fills; the remainder is sent once all fetches finish.

Sinks:
  http  POST {target}/v1/input (Bearer $RETRIEVE_API_KEY when set)
  nsq   publish to NSQ_TOPIC on NSQD_ADDRESS

Failed fetches and failed sends are logged and skipped. With --spool, every
batch is written to a local file before sending and removed once delivered;
'retrieve replay' resends whatever is left.

Examples:
  retrieve fetch --total-size 1000 --batch-size 50
  retrieve fetch --sink nsq --spool pending.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			sender, closeSink, err := buildSink(log, sink, target, sendTimeout)
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}
			defer closeSink()

			if spoolPath != "" {
				sp, err := spool.Open(spoolPath)
				if err != nil {
					return fmt.Errorf("fetch: %w", err)
				}
				defer func() { _ = sp.Close() }()
				if n, _ := sp.Len(); n > 0 {
					log.Warn("spool holds undelivered batches, run 'retrieve replay' to resend",
						slog.String("path", spoolPath), slog.Int("pending", n))
				}
				sender = fetcher.NewSpoolingSender(sp, sender)
			}

			if metricsAddr != "" {
				stopMetrics := serveMetrics(ctx, log, metricsAddr)
				defer stopMetrics()
			}

			var bar *progressbar.ProgressBar
			cfg := fetcher.Config{
				TotalSize:      totalSize,
				BatchSize:      batchSize,
				MaxConcurrency: concurrency,
				Delay:          delay,
			}
			if !quiet && totalSize > 0 {
				bar = progressbar.NewOptions(totalSize,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionEnableColorCodes(true),
					progressbar.OptionShowBytes(false),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionThrottle(100*time.Millisecond),
					progressbar.OptionSetDescription("[cyan]Fetching[reset]"),
					progressbar.OptionOnCompletion(func() {
						fmt.Fprintln(os.Stderr)
					}),
				)
				cfg.OnProgress = func(int, int) { _ = bar.Add(1) }
			}

			f, err := fetcher.New(cfg,
				fetcher.NewWikipediaSource(sourceURL, 0),
				sender,
				fetcher.NewMetrics(prometheus.DefaultRegisterer),
			)
			if err != nil {
				return fmt.Errorf("fetch: %w", err)
			}

			st := f.Run(ctx)
			if bar != nil {
				_ = bar.Finish()
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"fetched %d/%d (failed %d), sent %d batches with %d texts (failed %d)\n",
				st.Fetched, totalSize, st.FetchFailed, st.BatchesSent, st.TextsSent, st.BatchesFailed)

			if st.BatchesFailed > 0 && spoolPath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%d batches remain in %s\n", st.BatchesFailed, spoolPath)
			}
			return ctx.Err()
		},
	}

	cmd.Flags().IntVar(&totalSize, "total-size", 1000, "Number of documents to fetch")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50, "Documents per batch")
	cmd.Flags().IntVar(&concurrency, "concurrency", fetcher.DefaultMaxConcurrency, "Maximum in-flight fetches")
	cmd.Flags().DurationVar(&delay, "delay", fetcher.DefaultDelay, "Pause after each fetch before releasing its slot")
	cmd.Flags().StringVar(&target, "target", "http://localhost:8080", "Base URL of the retrieve server (http sink)")
	cmd.Flags().StringVar(&sink, "sink", sinkHTTP, "Where batches go: http or nsq")
	cmd.Flags().StringVar(&spoolPath, "spool", "", "Spool file for at-least-once delivery (disabled when empty)")
	cmd.Flags().StringVar(&sourceURL, "source-url", fetcher.DefaultWikipediaURL, "Wikipedia base URL")
	cmd.Flags().DurationVar(&sendTimeout, "send-timeout", 0, "Per-batch HTTP send timeout (default 120s)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose /metrics on this address while fetching")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Disable the progress bar")

	return cmd
}

// serveMetrics exposes the default Prometheus registry on addr until the
// returned function is called.
func serveMetrics(ctx context.Context, log *slog.Logger, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("metrics listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", slog.Any("error", err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
