package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"
	"github.com/spf13/cobra"

	"github.com/54b3r/retrieve-go/internal/embedder"
	"github.com/54b3r/retrieve-go/internal/logging"
	"github.com/54b3r/retrieve-go/internal/queue"
	"github.com/54b3r/retrieve-go/internal/rag"
	"github.com/54b3r/retrieve-go/internal/server"
)

// NewServeCmd constructs the `retrieve serve` command, which starts the HTTP
// API and, with --consume, an NSQ consumer feeding the same ingester.
func NewServeCmd() *cobra.Command {
	var host string
	var port int
	var consume bool
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the retrieve HTTP server",
		Long: `Start the HTTP server.

Routes:
  POST /v1/input          {"texts": [...]}            store texts
  POST /v1/fetch_similar  {"text": "...", "top_k": 5} nearest stored texts
  GET  /api/health        liveness
  GET  /api/ready         store and embedder reachability
  GET  /metrics           Prometheus metrics

/v1/* requires "Authorization: Bearer $RETRIEVE_API_KEY" when that variable
is set.

Examples:
  retrieve serve
  retrieve serve --port 9090
  STORE_BACKEND=sqlite retrieve serve --consume`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			p, err := openPipeline(ctx, log, migrate)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer p.Close()
			s := p.settings

			ing, err := rag.NewIngester(p.embedder, p.store, s.EmbeddingModel)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			ret, err := rag.NewRetriever(p.embedder, p.store, s.EmbeddingModel)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			pingers := []server.Pinger{
				p.store,
				server.NewHTTPPinger("embedder", embedder.Endpoint(s.EmbeddingProvider, s.EmbeddingEndpoint)),
			}

			if consume {
				consumer, err := queue.Start(queue.ConsumerConfig{
					Topic:   s.NSQTopic,
					Channel: s.NSQChannel,
					Lookupd: splitList(s.NSQLookupd),
					NSQD:    s.NSQDAddress,
				}, queue.NewConsumer(ing, log))
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				defer stopConsumer(consumer, log)
				log.Info("nsq consumer started",
					slog.String("topic", s.NSQTopic),
					slog.String("channel", s.NSQChannel),
				)
			}

			if !cmd.Flags().Changed("host") {
				host = s.AppHost
			}
			if !cmd.Flags().Changed("port") {
				port = s.AppPort
			}

			srv, err := server.New(ing, ret, &server.Config{
				Host:      host,
				Port:      port,
				Logger:    log,
				Pingers:   pingers,
				RateLimit: s.RateLimit,
				RateBurst: s.RateBurst,
				APIKey:    os.Getenv("RETRIEVE_API_KEY"),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host address to bind to (default: APP_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (default: APP_PORT)")
	cmd.Flags().BoolVar(&consume, "consume", false, "Also consume batches from NSQ_TOPIC")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "Apply postgres migrations on startup")

	return cmd
}

// stopConsumer stops c and waits for in-flight messages to finish.
func stopConsumer(c *nsq.Consumer, log *slog.Logger) {
	c.Stop()
	<-c.StopChan
	log.Info("nsq consumer stopped")
}
