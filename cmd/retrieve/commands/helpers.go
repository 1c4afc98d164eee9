package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/54b3r/retrieve-go/internal/config"
	"github.com/54b3r/retrieve-go/internal/embedder"
	"github.com/54b3r/retrieve-go/internal/fetcher"
	"github.com/54b3r/retrieve-go/internal/queue"
	"github.com/54b3r/retrieve-go/internal/store"
)

// pipeline bundles the settings, store and embedder shared by serve,
// ingest and query.
type pipeline struct {
	settings *config.Settings
	store    store.Store
	embedder embedder.Embedder
}

// Close releases the store.
func (p *pipeline) Close() {
	_ = p.store.Close()
}

// openPipeline loads settings, opens the configured store (running
// migrations when migrate is true), records or checks the embedding model,
// and builds the embedder.
func openPipeline(ctx context.Context, log *slog.Logger, migrate bool) (*pipeline, error) {
	s, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, s, migrate)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureMeta(ctx, s.EmbeddingModel); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Info("store opened",
		slog.String("backend", st.Name()),
		slog.Int("dimensions", st.Dimensions()),
	)

	emb, err := embedder.New(embedder.Options{
		Provider:   s.EmbeddingProvider,
		Endpoint:   s.EmbeddingEndpoint,
		Dimensions: s.EmbeddingDimensions,
		Timeout:    s.EmbeddingTimeout,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	embedder.WarnIfChatModel(log, s.EmbeddingModel)
	log.Info("embedder initialised",
		slog.String("provider", s.EmbeddingProvider),
		slog.String("model", s.EmbeddingModel),
	)

	return &pipeline{settings: s, store: st, embedder: emb}, nil
}

// openStore opens the backend named by s.StoreBackend.
func openStore(ctx context.Context, s *config.Settings, migrate bool) (store.Store, error) {
	switch s.StoreBackend {
	case config.BackendPostgres:
		pg, err := store.OpenPostgres(ctx, s.DatabaseURL, s.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := store.Migrate(pg.DB()); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		return pg, nil

	case config.BackendSQLite:
		return store.OpenSQLite(s.SQLitePath, s.EmbeddingDimensions)

	case config.BackendQdrant:
		return store.NewQdrantStore(ctx, store.QdrantConfig{
			Host:       s.QdrantHost,
			Port:       s.QdrantPort,
			Collection: s.QdrantCollection,
			Dimensions: s.EmbeddingDimensions,
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     s.QdrantTLS,
		})

	default:
		return nil, fmt.Errorf("%w: STORE_BACKEND %q", config.ErrInvalid, s.StoreBackend)
	}
}

// Batch sinks for fetch and replay.
const (
	sinkHTTP = "http"
	sinkNSQ  = "nsq"
)

// buildSink returns the sender for sink plus a function releasing it.
func buildSink(log *slog.Logger, sink, target string, timeout time.Duration) (fetcher.Sender, func(), error) {
	switch sink {
	case sinkHTTP:
		return fetcher.NewHTTPSender(target, os.Getenv("RETRIEVE_API_KEY"), timeout), func() {}, nil
	case sinkNSQ:
		q, err := config.QueueFromEnv()
		if err != nil {
			return nil, nil, err
		}
		pub, err := queue.NewPublisher(q.NSQDAddress, q.NSQTopic, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("publishing batches to nsq", slog.String("nsqd", q.NSQDAddress), slog.String("topic", q.NSQTopic))
		return fetcher.NewQueueSender(pub), pub.Stop, nil
	default:
		return nil, nil, fmt.Errorf("unknown sink %q (valid: http, nsq)", sink)
	}
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
