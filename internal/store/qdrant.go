package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace seeds the UUIDv5 point IDs derived from text, so the same
// text always maps to the same point.
var pointNamespace = uuid.MustParse("6f1d6a4e-2c53-4f0b-9a39-7d2f6c1e8b40")

// metaPointID is the single point of the companion metadata collection.
var metaPointID = uuid.NewSHA1(pointNamespace, []byte("store_meta")).String()

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string
	// Port is the Qdrant gRPC port (default: 6334).
	Port int
	// Collection holds the text points.
	Collection string
	// Dimensions is the vector size of the collection.
	Dimensions int
	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string
	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore is a Store backed by a Qdrant collection using cosine
// distance. Point IDs are UUIDv5(text); the text is kept in the payload.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
}

// NewQdrantStore connects to Qdrant and ensures the collection exists with
// the configured vector size. An existing collection of another size fails
// with ErrDimensionMismatch.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("store: dimension must be positive, got %d", cfg.Dimensions)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("store: qdrant client: %w", err)
	}

	s := &QdrantStore{client: client, cfg: cfg}
	if err := s.ensureCollection(ctx, cfg.Collection, uint64(cfg.Dimensions)); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// Client exposes the underlying client.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// ensureCollection creates name with size if missing, or checks its size.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string, size uint64) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: qdrant collection check: %v", ErrStoreUnavailable, err)
	}
	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     size,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("%w: qdrant create collection %q: %v", ErrStoreUnavailable, name, err)
		}
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return fmt.Errorf("%w: qdrant collection info: %v", ErrStoreUnavailable, err)
	}
	got := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if got != size {
		return fmt.Errorf("%w: collection %q has size %d, want %d", ErrDimensionMismatch, name, got, size)
	}
	return nil
}

// Dimensions returns the configured embedding length.
func (s *QdrantStore) Dimensions() int { return s.cfg.Dimensions }

// Name returns the readiness label.
func (s *QdrantStore) Name() string { return "qdrant" }

// pointID derives the point ID for text.
func pointID(text string) string {
	return uuid.NewSHA1(pointNamespace, []byte(text)).String()
}

// InsertBatch looks up which texts already exist and upserts only the
// missing ones in a single waited request, so existing points are never
// overwritten.
func (s *QdrantStore) InsertBatch(ctx context.Context, records []Record) (int, error) {
	if err := CheckDimensions(records, s.cfg.Dimensions); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	ids := make([]*qdrant.PointId, 0, len(records))
	byID := make(map[string]Record, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		id := pointID(r.Text)
		if _, dup := byID[id]; dup {
			continue
		}
		byID[id] = r
		order = append(order, id)
		ids = append(ids, qdrant.NewIDUUID(id))
	}

	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            ids,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant get: %v", ErrStoreUnavailable, err)
	}
	present := make(map[string]bool, len(existing))
	for _, p := range existing {
		present[p.GetId().GetUuid()] = true
	}

	now := time.Now().UTC().UnixNano()
	points := make([]*qdrant.PointStruct, 0, len(order))
	for i, id := range order {
		if present[id] {
			continue
		}
		r := byID[id]
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(r.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				"text":       r.Text,
				"created_at": now + int64(i),
			}),
		})
	}
	if len(points) == 0 {
		return 0, nil
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant upsert: %v", ErrStoreUnavailable, err)
	}
	return len(points), nil
}

// Search queries the collection and converts cosine similarity scores into
// distances.
func (s *QdrantStore) Search(ctx context.Context, query []float32, topK int) ([]Match, error) {
	if err := checkQuery(query, s.cfg.Dimensions); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Match{}, nil
	}

	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant query: %v", ErrStoreUnavailable, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Text:     r.GetPayload()["text"].GetStringValue(),
			Distance: 1 - float64(r.GetScore()),
		})
	}
	return rankTopK(matches, topK), nil
}

// Count returns the exact number of points.
func (s *QdrantStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant count: %v", ErrStoreUnavailable, err)
	}
	return int64(n), nil //nolint:gosec // point counts fit in int64
}

// EnsureMeta keeps dimension and model in a one-point companion collection
// named <collection>_meta.
func (s *QdrantStore) EnsureMeta(ctx context.Context, model string) error {
	metaCollection := s.cfg.Collection + "_meta"
	if err := s.ensureCollection(ctx, metaCollection, 1); err != nil {
		return err
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: metaCollection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(metaPointID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant meta read: %v", ErrStoreUnavailable, err)
	}
	if len(points) > 0 {
		p := points[0].GetPayload()
		return compareMeta(p[metaDimension].GetStringValue(), p[metaModel].GetStringValue(), s.cfg.Dimensions, model)
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: metaCollection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(metaPointID),
			Vectors: qdrant.NewVectors(1),
			Payload: qdrant.NewValueMap(map[string]any{
				metaDimension: strconv.Itoa(s.cfg.Dimensions),
				metaModel:     model,
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant meta write: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Ping calls the Qdrant HealthCheck RPC.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: qdrant health check: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
