package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys reserved by the Qdrant backend.
const (
	qdrantContent = "content"
	qdrantSource  = "source"
)

// numericMeta lists metadata keys stored as Qdrant integers so they can be
// range-filtered; everything else is stored as a string.
var numericMeta = map[string]bool{
	MetaPage:       true,
	MetaOffset:     true,
	MetaChunkIndex: true,
}

// QdrantConfig holds connection parameters for a Qdrant instance.
type QdrantConfig struct {
	// Host defaults to localhost.
	Host string
	// Port is the gRPC port, default 6334.
	Port       int
	Collection string
	// VectorSize must match the embedder's output dimension.
	VectorSize uint64
	APIKey     string
	UseTLS     bool
}

func (c QdrantConfig) withDefaults() QdrantConfig {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	return c
}

// QdrantStore implements VectorStore on a Qdrant collection with cosine
// distance. Chunk UUIDs are used directly as point IDs.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
}

// NewQdrantStore connects to Qdrant and makes sure the collection exists with
// the configured vector size. An existing collection with a different size is
// an error: mixing embedding models in one collection makes search useless.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	c := cfg.withDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	s := &QdrantStore{client: client, cfg: c}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	name := s.cfg.Collection
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: collection %q: %w", name, err)
	}
	if exists {
		return s.checkVectorSize(ctx)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %q: %w", name, err)
	}

	// Keyword index on source so per-document deletes and filters stay cheap.
	wait := true
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      qdrantSource,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("qdrant: index %q.%s: %w", name, qdrantSource, err)
	}
	return nil
}

// checkVectorSize compares the existing collection's vector size with the
// configured one. A size of zero on either side skips the check.
func (s *QdrantStore) checkVectorSize(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: collection info %q: %w", s.cfg.Collection, err)
	}
	have := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if have != 0 && s.cfg.VectorSize != 0 && have != s.cfg.VectorSize {
		return fmt.Errorf("qdrant: collection %q stores %d-dim vectors but the embedder produces %d",
			s.cfg.Collection, have, s.cfg.VectorSize)
	}
	return nil
}

// Upsert writes one point per document. Qdrant rejects the whole request
// when any vector has the wrong size.
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings", len(docs), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(docs[i].ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(qdrantPayload(&docs[i])),
		}
	}

	wait := true
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant: upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search returns the topK nearest points with their payloads.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]Document, error) {
	limit := uint64(topK)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query: %w", err)
	}

	docs := make([]Document, len(hits))
	for i, h := range hits {
		docs[i] = documentFromPayload(h.GetId().GetUuid(), h.GetScore(), h.GetPayload())
	}
	return docs, nil
}

// Delete removes points by chunk ID.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	if _, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	}); err != nil {
		return fmt.Errorf("qdrant: delete %d points: %w", len(ids), err)
	}
	return nil
}

// Ping reports whether the Qdrant server answers a health check.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// qdrantPayload flattens a document into a point payload. Numeric metadata
// that fails to parse is kept as a string.
func qdrantPayload(d *Document) map[string]any {
	p := make(map[string]any, len(d.Metadata)+2)
	for k, v := range d.Metadata {
		if numericMeta[k] {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				p[k] = n
				continue
			}
		}
		p[k] = v
	}
	p[qdrantContent] = d.Content
	p[qdrantSource] = d.Source
	return p
}

// documentFromPayload is the inverse of qdrantPayload.
func documentFromPayload(id string, score float32, payload map[string]*qdrant.Value) Document {
	d := Document{ID: id, Score: score, Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		switch k {
		case qdrantContent:
			d.Content = v.GetStringValue()
		case qdrantSource:
			d.Source = v.GetStringValue()
		default:
			if iv, ok := v.GetKind().(*qdrant.Value_IntegerValue); ok {
				d.Metadata[k] = strconv.FormatInt(iv.IntegerValue, 10)
			} else {
				d.Metadata[k] = v.GetStringValue()
			}
		}
	}
	return d
}
