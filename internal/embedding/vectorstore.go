package embedding

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
)

// VectorStore persists embeddings and supports nearest-neighbour search
// over them. Implemented by SQLiteVectorStore (default) and QdrantStore
// (alternative, for larger corpora where a brute-force scan stops being
// viable).
type VectorStore interface {
	Upsert(ctx context.Context, artifactID uuid.UUID, vector []float64) error
	Search(ctx context.Context, query []float64, topK int) ([]SearchHit, error)
	Close() error
}

// SearchHit is one nearest-neighbour result.
type SearchHit struct {
	ArtifactID uuid.UUID
	Score      float64
}

// SQLiteVectorStore stores vectors as JSON blobs in the metadata database
// and does a brute-force cosine scan. This is the default store: adequate
// for the per-document corpora this pipeline handles, and it keeps
// embeddings co-located with the rest of the artifact metadata.
type SQLiteVectorStore struct {
	db *sql.DB
}

// NewSQLiteVectorStore wraps an existing metadata database connection.
func NewSQLiteVectorStore(db *sql.DB) *SQLiteVectorStore {
	return &SQLiteVectorStore{db: db}
}

// Upsert stores vector for artifactID.
func (s *SQLiteVectorStore) Upsert(ctx context.Context, artifactID uuid.UUID, vector []float64) error {
	data, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("marshal vector: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE image_artifacts SET embedding = $1, embedding_generated = true WHERE id = $2`,
		data, artifactID)
	return err
}

// Search performs a brute-force cosine-similarity scan across every stored
// embedding and returns the topK closest.
func (s *SQLiteVectorStore) Search(ctx context.Context, query []float64, topK int) ([]SearchHit, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM image_artifacts WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var id uuid.UUID
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		var vec []float64
		if err := json.Unmarshal(raw, &vec); err != nil {
			continue
		}
		hits = append(hits, SearchHit{ArtifactID: id, Score: cosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return topN(hits, topK), nil
}

// Close is a no-op; the underlying *sql.DB is owned by the caller.
func (s *SQLiteVectorStore) Close() error { return nil }

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func topN(hits []SearchHit, n int) []SearchHit {
	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			if hits[j].Score > hits[i].Score {
				hits[i], hits[j] = hits[j], hits[i]
			}
		}
	}
	if n > 0 && n < len(hits) {
		return hits[:n]
	}
	return hits
}

// QdrantStore persists embeddings in a Qdrant collection, used when the
// deployment configures an external vector store instead of the sqlite
// default (larger corpora, shared retrieval across documents).
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// QdrantConfig configures a QdrantStore connection.
type QdrantConfig struct {
	Addr       string
	Collection string
}

// NewQdrantStore connects to a Qdrant instance.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: cfg.Addr})
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant: %w", err)
	}
	return &QdrantStore{client: client, collection: cfg.Collection}, nil
}

// Upsert stores vector under artifactID's point id.
func (q *QdrantStore) Upsert(ctx context.Context, artifactID uuid.UUID, vector []float64) error {
	vec32 := make([]float32, len(vector))
	for i, v := range vector {
		vec32[i] = float32(v)
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(artifactID.String()),
				Vectors: qdrant.NewVectors(vec32...),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search performs a vector similarity query against the collection.
func (q *QdrantStore) Search(ctx context.Context, query []float64, topK int) ([]SearchHit, error) {
	vec32 := make([]float32, len(query))
	for i, v := range query {
		vec32[i] = float32(v)
	}

	limit := uint64(topK)
	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vec32...),
		Limit:          &limit,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		id, err := uuid.Parse(r.Id.GetUuid())
		if err != nil {
			continue
		}
		hits = append(hits, SearchHit{ArtifactID: id, Score: float64(r.Score)})
	}
	return hits, nil
}

// Close releases the underlying connection.
func (q *QdrantStore) Close() error {
	return q.client.Close()
}
