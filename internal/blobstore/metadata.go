package blobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/spherical/docpipe/internal/domain"
)

// ErrNotFound indicates no metadata row matched the query.
var ErrNotFound = errors.New("image artifact not found")

// DB is the subset of *sql.DB the metadata repository needs, so it can be
// backed by sqlite or Postgres interchangeably.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// MetadataRepository persists ImageArtifact rows.
type MetadataRepository struct {
	db DB
}

// NewMetadataRepository creates a MetadataRepository.
func NewMetadataRepository(db DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// Save inserts or updates an artifact's metadata row, keyed by its ID.
func (r *MetadataRepository) Save(ctx context.Context, a domain.ImageArtifact) error {
	structuredJSON, err := marshalNullable(a.StructuredData)
	if err != nil {
		return fmt.Errorf("marshal structured data: %w", err)
	}
	embeddingJSON, err := marshalNullable(a.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	query := `
		INSERT INTO image_artifacts (
			id, document_id, page_number, image_index, origin, mime, width, height,
			byte_length, content_hash, blob_key, ocr_text, description, classification,
			classification_confidence, structured_data, embedding, enriched_at,
			enrichment_error, embedding_generated
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (id) DO UPDATE SET
			ocr_text = EXCLUDED.ocr_text,
			description = EXCLUDED.description,
			classification = EXCLUDED.classification,
			classification_confidence = EXCLUDED.classification_confidence,
			structured_data = EXCLUDED.structured_data,
			embedding = EXCLUDED.embedding,
			enriched_at = EXCLUDED.enriched_at,
			enrichment_error = EXCLUDED.enrichment_error,
			embedding_generated = EXCLUDED.embedding_generated
	`
	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.DocumentID, a.PageNumber, a.ImageIndex, a.Origin, a.MIME, a.Width, a.Height,
		a.ByteLength, a.ContentHash, a.BlobKey, a.OCRText, a.Description, a.Classification,
		a.ClassificationScore, structuredJSON, embeddingJSON, a.EnrichedAt,
		a.EnrichmentError, a.EmbeddingGenerated,
	)
	return err
}

// GetByID retrieves a single artifact by id.
func (r *MetadataRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ImageArtifact, error) {
	query := `
		SELECT id, document_id, page_number, image_index, origin, mime, width, height,
			byte_length, content_hash, blob_key, ocr_text, description, classification,
			classification_confidence, structured_data, embedding, enriched_at,
			enrichment_error, embedding_generated
		FROM image_artifacts WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)
	return scanArtifact(row.Scan)
}

// ListByDocument retrieves every artifact belonging to documentID, ordered
// by page number then image index.
func (r *MetadataRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]domain.ImageArtifact, error) {
	query := `
		SELECT id, document_id, page_number, image_index, origin, mime, width, height,
			byte_length, content_hash, blob_key, ocr_text, description, classification,
			classification_confidence, structured_data, embedding, enriched_at,
			enrichment_error, embedding_generated
		FROM image_artifacts WHERE document_id = $1
		ORDER BY page_number NULLS FIRST, image_index
	`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ImageArtifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DeleteByDocument removes every metadata row for documentID.
func (r *MetadataRepository) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM image_artifacts WHERE document_id = $1`, documentID)
	return err
}

func scanArtifact(scan func(dest ...any) error) (*domain.ImageArtifact, error) {
	var a domain.ImageArtifact
	var structuredJSON, embeddingJSON []byte
	var enrichedAt sql.NullTime

	err := scan(
		&a.ID, &a.DocumentID, &a.PageNumber, &a.ImageIndex, &a.Origin, &a.MIME, &a.Width, &a.Height,
		&a.ByteLength, &a.ContentHash, &a.BlobKey, &a.OCRText, &a.Description, &a.Classification,
		&a.ClassificationScore, &structuredJSON, &embeddingJSON, &enrichedAt,
		&a.EnrichmentError, &a.EmbeddingGenerated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if enrichedAt.Valid {
		t := enrichedAt.Time
		a.EnrichedAt = &t
	}
	if len(structuredJSON) > 0 {
		if err := json.Unmarshal(structuredJSON, &a.StructuredData); err != nil {
			return nil, fmt.Errorf("unmarshal structured data: %w", err)
		}
	}
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &a.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshal embedding: %w", err)
		}
	}
	return &a, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
