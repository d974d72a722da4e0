// Package docstore persists DocumentRecords and their lifecycle state so
// the Orchestrator can resume work against a document across calls.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/docpipe/internal/domain"
)

// ErrNotFound indicates no document row matched the query.
var ErrNotFound = errors.New("document not found")

// DB is the subset of *sql.DB the repository needs.
type DB interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository persists one row per document: its canonical record plus
// lifecycle state. The record itself is stored as a JSON blob since its
// shape is owned by the domain package, not the schema.
type Repository struct {
	db DB
}

// New creates a Repository.
func New(db DB) *Repository {
	return &Repository{db: db}
}

// Save upserts a document's record and state.
func (r *Repository) Save(ctx context.Context, record domain.DocumentRecord, state domain.DocumentState) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal document record: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO documents (id, state, record, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
	`, record.ID, state, data, record.CreatedAt)
	return err
}

// SetState updates only the lifecycle state column, leaving the record
// untouched. Used for transitions that don't republish the record (e.g.
// marking a document failed).
func (r *Repository) SetState(ctx context.Context, id uuid.UUID, state domain.DocumentState) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET state = $1 WHERE id = $2`, state, id)
	return err
}

// Get retrieves a document's record and current state.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.DocumentRecord, domain.DocumentState, error) {
	var data []byte
	var state string
	row := r.db.QueryRowContext(ctx, `SELECT record, state FROM documents WHERE id = $1`, id)
	if err := row.Scan(&data, &state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DocumentRecord{}, "", ErrNotFound
		}
		return domain.DocumentRecord{}, "", err
	}
	var record domain.DocumentRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.DocumentRecord{}, "", fmt.Errorf("unmarshal document record: %w", err)
	}
	return record, domain.DocumentState(state), nil
}

// Touch bumps updated_at without changing state or record.
func (r *Repository) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE documents SET updated_at = $1 WHERE id = $2`, at, id)
	return err
}
