//go:build integration

package docstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spherical/docpipe/internal/domain"
)

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	state TEXT NOT NULL,
	record JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// setupPostgres starts a disposable Postgres container and returns a ready
// *sql.DB with the documents table applied. Skips when Docker isn't
// reachable, matching the rest of the suite's opt-in integration pattern.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("docpipe_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("docker unavailable, skipping: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, documentsSchema)
	require.NoError(t, err)

	return db
}

func TestRepositoryAgainstRealPostgres(t *testing.T) {
	db := setupPostgres(t)
	repo := New(db)
	ctx := context.Background()

	record := domain.DocumentRecord{
		ID:        uuid.New(),
		Filename:  "datasheet.pdf",
		Markdown:  "# Datasheet\n\nSpec body.",
		PageCount: 3,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, repo.Save(ctx, record, domain.StateLayoutDone))

	got, state, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateLayoutDone, state)
	require.Equal(t, record.Filename, got.Filename)
	require.Equal(t, record.Markdown, got.Markdown)

	require.NoError(t, repo.SetState(ctx, record.ID, domain.StateReady))
	_, state, err = repo.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateReady, state)

	require.NoError(t, repo.Touch(ctx, record.ID, time.Now()))

	_, _, err = repo.Get(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
