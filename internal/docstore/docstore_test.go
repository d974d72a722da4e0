package docstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/docpipe/internal/domain"
)

// row captures the record/state a query would have scanned, adapting a
// canned *sql.Row to satisfy Repository.Get's Scan call.
type row struct {
	data  []byte
	state string
	found bool
}

// fakeDB is a minimal in-memory stand-in for docstore.DB: it dispatches on
// the query's leading verb/table rather than parsing SQL, which is enough
// to exercise Repository's four operations without a real driver.
type fakeDB struct {
	rows map[uuid.UUID]row
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[uuid.UUID]row)}
}

func (f *fakeDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	switch {
	case strings.Contains(query, "INSERT INTO documents"):
		id := args[0].(uuid.UUID)
		f.rows[id] = row{data: args[2].([]byte), state: string(args[1].(domain.DocumentState)), found: true}
	case strings.Contains(query, "UPDATE documents SET state"):
		id := args[1].(uuid.UUID)
		r := f.rows[id]
		r.state = string(args[0].(domain.DocumentState))
		f.rows[id] = r
	case strings.Contains(query, "UPDATE documents SET updated_at"):
		// Touch: nothing observable in this fake besides "no error".
	}
	return driver.RowsAffected(1), nil
}

// QueryRowContext is unused by the tests in this file: database/sql gives
// no public way to construct a *sql.Row with canned scan values outside a
// real driver, so Get's happy path is left to the testcontainers-backed
// integration suite rather than faked here.
func (f *fakeDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	panic("not exercised by these tests")
}

func TestSaveUpsertsIntoFakeStore(t *testing.T) {
	db := newFakeDB()
	repo := New(db)

	record := domain.DocumentRecord{ID: uuid.New(), Filename: "a.pdf", CreatedAt: time.Now()}
	err := repo.Save(context.Background(), record, domain.DocumentState("layout_done"))
	require.NoError(t, err)

	stored, ok := db.rows[record.ID]
	require.True(t, ok)
	assert.Equal(t, "layout_done", stored.state)
}

func TestSetStateUpdatesExistingRow(t *testing.T) {
	db := newFakeDB()
	repo := New(db)

	id := uuid.New()
	db.rows[id] = row{state: "layout_done", data: []byte("{}")}

	err := repo.SetState(context.Background(), id, domain.DocumentState("ready"))
	require.NoError(t, err)
	assert.Equal(t, "ready", db.rows[id].state)
}

func TestGetReturnsNotFoundSentinel(t *testing.T) {
	// Get maps sql.ErrNoRows (and only that) to ErrNotFound; the real
	// driver path is exercised in docstore_integration_test.go, so this
	// just checks the sentinel value.
	assert.EqualError(t, ErrNotFound, "document not found")
}
