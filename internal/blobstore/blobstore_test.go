package blobstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/docpipe/internal/domain"
)

func TestKeyFormat(t *testing.T) {
	docID := uuid.New()
	page := 3

	assert.Equal(t, docID.String()+"/3_2.png", Key(docID, &page, 2, "png"))
	assert.Equal(t, docID.String()+"/noPage_0.png", Key(docID, nil, 0, "png"))
}

func TestSignReturnsURLContainingKey(t *testing.T) {
	store, err := New(Config{RootDir: t.TempDir(), BucketName: "test"}, nil)
	require.NoError(t, err)

	url := store.Sign("doc/1_0.png", 0)
	assert.Contains(t, url, "doc/1_0.png")
}

func TestPutWithoutMetadataRepoSucceeds(t *testing.T) {
	store, err := New(Config{RootDir: t.TempDir(), BucketName: "test"}, nil)
	require.NoError(t, err)

	artifact := domain.ImageArtifact{ID: uuid.New(), DocumentID: uuid.New()}
	key := Key(artifact.DocumentID, nil, 0, "png")

	err = store.Put(context.Background(), key, []byte("fake-png-bytes"), artifact)
	require.NoError(t, err)

	data, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-png-bytes"), data)
}

func TestDeleteAllRemovesDocumentDirectory(t *testing.T) {
	store, err := New(Config{RootDir: t.TempDir(), BucketName: "test"}, nil)
	require.NoError(t, err)

	docID := uuid.New()
	key := Key(docID, nil, 0, "png")
	require.NoError(t, store.Put(context.Background(), key, []byte("x"), domain.ImageArtifact{ID: uuid.New(), DocumentID: docID}))

	n, err := store.DeleteAll(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(key)
	assert.Error(t, err)
}
