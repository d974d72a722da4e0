// Package blobstore implements the Blob Store Adapter: persists image
// bytes to a filesystem bucket under {document_id}/{page}_{index}.{ext}
// keys, issues time-limited
// signed references, and records metadata in a companion SQL store.
package blobstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/docpipe/internal/domain"
)

// Store persists blobs under a root directory, namespaced by document id.
type Store struct {
	rootDir    string
	bucketName string
	signingKey []byte
	signedTTL  time.Duration
	metadata   *MetadataRepository
}

// Config configures a Store.
type Config struct {
	RootDir    string
	BucketName string
	SigningKey string
	SignedTTL  time.Duration
}

// New creates a Store. metadata may be nil if metadata persistence is
// handled by the caller separately.
func New(cfg Config, metadata *MetadataRepository) (*Store, error) {
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root dir: %w", err)
	}
	key := cfg.SigningKey
	if key == "" {
		key = "docpipe-dev-signing-key"
	}
	ttl := cfg.SignedTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		rootDir:    cfg.RootDir,
		bucketName: cfg.BucketName,
		signingKey: []byte(key),
		signedTTL:  ttl,
		metadata:   metadata,
	}, nil
}

// Key formats the blob key for one image artifact, per the
// {document_id}/{page_or_noPage}_{index}.{ext} convention.
func Key(documentID uuid.UUID, pageNumber *int, index int, ext string) string {
	page := "noPage"
	if pageNumber != nil {
		page = strconv.Itoa(*pageNumber)
	}
	return fmt.Sprintf("%s/%s_%d.%s", documentID.String(), page, index, ext)
}

// Put persists bytes under key and writes the artifact's metadata row. If
// the metadata write fails, the blob is deleted before the error surfaces,
// so a put never leaves an orphaned blob with no corresponding record.
func (s *Store) Put(ctx context.Context, key string, data []byte, artifact domain.ImageArtifact) error {
	path := s.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}

	if s.metadata != nil {
		if err := s.metadata.Save(ctx, artifact); err != nil {
			_ = os.Remove(path)
			return fmt.Errorf("write artifact metadata: %w", err)
		}
	}
	return nil
}

// Sign issues a time-limited reference to key. The signature is an HMAC
// over the key and expiry, verified by Verify; this is a self-contained
// signed-URL scheme, not a delegation to the backing filesystem's own ACLs.
func (s *Store) Sign(key string, ttl time.Duration) string {
	if ttl <= 0 {
		ttl = s.signedTTL
	}
	expiry := time.Now().Add(ttl).Unix()
	sig := s.sign(key, expiry)
	return fmt.Sprintf("/blobs/%s?expires=%d&sig=%s", key, expiry, sig)
}

// Verify checks a signature produced by Sign.
func (s *Store) Verify(key string, expiry int64, sig string) bool {
	if time.Now().Unix() > expiry {
		return false
	}
	return hmac.Equal([]byte(sig), []byte(s.sign(key, expiry)))
}

func (s *Store) sign(key string, expiry int64) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(fmt.Sprintf("%s:%d", key, expiry)))
	return hex.EncodeToString(mac.Sum(nil))
}

// DeleteAll removes every blob belonging to documentID and its metadata
// rows, returning the number of blobs removed.
func (s *Store) DeleteAll(ctx context.Context, documentID uuid.UUID) (int, error) {
	dir := filepath.Join(s.rootDir, documentID.String())
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read document blob dir: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return 0, fmt.Errorf("remove document blob dir: %w", err)
	}

	if s.metadata != nil {
		if err := s.metadata.DeleteByDocument(ctx, documentID); err != nil {
			return len(entries), fmt.Errorf("delete artifact metadata: %w", err)
		}
	}
	return len(entries), nil
}

// Get reads the raw bytes stored at key.
func (s *Store) Get(key string) ([]byte, error) {
	return os.ReadFile(s.pathFor(key))
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.rootDir, key)
}
