// Package cas implements the content store: an append-only, thread-safe
// blob store keyed by the SHA-256 digest of its contents. It backs the
// large-value side of a DataKey — short rows never reach this package,
// they stay inline (see pkg/algebra.DataKey).
package cas

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"

	"github.com/spacetimedb/core/pkg/algebra"
	bolt "go.etcd.io/bbolt"
)

var bucketBlobs = []byte("blobs")

// Store is the content-addressed blob store required by §4.1.
type Store interface {
	Put(data []byte) (algebra.Hash, error)
	Get(h algebra.Hash) ([]byte, bool, error)
	Has(h algebra.Hash) (bool, error)
	Close() error
}

// BoltStore implements Store on top of go.etcd.io/bbolt, the same
// embedded key/value engine the teacher uses for its cluster store.
type BoltStore struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the object store file under dataDir.
func Open(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "object_store", "objects.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlobs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init object store bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Put stores data under the hash of its contents and returns that hash.
// Puts are idempotent: storing identical bytes twice returns the same
// hash and does not error. Put returns only once the write is durable, so
// a commit referencing the returned hash may be acknowledged safely.
func (s *BoltStore) Put(data []byte) (algebra.Hash, error) {
	h := algebra.Hash(sha256.Sum256(data))
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		if b.Get(h[:]) != nil {
			return nil
		}
		return b.Put(h[:], data)
	})
	if err != nil {
		return algebra.Hash{}, fmt.Errorf("put blob: %w", err)
	}
	return h, nil
}

// Get returns the blob for h, or ok=false if it is not present.
func (s *BoltStore) Get(h algebra.Hash) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlobs)
		v := b.Get(h[:])
		if v == nil {
			return nil
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get blob: %w", err)
	}
	return out, out != nil, nil
}

// Has reports whether h is present without copying its bytes.
func (s *BoltStore) Has(h algebra.Hash) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketBlobs).Get(h[:]) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("has blob: %w", err)
	}
	return found, nil
}
