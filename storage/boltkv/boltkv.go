// Package boltkv provides a BBolt-backed storage.KV, the persistent tier of
// the client's state.
package boltkv

import (
	"fmt"

	"github.com/quantrail/quantachat/storage"
	"go.etcd.io/bbolt"
)

const bucketName = "quantachat"

// Store implements storage.KV backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.KV = (*Store)(nil)

// New returns a KV backed by the given BBolt database.
func New(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) a BBolt database at the given path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db), nil
}

func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), value)
	})
}

func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
