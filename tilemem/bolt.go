package tilemem

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var tilesBucket = []byte("tiles")

// BoltStore is a durable Store backed by a bbolt database file.
type BoltStore struct {
	db *bolt.DB

	// MaxValueSize caps a single value (0 = unlimited).
	MaxValueSize int
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("tilemem: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(tilesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("tilemem: init %s: %w", path, err)
	}
	return &BoltStore{db: db}, nil
}

// boltKey encodes a StoreKey so that revisions of one tile sort together.
func boltKey(k StoreKey) []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint32(b[0:], uint32(k.Layer))
	binary.BigEndian.PutUint32(b[4:], uint32(int32(k.X)))
	binary.BigEndian.PutUint32(b[8:], uint32(int32(k.Y)))
	binary.BigEndian.PutUint64(b[12:], k.Revision)
	return b
}

// Put implements Store.
func (s *BoltStore) Put(ctx context.Context, key StoreKey, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.MaxValueSize > 0 && len(value) > s.MaxValueSize {
		return fmt.Errorf("%w: value %d bytes exceeds %d", ErrStoreQuota, len(value), s.MaxValueSize)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tilesBucket).Put(boltKey(key), value)
	})
}

// Get implements Store.
func (s *BoltStore) Get(ctx context.Context, key StoreKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(tilesBucket).Get(boltKey(key))
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		// v is only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Delete implements Store.
func (s *BoltStore) Delete(ctx context.Context, key StoreKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tilesBucket).Delete(boltKey(key))
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
