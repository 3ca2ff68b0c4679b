package tilemem

import (
	"context"
	"fmt"
	"sync"
)

// StoreKey addresses one persisted tile revision.
type StoreKey struct {
	Key
	Revision uint64
}

// String implements fmt.Stringer.
func (k StoreKey) String() string {
	return fmt.Sprintf("%s@%d", k.Key, k.Revision)
}

// Store is the durable key-value byte store provided by the host.
// Implementations must be safe for concurrent use. Over-capacity and
// over-size conditions should return an error wrapping ErrStoreQuota.
type Store interface {
	Put(ctx context.Context, key StoreKey, value []byte) error
	Get(ctx context.Context, key StoreKey) ([]byte, error)
	Delete(ctx context.Context, key StoreKey) error
}

// MemStore is an in-memory Store with optional quotas.
type MemStore struct {
	mu     sync.RWMutex
	values map[StoreKey][]byte
	used   int64

	// MaxBytes caps the total stored bytes (0 = unlimited).
	MaxBytes int64
	// MaxValueSize caps a single value (0 = unlimited).
	MaxValueSize int
}

// NewMemStore creates an in-memory store capped at maxBytes (0 = unlimited).
func NewMemStore(maxBytes int64) *MemStore {
	return &MemStore{values: make(map[StoreKey][]byte), MaxBytes: maxBytes}
}

// Put stores a copy of value.
func (s *MemStore) Put(ctx context.Context, key StoreKey, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.MaxValueSize > 0 && len(value) > s.MaxValueSize {
		return fmt.Errorf("%w: value %d bytes exceeds %d", ErrStoreQuota, len(value), s.MaxValueSize)
	}
	old := int64(len(s.values[key]))
	if s.MaxBytes > 0 && s.used-old+int64(len(value)) > s.MaxBytes {
		return fmt.Errorf("%w: %d of %d bytes used", ErrStoreQuota, s.used, s.MaxBytes)
	}
	s.values[key] = append([]byte(nil), value...)
	s.used += int64(len(value)) - old
	return nil
}

// Get returns a copy of the stored value.
func (s *MemStore) Get(ctx context.Context, key StoreKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), v...), nil
}

// Delete removes a value. Deleting a missing key is not an error.
func (s *MemStore) Delete(ctx context.Context, key StoreKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.used -= int64(len(s.values[key]))
	delete(s.values, key)
	return nil
}

// Len returns the number of stored values.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Used returns the total stored bytes.
func (s *MemStore) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}
