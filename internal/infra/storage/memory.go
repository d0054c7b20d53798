package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps the snapshot in memory. Used for tests and for
// deployments that do not need restarts to survive.
type MemoryBackend struct {
	mu    sync.RWMutex
	data  []byte
	saves int
	err   error
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Save stores a copy of data.
func (b *MemoryBackend) Save(ctx context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.data = append([]byte(nil), data...)
	b.saves++
	return nil
}

// Load returns a copy of the stored snapshot.
func (b *MemoryBackend) Load(ctx context.Context) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.err != nil {
		return nil, b.err
	}
	if b.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b.data...), nil
}

// Saves returns how many successful saves happened.
func (b *MemoryBackend) Saves() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.saves
}

// FailWith makes every following call return err (nil restores).
func (b *MemoryBackend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Close is a no-op.
func (b *MemoryBackend) Close() error {
	return nil
}
