// Package storage provides durable backends for the state snapshot.
package storage

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/infra/config"
)

// ErrNotFound is returned by Load when no snapshot has been written yet.
var ErrNotFound = errors.New("snapshot not found")

// Backend stores a single opaque snapshot blob.
type Backend interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
	Close() error
}

// New creates a backend from configuration.
func New(cfg config.StorageConfig) (Backend, error) {
	zlog.Debug().Msgf("creating storage backend: type=%s path=%s", cfg.Type, cfg.Path)
	switch cfg.Type {
	case "file", "":
		return NewFileBackend(cfg.Path)
	case "badger":
		return OpenBadger(cfg.Path)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, errors.Newf("unsupported storage type: %s", cfg.Type)
	}
}

// runBounded runs fn and returns early with ctx.Err() if ctx ends first.
// fn keeps running in the background in that case.
func runBounded(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "storage operation timed out")
	}
}

// writer orders snapshot writes. A write whose caller timed out still
// finishes before the next one starts, and a write that lost the race to a
// newer one is dropped, so the stored snapshot is always the latest.
type writer struct {
	mu      sync.Mutex
	seq     atomic.Uint64
	written uint64 // Sequence of the stored snapshot, guarded by mu
}

func (w *writer) run(ctx context.Context, fn func() error) error {
	seq := w.seq.Add(1)
	return runBounded(ctx, func() error {
		w.mu.Lock()
		defer w.mu.Unlock()
		if seq < w.written {
			return nil
		}
		if err := fn(); err != nil {
			return err
		}
		w.written = seq
		return nil
	})
}
