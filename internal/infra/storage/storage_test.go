package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunebox/internal/infra/config"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	file, err := NewFileBackend(filepath.Join(t.TempDir(), "state", "snapshot.json"))
	require.NoError(t, err)

	db, err := OpenBadger(filepath.Join(t.TempDir(), "badger"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mem, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	return map[string]Backend{
		"file":      file,
		"badger":    db,
		"badger-im": mem,
		"memory":    NewMemoryBackend(),
	}
}

func TestBackends_RoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := b.Load(ctx)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, b.Save(ctx, []byte(`{"g1":{}}`)))
			require.NoError(t, b.Save(ctx, []byte(`{"g2":{}}`)))

			data, err := b.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, `{"g2":{}}`, string(data))
		})
	}
}

func TestBackends_CancelledContext(t *testing.T) {
	for name, b := range backends(t) {
		if name == "memory" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			assert.Error(t, b.Save(ctx, []byte("x")))
		})
	}
}

func TestWriter_TimedOutWriteNeverOverwritesNewer(t *testing.T) {
	var (
		w      writer
		mu     sync.Mutex
		writes []string
	)
	record := func(v string) func() error {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			writes = append(writes, v)
			return nil
		}
	}

	release := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.run(ctx, func() error {
		<-release
		return record("one")()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, w.run(ctx2, record("two")), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- w.run(context.Background(), record("three")) }()

	close(release)
	require.NoError(t, <-done)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, writes)
	assert.Equal(t, "one", writes[0])
	assert.Equal(t, "three", writes[len(writes)-1])
}

func TestFileBackend_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(filepath.Join(dir, "snapshot.json"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Save(ctx, []byte("{}")))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snapshot.json", entries[0].Name())
}

func TestMemoryBackend_FailWith(t *testing.T) {
	b := NewMemoryBackend()
	b.FailWith(errors.New("disk full"))
	assert.Error(t, b.Save(context.Background(), []byte("x")))
	b.FailWith(nil)
	assert.NoError(t, b.Save(context.Background(), []byte("x")))
	assert.Equal(t, 1, b.Saves())
}

func TestNew(t *testing.T) {
	b, err := New(config.StorageConfig{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = New(config.StorageConfig{Type: "file", Path: filepath.Join(t.TempDir(), "s.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	_, err = New(config.StorageConfig{Type: "redis"})
	assert.Error(t, err)
}
