package storage

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
)

const snapshotKey = "snapshot/v1"

// BadgerBackend keeps the snapshot under a single key in a BadgerDB.
type BadgerBackend struct {
	db    *badger.DB
	write writer
}

// OpenBadger opens a BadgerDB at path. An empty path opens an in-memory DB.
func OpenBadger(path string) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger db")
	}
	return &BadgerBackend{db: db}, nil
}

// Save stores the snapshot.
func (b *BadgerBackend) Save(ctx context.Context, data []byte) error {
	return b.write.run(ctx, func() error {
		return b.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set([]byte(snapshotKey), data); err != nil {
				return errors.Wrap(err, "failed to set snapshot")
			}
			return nil
		})
	})
}

// Load reads the snapshot.
func (b *BadgerBackend) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := runBounded(ctx, func() error {
		return b.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(snapshotKey))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return errors.Wrap(err, "failed to get snapshot")
			}
			data, err = item.ValueCopy(nil)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Close closes the database.
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
