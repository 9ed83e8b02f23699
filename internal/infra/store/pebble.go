package store

import (
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(storeDir string) (*PebbleStore, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "rewards-store"), &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "opening pebble db")
	}
	return &PebbleStore{db: db}, nil
}

func (ps *PebbleStore) Get(key string) ([]byte, error) {
	value, closer, err := ps.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting value for key [%s]", key)
	}
	defer closer.Close()

	// value is only valid until closer.Close.
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (ps *PebbleStore) Put(key string, value []byte) error {
	if err := ps.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return errors.Wrapf(err, "setting key [%s]", key)
	}
	return nil
}

func (ps *PebbleStore) Close() error {
	return ps.db.Close()
}
