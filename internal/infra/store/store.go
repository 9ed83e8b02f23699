package store

// Durable key/value documents for engine state (ledger, scheduler state, history).
// Every Put replaces the whole value atomically: a reader sees the previous
// document or the new one, never a torn write.

import (
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
)

var ErrNotFound = errors.New("store: key not found")

const (
	BackendFile   = "file"
	BackendPebble = "pebble"
)

type KV interface {
	// Get returns ErrNotFound when key has never been written.
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Close() error
}

// Open returns the backend named by backend rooted at dir.
func Open(backend, dir string) (KV, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileStore(dir)
	case BackendPebble:
		return NewPebbleStore(dir)
	default:
		return nil, errors.Newf("unknown storage backend %q", backend)
	}
}

// LoadJSON decodes key into v. found is false when the key does not exist.
func LoadJSON(kv KV, key string, v any) (found bool, err error) {
	data, err := kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "reading %s", key)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.Wrapf(err, "decoding %s", key)
	}
	return true, nil
}

func SaveJSON(kv KV, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %s", key)
	}
	if err := kv.Put(key, data); err != nil {
		return errors.Wrapf(err, "writing %s", key)
	}
	return nil
}
