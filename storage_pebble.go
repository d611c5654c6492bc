package frontchat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

const pebbleKeyPrefix = "session:"

// PebbleStorage stores session values in a local pebble database.
type PebbleStorage struct {
	db *pebble.DB
}

// OpenPebbleStorage opens (or creates) the database directory at path.
func OpenPebbleStorage(path string) (*PebbleStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("cannot create storage directory: %w", err)
	}
	return openPebble(path, &pebble.Options{})
}

// OpenMemPebbleStorage opens a pebble database on an in-memory filesystem.
func OpenMemPebbleStorage() (*PebbleStorage, error) {
	return openPebble("", &pebble.Options{FS: vfs.NewMem()})
}

func openPebble(path string, opts *pebble.Options) (*PebbleStorage, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	return &PebbleStorage{db: db}, nil
}

func (s *PebbleStorage) Get(key string) (string, bool, error) {
	v, closer, err := s.db.Get([]byte(pebbleKeyPrefix + key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	defer closer.Close()
	return string(v), true, nil
}

func (s *PebbleStorage) Set(key, value string) error {
	return s.db.Set([]byte(pebbleKeyPrefix+key), []byte(value), pebble.Sync)
}

func (s *PebbleStorage) Delete(key string) error {
	return s.db.Delete([]byte(pebbleKeyPrefix+key), pebble.Sync)
}

// Close flushes and closes the database.
func (s *PebbleStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
