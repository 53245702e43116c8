// SPDX-License-Identifier: MIT

package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const recordPrefix = "rec:"

// Store persists records in badger. Entries carry a retention TTL well
// beyond the freshness window so stale serving survives restarts.
type Store struct {
	db        *badger.DB
	retention time.Duration
}

// OpenStore opens (or creates) the record database under dir.
func OpenStore(dir string, retention time.Duration) (*Store, error) {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("scrape: open store at %s: %w", dir, err)
	}
	return &Store{db: db, retention: retention}, nil
}

// Get returns the record for compositeKey, or nil when absent.
func (s *Store) Get(ctx context.Context, compositeKey string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := []byte(recordPrefix + compositeKey)
	var out Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("scrape: get %s: %w", compositeKey, err)
	}
	return &out, nil
}

// Upsert writes the record, replacing any previous value for its key.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := []byte(recordPrefix + rec.CompositeKey)
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("scrape: marshal record %s: %w", rec.CompositeKey, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, buf).WithTTL(s.retention)
		return txn.SetEntry(entry)
	})
}

// Keys lists stored composite keys sharing the given prefix. An empty
// prefix lists everything.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	scan := []byte(recordPrefix + prefix)
	var keys []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(scan); it.ValidForPrefix(scan); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			keys = append(keys, string(it.Item().Key()[len(recordPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// HealthCheck reports whether the store is usable.
func (s *Store) HealthCheck(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("scrape: store is closed")
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
