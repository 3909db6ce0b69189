// Package kvstore provides the ordered key-value store backing commits,
// staged entries (one per parent directory), merge conflicts, and the
// server's finalize queue. Merkle tree nodes are plain files in the node
// store; there are no per-commit dir-hashes or schemas stores. It is a
// thin wrapper around
// go.etcd.io/bbolt, chosen for its ordered range scans via Cursor, point
// Get, batched writes via Batch/Update, and read-only Open.
package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// CorruptedDbError is returned when a KV file exists but cannot be opened
// or a read/write against it fails in a way that indicates on-disk
// corruption. This aborts the operation; there is no silent recovery
// path.
type CorruptedDbError struct {
	Path string
	Err  error
}

func (e *CorruptedDbError) Error() string {
	return fmt.Sprintf("corrupted db at %s: %v", e.Path, e.Err)
}

func (e *CorruptedDbError) Unwrap() error { return e.Err }

// defaultBucket is the single bucket used per KV file; callers namespace by
// choosing distinct KV file paths (one per directory, per commit, etc.)
// rather than by bucket, matching the "dirs/<dir>/..." on-disk layout.
var defaultBucket = []byte("kv")

// Store is an opened KV file.
type Store struct {
	db       *bolt.DB
	path     string
	readOnly bool
}

// Open opens (creating if necessary) the KV file at path for read-write use.
func Open(path string) (*Store, error) {
	return open(path, false)
}

// OpenReadOnly opens the KV file at path without permitting writes. Used
// by readers that only need a lock-free snapshot.
func OpenReadOnly(path string) (*Store, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*Store, error) {
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for kv store %s: %w", path, err)
		}
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, os.ErrNotExist
	}
	opts := &bolt.Options{
		Timeout:  2 * time.Second,
		ReadOnly: readOnly,
	}
	db, err := bolt.Open(path, 0o644, opts)
	if err != nil {
		if readOnly && os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, &CorruptedDbError{Path: path, Err: err}
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(defaultBucket)
			return err
		}); err != nil {
			db.Close()
			return nil, &CorruptedDbError{Path: path, Err: err}
		}
	}
	return s, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path backing this store.
func (s *Store) Path() string { return s.path }

// Get fetches the value for key, returning (nil, false) if absent.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		if b == nil {
			return nil
		}
		v := b.Get(key)
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, &CorruptedDbError{Path: s.path, Err: err}
	}
	return val, val != nil, nil
}

// Put writes a single key-value pair.
func (s *Store) Put(key, value []byte) error {
	return s.Batch(map[string][]byte{string(key): value}, nil)
}

// Delete removes a key. It is not an error if the key is absent.
func (s *Store) Delete(key []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(defaultBucket).Delete(key)
	})
	if err != nil {
		return &CorruptedDbError{Path: s.path, Err: err}
	}
	return nil
}

// Batch atomically applies a set of puts and deletes in one transaction.
func (s *Store) Batch(puts map[string][]byte, deletes [][]byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(defaultBucket)
		for k, v := range puts {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		for _, k := range deletes {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &CorruptedDbError{Path: s.path, Err: err}
	}
	return nil
}

// Entry is a key-value pair yielded by a range scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Range performs an ordered scan over [start, end). An empty end scans to
// the end of the keyspace; an empty start scans from the beginning.
func (s *Store) Range(start, end []byte, fn func(Entry) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(defaultBucket).Cursor()
		var k, v []byte
		if len(start) == 0 {
			k, v = c.First()
		} else {
			k, v = c.Seek(start)
		}
		for ; k != nil; k, v = c.Next() {
			if len(end) > 0 && string(k) >= string(end) {
				break
			}
			if err := fn(Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(*CorruptedDbError); ok {
			return err
		}
		return err
	}
	return nil
}

// ScanPrefix scans every key sharing the given prefix.
func (s *Store) ScanPrefix(prefix []byte, fn func(Entry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(defaultBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(Entry{Key: append([]byte(nil), k...), Value: append([]byte(nil), v...)}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of keys in the store.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(defaultBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
