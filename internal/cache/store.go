package cache

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"grabber/internal/config"
)

const (
	dbFileMode = 0o600
	dbDirMode  = 0o755

	// DefaultTTL applies when the configuration does not set one.
	DefaultTTL = 15 * time.Minute
)

var (
	bucketEntries = []byte("entries")
	bucketExpiry  = []byte("expiry")
)

// Store is a bbolt-backed key/value cache with per-entry expiry.
//
// Entries live in the "entries" bucket as an 8-byte big-endian death time
// followed by the payload. The "expiry" bucket indexes the same entries by
// death time followed by key, so expired entries sort first and a cursor scan
// from the beginning can stop at the first live one.
type Store struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// Open opens or creates the cache database configured for the daemon.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	return OpenPath(cfg.CacheDBPath(), append([]Option{WithTTL(cfg.CacheTTL())}, opts...)...)
}

// OpenPath opens or creates a cache database at path.
func OpenPath(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dbDirMode); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := bolt.Open(path, dbFileMode, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	s := &Store{db: db, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := db.Update(createBuckets); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache buckets: %w", err)
	}
	return s, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns a copy of the cached value. Expired entries are swept first, so
// a value past its TTL is never returned.
func (s *Store) Get(key string) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		if _, err := sweep(tx, s.now()); err != nil {
			return err
		}
		raw := tx.Bucket(bucketEntries).Get([]byte(key))
		if len(raw) < 8 {
			return nil
		}
		value = bytes.Clone(raw[8:])
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return value, found, nil
}

// Set stores value under key with the store's TTL.
func (s *Store) Set(key string, value []byte) error {
	return s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL stores value under key for the given lifetime, replacing any
// previous entry and its expiry index record.
func (s *Store) SetWithTTL(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	deathAt := s.now().Add(ttl).UnixNano()
	err := s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		expiry := tx.Bucket(bucketExpiry)
		if old := entries.Get([]byte(key)); len(old) >= 8 {
			if err := expiry.Delete(expiryKey(int64(binary.BigEndian.Uint64(old[:8])), key)); err != nil {
				return err
			}
		}
		record := make([]byte, 8+len(value))
		binary.BigEndian.PutUint64(record[:8], uint64(deathAt))
		copy(record[8:], value)
		if err := entries.Put([]byte(key), record); err != nil {
			return err
		}
		return expiry.Put(expiryKey(deathAt, key), nil)
	})
	if err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

// Delete removes a single entry.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		old := entries.Get([]byte(key))
		if len(old) < 8 {
			return nil
		}
		if err := tx.Bucket(bucketExpiry).Delete(expiryKey(int64(binary.BigEndian.Uint64(old[:8])), key)); err != nil {
			return err
		}
		return entries.Delete([]byte(key))
	})
}

// Sweep deletes every expired entry and reports how many were removed.
func (s *Store) Sweep() (int, error) {
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		removed, err = sweep(tx, s.now())
		return err
	})
	return removed, err
}

// Clear drops every entry.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketExpiry} {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
		}
		return createBuckets(tx)
	})
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	var n int
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketEntries).Stats().KeyN
		return nil
	})
	return n
}

// GetJSON decodes a cached JSON value into T.
func GetJSON[T any](s *Store, key string) (T, bool, error) {
	var out T
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode cached %q: %w", key, err)
	}
	return out, true, nil
}

// SetJSON encodes value as JSON and caches it.
func SetJSON[T any](s *Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q for cache: %w", key, err)
	}
	return s.Set(key, raw)
}

func createBuckets(tx *bolt.Tx) error {
	for _, name := range [][]byte{bucketEntries, bucketExpiry} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

func expiryKey(deathAt int64, key string) []byte {
	out := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(out[:8], uint64(deathAt))
	copy(out[8:], key)
	return out
}

func sweep(tx *bolt.Tx, now time.Time) (int, error) {
	expiry := tx.Bucket(bucketExpiry)
	entries := tx.Bucket(bucketEntries)
	limit := now.UnixNano()

	var expired [][]byte
	c := expiry.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		if len(k) < 8 || int64(binary.BigEndian.Uint64(k[:8])) > limit {
			break
		}
		expired = append(expired, bytes.Clone(k))
	}
	for _, k := range expired {
		if err := expiry.Delete(k); err != nil {
			return 0, err
		}
		if err := entries.Delete(k[8:]); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}
