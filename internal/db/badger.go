package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/swelljoe/wthr-offline/internal/cache"
)

// Key layout:
//
//	b:<bucket>             -> bucketMeta JSON
//	e:<bucket>\x00<key>    -> cache.Entry JSON
const (
	prefixBucket = "b:"
	prefixEntry  = "e:"
)

type bucketMeta struct {
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// Badger is a cache.Storage backed by a badger key-value store
type Badger struct {
	db *badgerdb.DB
}

// NewBadger opens a badger store at dir. An empty dir opens an in-memory store.
func NewBadger(dir string) (*Badger, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &Badger{db: db}, nil
}

func bucketKey(name string) []byte {
	return []byte(prefixBucket + name)
}

func entryPrefix(name string) []byte {
	return []byte(prefixEntry + name + "\x00")
}

func entryKey(name, key string) []byte {
	return append(entryPrefix(name), key...)
}

// Open returns the named bucket, creating it if absent
func (s *Badger) Open(ctx context.Context, name string) (cache.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(bucketKey(name))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}

		meta, err := json.Marshal(bucketMeta{Name: name, CreatedAt: time.Now().UnixNano()})
		if err != nil {
			return err
		}
		return txn.Set(bucketKey(name), meta)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", name, err)
	}
	return &badgerBucket{store: s, name: name}, nil
}

// Delete removes a bucket and every entry in it
func (s *Badger) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(bucketKey(name)); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true

		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = entryPrefix(name)
		opts.PrefetchValues = false

		var keys [][]byte
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(bucketKey(name))
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete bucket %q: %w", name, err)
	}
	return found, nil
}

// Keys lists bucket names in creation order
func (s *Badger) Keys(ctx context.Context) ([]string, error) {
	metas, err := s.buckets(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(metas))
	for _, m := range metas {
		names = append(names, m.Name)
	}
	return names, nil
}

func (s *Badger) buckets(ctx context.Context) ([]bucketMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var metas []bucketMeta
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixBucket)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var m bucketMeta
				if err := json.Unmarshal(val, &m); err != nil {
					return err
				}
				metas = append(metas, m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(metas, func(i, j int) bool { return metas[i].CreatedAt < metas[j].CreatedAt })
	return metas, nil
}

// Match finds key in any bucket, oldest bucket first
func (s *Badger) Match(ctx context.Context, key string) (*cache.Entry, error) {
	metas, err := s.buckets(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		e, err := s.get(m.Name, key)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return e, nil
		}
	}
	return nil, nil
}

func (s *Badger) get(bucket, key string) (*cache.Entry, error) {
	var e *cache.Entry
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(entryKey(bucket, key))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			e = &cache.Entry{}
			return json.Unmarshal(val, e)
		})
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Ping reports whether the store is still open
func (s *Badger) Ping() error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

// Close releases the underlying store
func (s *Badger) Close() error {
	return s.db.Close()
}

type badgerBucket struct {
	store *Badger
	name  string
}

func (b *badgerBucket) Name() string { return b.name }

func (b *badgerBucket) Match(ctx context.Context, key string) (*cache.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.store.get(b.name, key)
}

func (b *badgerBucket) Put(ctx context.Context, key string, entry *cache.Entry) error {
	return b.PutAll(ctx, []cache.Item{{Key: key, Entry: entry}})
}

// PutAll writes every item in a single transaction
func (b *badgerBucket) PutAll(ctx context.Context, items []cache.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, it := range items {
		if err := cache.CheckKey(it.Key); err != nil {
			return err
		}
	}

	return b.store.db.Update(func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(bucketKey(b.name)); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return cache.ErrBucketNotFound
			}
			return err
		}

		for _, it := range items {
			data, err := json.Marshal(it.Entry)
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", it.Key, err)
			}
			if err := txn.Set(entryKey(b.name, it.Key), data); err != nil {
				return fmt.Errorf("failed to store %s: %w", it.Key, err)
			}
		}
		return nil
	})
}

func (b *badgerBucket) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	found := false
	err := b.store.db.Update(func(txn *badgerdb.Txn) error {
		k := entryKey(b.name, key)
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return txn.Delete(k)
	})
	return found, err
}

func (b *badgerBucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := entryPrefix(b.name)
	keys := make([]string, 0)
	err := b.store.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, string(bytes.TrimPrefix(k, prefix)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
