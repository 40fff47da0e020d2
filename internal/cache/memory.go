package cache

import (
	"context"
	"sort"
	"sync"
)

// Memory is a Storage kept entirely in process memory. Used by tests and by
// the memory cache driver.
type Memory struct {
	mu      sync.RWMutex
	order   []string
	buckets map[string]*memoryBucket
}

// NewMemory creates an empty in-memory storage
func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*memoryBucket)}
}

func (m *Memory) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets[name]; ok {
		return b, nil
	}
	b := &memoryBucket{name: name, entries: make(map[string]*Entry)}
	m.buckets[name] = b
	m.order = append(m.order, name)
	return b, nil
}

func (m *Memory) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[name]
	if !ok {
		return false, nil
	}
	b.mu.Lock()
	b.deleted = true
	b.mu.Unlock()

	delete(m.buckets, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *Memory) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *Memory) Match(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	buckets := make([]*memoryBucket, 0, len(m.order))
	for _, name := range m.order {
		buckets = append(buckets, m.buckets[name])
	}
	m.mu.RUnlock()

	for _, b := range buckets {
		e, err := b.Match(ctx, key)
		if err != nil {
			return nil, err
		}
		if e != nil {
			return e, nil
		}
	}
	return nil, nil
}

func (m *Memory) Close() error { return nil }

type memoryBucket struct {
	name    string
	mu      sync.RWMutex
	deleted bool
	entries map[string]*Entry
}

func (b *memoryBucket) Name() string { return b.name }

func (b *memoryBucket) Match(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (b *memoryBucket) Put(ctx context.Context, key string, entry *Entry) error {
	return b.PutAll(ctx, []Item{{Key: key, Entry: entry}})
}

func (b *memoryBucket) PutAll(ctx context.Context, items []Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, it := range items {
		if err := CheckKey(it.Key); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleted {
		return ErrBucketNotFound
	}
	for _, it := range items {
		cp := *it.Entry
		b.entries[it.Key] = &cp
	}
	return nil
}

func (b *memoryBucket) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[key]; !ok {
		return false, nil
	}
	delete(b.entries, key)
	return true, nil
}

func (b *memoryBucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
