// Package storetest holds a conformance suite shared by every cache.Storage
// implementation.
package storetest

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swelljoe/wthr-offline/internal/cache"
)

// StorageFactory creates a fresh, empty Storage for each test.
type StorageFactory func(t *testing.T) cache.Storage

// RunConformanceSuite runs every storage test against the factory.
func RunConformanceSuite(t *testing.T, factory StorageFactory) {
	t.Helper()

	t.Run("OpenCreatesBucket", func(t *testing.T) { testOpenCreatesBucket(t, factory) })
	t.Run("PutMatchRoundTrip", func(t *testing.T) { testPutMatchRoundTrip(t, factory) })
	t.Run("PutRejectsNonGET", func(t *testing.T) { testPutRejectsNonGET(t, factory) })
	t.Run("PutAllIsAtomic", func(t *testing.T) { testPutAllIsAtomic(t, factory) })
	t.Run("MatchAcrossBuckets", func(t *testing.T) { testMatchAcrossBuckets(t, factory) })
	t.Run("DeleteBucket", func(t *testing.T) { testDeleteBucket(t, factory) })
	t.Run("DeleteEntry", func(t *testing.T) { testDeleteEntry(t, factory) })
}

func entry(url, body string) *cache.Entry {
	return &cache.Entry{
		URL:      url,
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/plain"}},
		Body:     []byte(body),
		StoredAt: time.Unix(1700000000, 0).UTC(),
	}
}

func testOpenCreatesBucket(t *testing.T, factory StorageFactory) {
	s := factory(t)
	ctx := t.Context()

	_, err := s.Open(ctx, "weather-tracker-v0")
	require.NoError(t, err)
	_, err = s.Open(ctx, "weather-tracker-v1")
	require.NoError(t, err)
	// Reopening must not create a duplicate
	_, err = s.Open(ctx, "weather-tracker-v0")
	require.NoError(t, err)

	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"weather-tracker-v0", "weather-tracker-v1"}, names)
}

func testPutMatchRoundTrip(t *testing.T, factory StorageFactory) {
	s := factory(t)
	ctx := t.Context()

	b, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", b.Name())

	key := cache.Key(http.MethodGet, "http://example.test/css/main.css")
	want := entry("http://example.test/css/main.css", "body { color: red }")
	require.NoError(t, b.Put(ctx, key, want))

	got, err := b.Match(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Body, got.Body)
	assert.Equal(t, want.URL, got.URL)
	assert.Equal(t, "text/plain", got.Header.Get("Content-Type"))
	assert.True(t, want.StoredAt.Equal(got.StoredAt))

	missing, err := b.Match(ctx, cache.Key(http.MethodGet, "http://example.test/nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	keys, err := b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func testPutRejectsNonGET(t *testing.T, factory StorageFactory) {
	s := factory(t)
	ctx := t.Context()

	b, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	err = b.Put(ctx, cache.Key(http.MethodPost, "http://example.test/api"), entry("", "x"))
	assert.ErrorIs(t, err, cache.ErrNotCacheable)
}

func testPutAllIsAtomic(t *testing.T, factory StorageFactory) {
	s := factory(t)
	ctx := t.Context()

	b, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	good := cache.Key(http.MethodGet, "http://example.test/")
	bad := cache.Key(http.MethodPut, "http://example.test/")
	err = b.PutAll(ctx, []cache.Item{
		{Key: good, Entry: entry("http://example.test/", "root")},
		{Key: bad, Entry: entry("http://example.test/", "root")},
	})
	require.Error(t, err)

	got, err := b.Match(ctx, good)
	require.NoError(t, err)
	assert.Nil(t, got, "partial PutAll must not leave entries behind")
}

func testMatchAcrossBuckets(t *testing.T, factory StorageFactory) {
	s := factory(t)
	ctx := t.Context()

	old, err := s.Open(ctx, "v0")
	require.NoError(t, err)
	live, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	oldOnly := cache.Key(http.MethodGet, "http://example.test/old.js")
	shared := cache.Key(http.MethodGet, "http://example.test/")
	require.NoError(t, old.Put(ctx, oldOnly, entry("", "old")))
	require.NoError(t, old.Put(ctx, shared, entry("", "from-v0")))
	require.NoError(t, live.Put(ctx, shared, entry("", "from-v1")))

	got, err := s.Match(ctx, oldOnly)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "old", string(got.Body))

	// Oldest bucket wins
	got, err = s.Match(ctx, shared)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "from-v0", string(got.Body))

	got, err = s.Match(ctx, cache.Key(http.MethodGet, "http://example.test/missing"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testDeleteBucket(t *testing.T, factory StorageFactory) {
	s := factory(t)
	ctx := t.Context()

	b, err := s.Open(ctx, "v0")
	require.NoError(t, err)
	key := cache.Key(http.MethodGet, "http://example.test/")
	require.NoError(t, b.Put(ctx, key, entry("", "root")))

	deleted, err := s.Delete(ctx, "v0")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "v0")
	require.NoError(t, err)
	assert.False(t, deleted)

	names, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	got, err := s.Match(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Recreating the name yields an empty bucket
	b, err = s.Open(ctx, "v0")
	require.NoError(t, err)
	got, err = b.Match(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testDeleteEntry(t *testing.T, factory StorageFactory) {
	s := factory(t)
	ctx := t.Context()

	b, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	key := cache.Key(http.MethodGet, "http://example.test/js/main.js")
	require.NoError(t, b.Put(ctx, key, entry("", "js")))

	ok, err := b.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
