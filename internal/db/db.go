package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/swelljoe/wthr-offline/internal/cache"
)

// DB wraps a sqlite connection holding every cache bucket for one origin
type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite cache database at path
func NewDB(path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and serialises writers
	db.SetMaxOpenConns(1)

	// Verify connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS buckets (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS entries (
			bucket_id INTEGER NOT NULL,
			key       TEXT NOT NULL,
			url       TEXT NOT NULL,
			status    INTEGER NOT NULL,
			header    TEXT NOT NULL,
			body      BLOB,
			stored_at INTEGER NOT NULL,
			PRIMARY KEY (bucket_id, key)
		);
		CREATE INDEX IF NOT EXISTS idx_entries_key ON entries(key);
	`)
	return err
}

// Open returns the named bucket, creating it if absent
func (d *DB) Open(ctx context.Context, name string) (cache.Bucket, error) {
	_, err := d.ExecContext(ctx,
		"INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)",
		name, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", name, err)
	}
	return &bucket{db: d, name: name}, nil
}

// Delete removes a bucket and every entry in it
func (d *DB) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM buckets WHERE name = ?", name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up bucket %q: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM entries WHERE bucket_id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete entries of %q: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM buckets WHERE id = ?", id); err != nil {
		return false, fmt.Errorf("failed to delete bucket %q: %w", name, err)
	}
	return true, tx.Commit()
}

// Keys lists bucket names in creation order
func (d *DB) Keys(ctx context.Context) ([]string, error) {
	rows, err := d.QueryContext(ctx, "SELECT name FROM buckets ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Match finds key in any bucket, oldest bucket first
func (d *DB) Match(ctx context.Context, key string) (*cache.Entry, error) {
	row := d.QueryRowContext(ctx, `
		SELECT e.url, e.status, e.header, e.body, e.stored_at
		FROM entries e JOIN buckets b ON b.id = e.bucket_id
		WHERE e.key = ?
		ORDER BY b.id
		LIMIT 1`, key)
	return scanEntry(row)
}

func scanEntry(row *sql.Row) (*cache.Entry, error) {
	var (
		e        cache.Entry
		header   string
		storedAt int64
	)
	err := row.Scan(&e.URL, &e.Status, &header, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.Header = make(http.Header)
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("failed to decode stored headers: %w", err)
	}
	e.StoredAt = time.Unix(0, storedAt).UTC()
	return &e, nil
}

type bucket struct {
	db   *DB
	name string
}

func (b *bucket) Name() string { return b.name }

func (b *bucket) Match(ctx context.Context, key string) (*cache.Entry, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT e.url, e.status, e.header, e.body, e.stored_at
		FROM entries e JOIN buckets b ON b.id = e.bucket_id
		WHERE b.name = ? AND e.key = ?`, b.name, key)
	return scanEntry(row)
}

func (b *bucket) Put(ctx context.Context, key string, entry *cache.Entry) error {
	return b.PutAll(ctx, []cache.Item{{Key: key, Entry: entry}})
}

// PutAll writes every item in a single transaction
func (b *bucket) PutAll(ctx context.Context, items []cache.Item) error {
	for _, it := range items {
		if err := cache.CheckKey(it.Key); err != nil {
			return err
		}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM buckets WHERE name = ?", b.name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.ErrBucketNotFound
	}
	if err != nil {
		return err
	}

	for _, it := range items {
		header, err := json.Marshal(it.Entry.Header)
		if err != nil {
			return fmt.Errorf("failed to encode headers for %s: %w", it.Key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO entries (bucket_id, key, url, status, header, body, stored_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, it.Key, it.Entry.URL, it.Entry.Status, string(header), it.Entry.Body, it.Entry.StoredAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to store %s: %w", it.Key, err)
		}
	}
	return tx.Commit()
}

func (b *bucket) Delete(ctx context.Context, key string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `
		DELETE FROM entries
		WHERE key = ? AND bucket_id = (SELECT id FROM buckets WHERE name = ?)`, key, b.name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *bucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT e.key FROM entries e JOIN buckets b ON b.id = e.bucket_id
		WHERE b.name = ?`, b.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
