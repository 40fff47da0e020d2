// Package cache defines the named-bucket response store used by the offline
// worker, along with an in-memory implementation.
package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotCacheable is returned when a non-GET request is stored.
	ErrNotCacheable = errors.New("cache: only GET requests can be stored")
	// ErrBucketNotFound is returned when operating on a deleted bucket.
	ErrBucketNotFound = errors.New("cache: bucket not found")
)

// Entry is a stored response
type Entry struct {
	URL      string      `json:"url"`
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Item pairs a key with the entry stored under it
type Item struct {
	Key   string
	Entry *Entry
}

// Bucket is a single named key-value store of request keys to responses.
type Bucket interface {
	Name() string
	// Match returns nil, nil when the key is not stored.
	Match(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry *Entry) error
	// PutAll stores every item or none of them.
	PutAll(ctx context.Context, items []Item) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// Storage is the namespace holding every bucket for one origin.
type Storage interface {
	// Open returns the named bucket, creating it if absent.
	Open(ctx context.Context, name string) (Bucket, error)
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists bucket names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Match looks the key up in every bucket, oldest first, and returns the
	// first hit. Returns nil, nil on a miss.
	Match(ctx context.Context, key string) (*Entry, error)
	Close() error
}

// Key builds the request identity used as the bucket key
func Key(method, url string) string {
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + url
}

// RequestKey returns the key for an outgoing request
func RequestKey(r *http.Request) string {
	return Key(r.Method, r.URL.String())
}

// CheckKey rejects keys that do not belong to a GET request.
func CheckKey(key string) error {
	if !strings.HasPrefix(key, http.MethodGet+" ") {
		return ErrNotCacheable
	}
	return nil
}

// Shareable reports whether resp may be stored in a cache that answers
// every visitor. Requests carrying credentials and responses that set
// cookies or are marked private or no-store stay with the one visitor.
func Shareable(req *http.Request, resp *http.Response) bool {
	if req.Header.Get("Cookie") != "" || req.Header.Get("Authorization") != "" {
		return false
	}
	if len(resp.Header.Values("Set-Cookie")) > 0 {
		return false
	}
	for _, v := range resp.Header.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			name, _, _ := strings.Cut(strings.TrimSpace(directive), "=")
			switch strings.ToLower(name) {
			case "private", "no-store":
				return false
			}
		}
	}
	return true
}

// NewEntry captures an already-buffered response body. Cookies are never
// stored.
func NewEntry(resp *http.Response, body []byte) *Entry {
	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	header := resp.Header.Clone()
	if header != nil {
		header.Del("Set-Cookie")
	}
	return &Entry{
		URL:      url,
		Status:   resp.StatusCode,
		Header:   header,
		Body:     append([]byte(nil), body...),
		StoredAt: time.Now(),
	}
}

// Response rebuilds an *http.Response from the entry. Each call returns an
// independent body reader.
func (e *Entry) Response(req *http.Request) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        strconv.Itoa(e.Status) + " " + http.StatusText(e.Status),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
