package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// Fetcher performs a single network request
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
	// Basic reports whether resp was served by the fetcher's own origin
	Basic(resp *http.Response) bool
}

// AddAll fetches every URL and stores the responses in b. Nothing is written
// unless every fetch succeeds with a 2xx status from the fetcher's origin.
func AddAll(ctx context.Context, b Bucket, f Fetcher, urls []string) error {
	items := make([]Item, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		g.Go(func() error {
			entry, err := fetchEntry(gctx, f, u)
			if err != nil {
				return err
			}
			items[i] = Item{Key: Key(http.MethodGet, u), Entry: entry}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := b.PutAll(ctx, items); err != nil {
		return fmt.Errorf("failed to store %d responses: %w", len(items), err)
	}
	return nil
}

func fetchEntry(ctx context.Context, f Fetcher, url string) (*Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}
	if !f.Basic(resp) {
		return nil, fmt.Errorf("failed to fetch %s: response is not from the origin", url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return NewEntry(resp, body), nil
}
