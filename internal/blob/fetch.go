package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxFetchBytes = 100 << 20

// Fetcher resolves an artifact reference URL to its bytes. s3:// and
// minio:// URLs and virtual-hosted S3 https URLs are read through the blob
// store; other http(s) URLs are downloaded directly.
type Fetcher struct {
	store  Store
	client *http.Client
	limit  int64
}

func NewFetcher(store Store) *Fetcher {
	return &Fetcher{
		store:  store,
		client: &http.Client{Timeout: 2 * time.Minute},
		limit:  maxFetchBytes,
	}
}

// Fetch returns the content behind rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if bucket, key, ok := bucketKey(u); ok && f.store != nil {
		return f.store.Get(ctx, bucket, key)
	}
	switch u.Scheme {
	case "http", "https":
		return f.download(ctx, u.String())
	}
	return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
}

func (f *Fetcher) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: status %d", target, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if int64(len(data)) > f.limit {
		return nil, fmt.Errorf("download %s: larger than %d bytes", target, f.limit)
	}
	return data, nil
}

// bucketKey extracts bucket and key from s3://bucket/key, minio://bucket/key
// and https://bucket.s3.<region>.amazonaws.com/key URLs.
func bucketKey(u *url.URL) (string, string, bool) {
	key := strings.TrimPrefix(u.Path, "/")
	switch u.Scheme {
	case "s3", "minio":
		if u.Host == "" || key == "" {
			return "", "", false
		}
		return u.Host, key, true
	case "https":
		parts := strings.Split(u.Host, ".")
		if len(parts) >= 3 && parts[1] == "s3" && strings.HasSuffix(u.Host, ".amazonaws.com") && key != "" {
			return parts[0], key, true
		}
	}
	return "", "", false
}
