package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const zstdExt = ".zst"

// zstdStore compresses objects whose key ends in .zst on Put and
// decompresses them on Get. Other keys pass through unchanged.
type zstdStore struct {
	Store
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// WithZstd wraps s with transparent zstd handling for .zst keys.
func WithZstd(s Store) (Store, error) {
	if _, ok := s.(*zstdStore); ok {
		return s, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &zstdStore{Store: s, enc: enc, dec: dec}, nil
}

func (z *zstdStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := z.Store.Get(ctx, bucket, key)
	if err != nil || !strings.HasSuffix(key, zstdExt) {
		return data, err
	}
	out, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode %s/%s: %w", bucket, key, err)
	}
	return out, nil
}

func (z *zstdStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	if strings.HasSuffix(key, zstdExt) {
		data = z.enc.EncodeAll(data, nil)
	}
	return z.Store.Put(ctx, bucket, key, data)
}

func contentType(key string) string {
	switch path.Ext(key) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".txt":
		return "text/plain; charset=utf-8"
	case zstdExt:
		return "application/zstd"
	}
	return "application/octet-stream"
}
