package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pavelanni/acegrader/internal/blob"
	"github.com/pavelanni/acegrader/internal/model"
)

// ErrNoInstitution is returned when no stored config exists for an institution.
var ErrNoInstitution = errors.New("institution config not found")

type cacheEntry struct {
	cfg     model.InstitutionConfig
	found   bool
	expires time.Time
}

// Loader reads institution configs from blob storage and caches them,
// including misses, for a fixed TTL.
type Loader struct {
	store  blob.Store
	bucket string
	ttl    time.Duration
	cache  *xsync.MapOf[string, cacheEntry]
	now    func() time.Time
}

func NewLoader(store blob.Store, bucket string, ttl time.Duration) *Loader {
	return &Loader{
		store:  store,
		bucket: bucket,
		ttl:    ttl,
		cache:  xsync.NewMapOf[string, cacheEntry](),
		now:    time.Now,
	}
}

// Institution returns the stored config for id, or ErrNoInstitution.
func (l *Loader) Institution(ctx context.Context, id string) (model.InstitutionConfig, error) {
	if id == "" {
		return model.InstitutionConfig{}, ErrNoInstitution
	}
	return l.load(ctx, blob.InstitutionConfigKey(id))
}

// DefaultInstitution returns the stored global default, or ErrNoInstitution.
func (l *Loader) DefaultInstitution(ctx context.Context) (model.InstitutionConfig, error) {
	return l.load(ctx, blob.DefaultInstitutionKey)
}

func (l *Loader) load(ctx context.Context, key string) (model.InstitutionConfig, error) {
	if e, ok := l.cache.Load(key); ok && l.now().Before(e.expires) {
		if !e.found {
			return model.InstitutionConfig{}, ErrNoInstitution
		}
		return e.cfg, nil
	}

	data, err := l.store.Get(ctx, l.bucket, key)
	if errors.Is(err, blob.ErrNotFound) {
		l.cache.Store(key, cacheEntry{expires: l.now().Add(l.ttl)})
		return model.InstitutionConfig{}, ErrNoInstitution
	}
	if err != nil {
		return model.InstitutionConfig{}, fmt.Errorf("load %s: %w", key, err)
	}

	var cfg model.InstitutionConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return model.InstitutionConfig{}, fmt.Errorf("parse %s: %w", key, err)
	}
	l.cache.Store(key, cacheEntry{cfg: cfg, found: true, expires: l.now().Add(l.ttl)})
	slog.Debug("loaded institution config", "key", key, "institution", cfg.InstitutionID)
	return cfg, nil
}

// Save writes cfg to storage and drops any cached copy. The default
// institution id is written to the default key.
func (l *Loader) Save(ctx context.Context, cfg model.InstitutionConfig) error {
	key := blob.InstitutionConfigKey(cfg.InstitutionID)
	if cfg.InstitutionID == DefaultInstitutionID {
		key = blob.DefaultInstitutionKey
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode institution %s: %w", cfg.InstitutionID, err)
	}
	if err := l.store.Put(ctx, l.bucket, key, data); err != nil {
		return err
	}
	l.cache.Delete(key)
	return nil
}

// Invalidate drops the cached entry for an institution id, or every entry
// when id is empty.
func (l *Loader) Invalidate(id string) {
	if id == "" {
		l.cache.Clear()
		return
	}
	if id == DefaultInstitutionID {
		l.cache.Delete(blob.DefaultInstitutionKey)
		return
	}
	l.cache.Delete(blob.InstitutionConfigKey(id))
}
