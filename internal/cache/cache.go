// Package cache provides a TTL-aware typed cache on top of a durable store.
//
// Reads never fail the caller: a missing, expired or unreadable entry is
// a miss. Expired entries are deleted when read; there is no sweeper.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
	"github.com/kimhsiao/offlinesync/internal/logging"
	"github.com/kimhsiao/offlinesync/internal/storage"
	"github.com/kimhsiao/offlinesync/internal/telemetry"
)

// DefaultNamespace prefixes every key written by the engine.
const DefaultNamespace = "@offline:"

const component = "cache"

// record is the persisted form of one entry.
type record struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ExpiresIn *int64          `json:"expiresIn,omitempty"`
}

func (r *record) storedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// expired reports whether the entry's ttl has elapsed at now.
// A zero or absent ttl never expires.
func (r *record) expired(now time.Time) bool {
	if r.ExpiresIn == nil || *r.ExpiresIn <= 0 {
		return false
	}
	return now.Sub(r.storedAt()) > time.Duration(*r.ExpiresIn)*time.Millisecond
}

// Stats summarises the keys owned by a cache.
type Stats struct {
	Count int
	// TotalSize is the byte size of the stored values, or 0 when the
	// store cannot report sizes.
	TotalSize int64
}

// Cache is a namespaced, TTL-aware cache.
type Cache struct {
	store     storage.Store
	namespace string
	now       func() time.Time
	metrics   *telemetry.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithNamespace sets the key prefix.
func WithNamespace(ns string) Option {
	return func(c *Cache) {
		c.namespace = ns
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithMetrics records recovered failures.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates a cache over store.
func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{
		store:     store,
		namespace: DefaultNamespace,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Namespace returns the key prefix.
func (c *Cache) Namespace() string {
	return c.namespace
}

// Key returns the storage key for a cache key.
func (c *Cache) Key(key string) string {
	return c.namespace + key
}

func (c *Cache) recover(op, key string, err error) {
	code := apperrors.CodeOf(err)
	c.metrics.RecordStorageError(component, string(code))
	logging.ErrorWithCode("Cache "+op+" failed", string(code), err, map[string]interface{}{"key": key})
}

// Save stores payload under key, replacing any previous entry. A ttl of
// zero or less stores an entry that never expires. Failures are logged.
func (c *Cache) Save(ctx context.Context, key string, payload any, ttl time.Duration) {
	if err := c.save(ctx, key, payload, ttl); err != nil {
		c.recover("save", key, err)
	}
}

func (c *Cache) save(ctx context.Context, key string, payload any, ttl time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrEncode, "failed to marshal payload", err)
	}
	rec := record{Data: data, Timestamp: c.now().UnixMilli()}
	if ttl > 0 {
		// round up: a sub-millisecond ttl must not become "no expiry"
		ms := (ttl + time.Millisecond - 1).Milliseconds()
		rec.ExpiresIn = &ms
	}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrEncode, "failed to marshal record", err)
	}
	return c.store.Set(ctx, c.Key(key), string(encoded))
}

// Load decodes the entry under key into dst. It reports false on a miss,
// on expiry and when the entry cannot be read or decoded.
func (c *Cache) Load(ctx context.Context, key string, dst any) bool {
	rec, err := c.lookup(ctx, key)
	if err == nil {
		err = decode(rec.Data, dst)
	}
	switch {
	case err == nil:
		return true
	case apperrors.Is(err, apperrors.ErrNotFound), apperrors.Is(err, apperrors.ErrExpired):
		return false
	default:
		c.recover("load", key, err)
		return false
	}
}

func decode(data json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return apperrors.Wrap(apperrors.ErrDecode, "failed to unmarshal payload", err)
	}
	return nil
}

// Get is the typed form of Load.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	if !c.Load(ctx, key, &v) {
		var zero T
		return zero, false
	}
	return v, true
}

// lookup reads the record under key, deleting it when expired. The error
// code tells the miss kinds apart: NOT_FOUND, EXPIRED, DECODE_ERROR or
// STORAGE_ERROR.
func (c *Cache) lookup(ctx context.Context, key string) (*record, error) {
	rec, err := c.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if rec.expired(c.now()) {
		if err := c.store.Remove(ctx, c.Key(key)); err != nil {
			c.recover("evict", key, err)
		}
		return nil, apperrors.Newf(apperrors.ErrExpired, "entry %q expired", key)
	}
	return rec, nil
}

// read reads the record under key without expiry handling.
func (c *Cache) read(ctx context.Context, key string) (*record, error) {
	raw, ok, err := c.store.Get(ctx, c.Key(key))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "failed to read entry", err)
	}
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "entry %q not found", key)
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDecode, "failed to unmarshal record", err)
	}
	return &rec, nil
}

// Clear removes key.
func (c *Cache) Clear(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, c.Key(key)); err != nil {
		c.recover("clear", key, err)
	}
}

// ClearAll removes every key in keys.
func (c *Cache) ClearAll(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.Key(k)
	}
	if err := c.store.RemoveMany(ctx, full); err != nil {
		c.recover("clear", strings.Join(keys, ","), err)
	}
}

// Purge removes every key under the namespace, including keys written by
// the pending action queue when it shares the namespace.
func (c *Cache) Purge(ctx context.Context) {
	keys, err := c.ownKeys(ctx)
	if err != nil {
		c.recover("purge", "*", err)
		return
	}
	if err := c.store.RemoveMany(ctx, keys); err != nil {
		c.recover("purge", "*", err)
	}
}

// IsStale reports whether the entry under key is older than threshold.
// Absent and unreadable entries are stale.
func (c *Cache) IsStale(ctx context.Context, key string, threshold time.Duration) bool {
	rec, err := c.read(ctx, key)
	if err != nil {
		return true
	}
	return c.now().Sub(rec.storedAt()) > threshold
}

// StoredAt returns when the entry under key was written.
func (c *Cache) StoredAt(ctx context.Context, key string) (time.Time, bool) {
	rec, err := c.lookup(ctx, key)
	if err != nil {
		return time.Time{}, false
	}
	return rec.storedAt(), true
}

func (c *Cache) ownKeys(ctx context.Context) ([]string, error) {
	all, err := c.store.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	own := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, c.namespace) {
			own = append(own, k)
		}
	}
	return own, nil
}

// Stats counts the keys under the namespace.
func (c *Cache) Stats(ctx context.Context) Stats {
	keys, err := c.ownKeys(ctx)
	if err != nil {
		c.recover("stats", "*", err)
		return Stats{}
	}
	stats := Stats{Count: len(keys)}
	if sizer, ok := c.store.(storage.Sizer); ok {
		size, err := sizer.Size(ctx, keys)
		if err != nil {
			c.recover("stats", "*", err)
		} else {
			stats.TotalSize = size
		}
	}
	return stats
}
