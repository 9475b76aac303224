// Package storage provides the durable key/value collaborator used by the
// cache and the pending action queue.
package storage

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
)

// Store is the minimal durable key/value capability set.
type Store interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// RemoveMany deletes every key in keys.
	RemoveMany(ctx context.Context, keys []string) error

	// ListKeys returns all keys in ascending order.
	ListKeys(ctx context.Context) ([]string, error)
}

// UpdateFunc computes the next value of a key from its current value.
// Returning keep=false deletes the key. A non-nil error aborts the update
// and leaves the stored value untouched.
type UpdateFunc func(current string, ok bool) (next string, keep bool, err error)

// Updater is implemented by stores that can apply an UpdateFunc atomically.
type Updater interface {
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// Sizer is implemented by stores that can report the bytes held under a
// set of keys.
type Sizer interface {
	Size(ctx context.Context, keys []string) (int64, error)
}

// Update applies fn to key. Stores implementing Updater apply it
// atomically; for others the caller must serialize access itself.
func Update(ctx context.Context, s Store, key string, fn UpdateFunc) error {
	if u, ok := s.(Updater); ok {
		return u.Update(ctx, key, fn)
	}

	current, ok, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	next, keep, err := fn(current, ok)
	if err != nil {
		return err
	}
	if !keep {
		return s.Remove(ctx, key)
	}
	return s.Set(ctx, key, next)
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverFile   = "file"
)

// Open creates a store for the named driver. path is the data directory
// for the sqlite and file drivers and is ignored for memory.
func Open(driver, path string) (Store, error) {
	switch strings.ToLower(driver) {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(path)
	case DriverFile:
		return OpenFile(path)
	default:
		return nil, apperrors.Newf(apperrors.ErrConfig, "unknown storage driver %q", driver)
	}
}

// Close releases the store if it holds resources.
func Close(s Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func storageErr(op, key string, err error) error {
	return apperrors.Wrap(apperrors.ErrStorage, fmt.Sprintf("%s %q", op, key), err)
}
