package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"
)

const (
	fileExt      = ".json"
	lockFileName = ".lock"
)

// entryFile is the on-disk body of one key.
type entryFile struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// File is a Store keeping one JSON file per key inside a directory.
// File names are the xxhash64 of the key, so any key is a valid name.
// Writers take an exclusive flock on dir/.lock, which makes Update atomic
// across processes sharing the directory.
type File struct {
	dir  string
	mu   sync.RWMutex
	lock *flock.Flock
}

// OpenFile opens (creating if needed) a file store rooted at dir.
func OpenFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &File{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// Close releases the directory lock if held.
func (f *File) Close() error {
	return f.lock.Close()
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, strconv.FormatUint(xxhash.Sum64String(key), 16)+fileExt)
}

func (f *File) withLock(shared bool, fn func() error) error {
	if shared {
		f.mu.RLock()
		defer f.mu.RUnlock()
		if err := f.lock.RLock(); err != nil {
			return fmt.Errorf("failed to acquire shared lock: %w", err)
		}
	} else {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := f.lock.Lock(); err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
	}
	defer f.lock.Unlock()
	return fn()
}

// read loads the entry for key. A file holding a different key (hash
// collision) is treated as absent.
func (f *File) read(key string) (string, bool, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var entry entryFile
	if err := json.Unmarshal(data, &entry); err != nil {
		return "", false, fmt.Errorf("corrupt entry file: %w", err)
	}
	if entry.Key != key {
		return "", false, nil
	}
	return entry.Value, true, nil
}

// write stores value under key. It refuses to replace a file that
// holds a different key; an unreadable file is overwritten.
func (f *File) write(key, value string) error {
	if other, ok := f.occupant(key); ok && other != key {
		return fmt.Errorf("key %q collides with stored key %q", key, other)
	}
	data, err := json.Marshal(entryFile{Key: key, Value: value})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

// occupant returns the key stored in key's file, if the file exists
// and decodes.
func (f *File) occupant(key string) (string, bool) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		return "", false
	}
	var entry entryFile
	if json.Unmarshal(data, &entry) != nil {
		return "", false
	}
	return entry.Key, true
}

func (f *File) remove(key string) error {
	if _, ok, err := f.read(key); err != nil || !ok {
		// never delete a colliding key's file
		return err
	}
	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		ok    bool
	)
	err := f.withLock(true, func() error {
		var err error
		value, ok, err = f.read(key)
		return err
	})
	if err != nil {
		return "", false, storageErr("get", key, err)
	}
	return value, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	if err := f.withLock(false, func() error { return f.write(key, value) }); err != nil {
		return storageErr("set", key, err)
	}
	return nil
}

func (f *File) Remove(_ context.Context, key string) error {
	if err := f.withLock(false, func() error { return f.remove(key) }); err != nil {
		return storageErr("remove", key, err)
	}
	return nil
}

func (f *File) RemoveMany(_ context.Context, keys []string) error {
	err := f.withLock(false, func() error {
		for _, key := range keys {
			if err := f.remove(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("remove", strings.Join(keys, ","), err)
	}
	return nil
}

func (f *File) ListKeys(_ context.Context) ([]string, error) {
	var keys []string
	err := f.withLock(true, func() error {
		entries, err := os.ReadDir(f.dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
			if err != nil {
				return err
			}
			var entry entryFile
			if err := json.Unmarshal(data, &entry); err != nil {
				// skip foreign or half-written files
				continue
			}
			keys = append(keys, entry.Key)
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("list", "*", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Update holds the exclusive lock across the read, fn and the write.
func (f *File) Update(_ context.Context, key string, fn UpdateFunc) error {
	var fnErr error
	err := f.withLock(false, func() error {
		current, ok, err := f.read(key)
		if err != nil {
			return err
		}
		next, keep, err := fn(current, ok)
		if err != nil {
			fnErr = err
			return nil
		}
		if !keep {
			return f.remove(key)
		}
		return f.write(key, next)
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return storageErr("update", key, err)
	}
	return nil
}

// Size returns the total length of the values stored under keys.
func (f *File) Size(_ context.Context, keys []string) (int64, error) {
	var total int64
	err := f.withLock(true, func() error {
		for _, key := range keys {
			value, ok, err := f.read(key)
			if err != nil {
				return err
			}
			if ok {
				total += int64(len(value))
			}
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("size", "*", err)
	}
	return total, nil
}
