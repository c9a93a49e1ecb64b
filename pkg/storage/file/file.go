// Package file provides a storage.KV backed by one file per key.
package file

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bft-labs/eventship/pkg/storage"
)

const fileSuffix = ".json"

// KV stores each key as a file inside dir. Keys are path-escaped so any
// string is a valid key.
type KV struct {
	dir string
}

// New creates a KV rooted at dir. The directory is created on first write.
func New(dir string) *KV {
	return &KV{dir: dir}
}

// Dir returns the directory holding the values.
func (k *KV) Dir() string {
	return k.dir
}

// Get reads the value for key. A missing file reads as storage.ErrNotFound.
func (k *KV) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(k.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Set writes value atomically: temp file, then rename over the target.
func (k *KV) Set(_ context.Context, key string, value []byte) error {
	if err := os.MkdirAll(k.dir, 0o700); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	path := k.path(key)
	tmp, err := os.CreateTemp(k.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

// Remove deletes the file for key.
func (k *KV) Remove(_ context.Context, key string) error {
	if err := os.Remove(k.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Keys lists stored keys with the given prefix. A missing directory is empty.
func (k *KV) Keys(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list storage dir: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (k *KV) path(key string) string {
	return filepath.Join(k.dir, url.PathEscape(key)+fileSuffix)
}

var _ storage.KV = (*KV)(nil)
