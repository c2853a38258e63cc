package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore stores blobs as files under a base directory.
type DiskStore struct {
	basePath string
}

func NewDiskStore(basePath string) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &DiskStore{basePath: filepath.Clean(basePath)}, nil
}

// absPath resolves a key below basePath. A key whose cleaned form lands on or
// outside the base directory is rejected; keys come from request data.
func (s *DiskStore) absPath(key string) (string, error) {
	abs := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(abs, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return abs, nil
}

func (s *DiskStore) Write(_ context.Context, key string, data []byte) error {
	absPath, err := s.absPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return err
	}

	// Write to a sibling temp file first so a crashed write never leaves a
	// half-written blob under the real key.
	tmp := absPath + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, absPath)
}

func (s *DiskStore) Read(_ context.Context, key string) ([]byte, error) {
	absPath, err := s.absPath(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *DiskStore) Delete(_ context.Context, key string) error {
	absPath, err := s.absPath(key)
	if err != nil {
		return err
	}
	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *DiskStore) DeletePrefix(_ context.Context, prefix string) error {
	absPath, err := s.absPath(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(absPath)
}

func (s *DiskStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	root, err := s.absPath(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, ".part") {
			return nil
		}
		rel, relErr := filepath.Rel(s.basePath, path)
		if relErr != nil {
			return relErr
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
