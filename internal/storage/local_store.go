package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore persists objects on disk to mimic S3 behaviour for tests and
// local development. The bucket is a directory under root.
type LocalStore struct {
	root   string
	bucket string
}

// NewLocalStore creates a filesystem object store rooted at dir.
func NewLocalStore(root, bucket string) *LocalStore {
	if root == "" {
		root = filepath.Join(os.TempDir(), "seismic-store")
	}
	if bucket == "" {
		bucket = "seismic"
	}
	_ = os.MkdirAll(root, 0o755)
	return &LocalStore{root: root, bucket: bucket}
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := filepath.WalkDir(s.bucketPath(), func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.bucketPath(), path)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, wrapError(CodeWriteFailed, true, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStore) Load(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapError(CodeObjectNotFound, false, err)
		}
		return nil, wrapError(CodeWriteFailed, true, err)
	}
	return data, nil
}

func (s *LocalStore) Save(ctx context.Context, data []byte, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := s.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

func (s *LocalStore) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.keyPath(key)); err != nil && !os.IsNotExist(err) {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

func (s *LocalStore) BucketExists(ctx context.Context, create bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(s.bucketPath())
	if err == nil {
		return info.IsDir(), nil
	}
	if !os.IsNotExist(err) {
		return false, wrapError(CodeWriteFailed, true, err)
	}
	if !create {
		return false, nil
	}
	if err := os.MkdirAll(s.bucketPath(), 0o755); err != nil {
		return false, wrapError(CodePermissionDenied, false, err)
	}
	return true, nil
}

func (s *LocalStore) bucketPath() string {
	return filepath.Join(s.root, sanitizePath(s.bucket))
}

func (s *LocalStore) keyPath(key string) string {
	return filepath.Join(s.bucketPath(), filepath.FromSlash(key))
}

func sanitizePath(raw string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return replacer.Replace(raw)
}
