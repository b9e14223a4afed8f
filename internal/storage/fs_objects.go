package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/petrijr/orderflow/pkg/api"
)

const metadataDir = ".metadata"

// FSObjectStore is an ObjectStore on an afero filesystem. Objects live under
// <bucket>/<key>; metadata is a JSON sidecar under <bucket>/.metadata/.
type FSObjectStore struct {
	fs     afero.Fs
	bucket string
}

var _ ObjectStore = (*FSObjectStore)(nil)

// NewFSObjectStore creates a store rooted at bucket inside fsys.
func NewFSObjectStore(fsys afero.Fs, bucket string) (*FSObjectStore, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return nil, fmt.Errorf("%w: invalid bucket name %q", api.ErrInvalidInput, bucket)
	}
	if err := fsys.MkdirAll(bucket, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return &FSObjectStore{fs: fsys, bucket: bucket}, nil
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return false
	}
	if path.Clean(key) != key {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == metadataDir {
			return false
		}
	}
	return true
}

func (s *FSObjectStore) objectPath(key string) string {
	return filepath.Join(s.bucket, filepath.FromSlash(key))
}

func (s *FSObjectStore) metadataPath(key string) string {
	return filepath.Join(s.bucket, metadataDir, filepath.FromSlash(key)+".json")
}

func (s *FSObjectStore) PutObject(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	if !validKey(key) {
		return fmt.Errorf("%w: invalid object key %q", api.ErrInvalidInput, key)
	}

	p := s.objectPath(key)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, p, body, 0o644); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	mp := s.metadataPath(key)
	if err := s.fs.MkdirAll(filepath.Dir(mp), 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, mp, meta, 0o644); err != nil {
		return fmt.Errorf("write metadata %s: %w", key, err)
	}
	return nil
}

func (s *FSObjectStore) GetObject(ctx context.Context, key string) (Object, error) {
	if !validKey(key) {
		return Object{}, fmt.Errorf("%w: invalid object key %q", api.ErrInvalidInput, key)
	}

	body, err := afero.ReadFile(s.fs, s.objectPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, fmt.Errorf("object %s: %w", key, api.ErrNotFound)
		}
		return Object{}, err
	}

	obj := Object{Key: key, Body: body}
	meta, err := afero.ReadFile(s.fs, s.metadataPath(key))
	switch {
	case err == nil:
		if err := json.Unmarshal(meta, &obj.Metadata); err != nil {
			return Object{}, fmt.Errorf("decode metadata %s: %w", key, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return Object{}, err
	}
	return obj, nil
}
