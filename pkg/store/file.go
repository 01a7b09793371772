package store

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// FileStore writes objects beneath a root directory. Writes go to a temporary file that
// is renamed into place, so readers never observe a partially written object.
type FileStore struct {
	root string
}

func NewFile(root string) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("file store requires a root directory")
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create store root")
	}

	return &FileStore{root: root}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, content []byte, contentType string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}

	tmp, err := ioutil.TempFile(filepath.Dir(path), ".tmp-")
	if err != nil {
		return errors.Wrap(err, "failed to create temporary file")
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write object")
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close object")
	}

	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return errors.Wrap(err, "failed to set object permissions")
	}

	return errors.Wrap(os.Rename(tmp.Name(), path), "failed to move object into place")
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	content, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}

	return content, err
}

func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}

		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})

	sort.Strings(keys)
	return keys, err
}

func (s *FileStore) URI(key string) string {
	return fmt.Sprintf("file://%s", filepath.Join(s.root, filepath.FromSlash(key)))
}

func (s *FileStore) path(key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
