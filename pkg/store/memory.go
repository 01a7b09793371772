package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a Store that keeps objects in memory, useful for tests and dry runs.
type MemoryStore struct {
	objects      map[string][]byte
	contentTypes map[string]string
	sync.RWMutex
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		objects:      map[string][]byte{},
		contentTypes: map[string]string{},
	}
}

func (s *MemoryStore) Put(ctx context.Context, key string, content []byte, contentType string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	s.objects[key] = append([]byte(nil), content...)
	s.contentTypes[key] = contentType

	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}

	s.RLock()
	defer s.RUnlock()

	content, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}

	return append([]byte(nil), content...), nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.RLock()
	defer s.RUnlock()

	keys := []string{}
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) URI(key string) string {
	return fmt.Sprintf("mem://%s", key)
}

// ContentType returns the content type an object was stored with, or an empty string for
// missing or invalid keys.
func (s *MemoryStore) ContentType(key string) string {
	key, err := cleanKey(key)
	if err != nil {
		return ""
	}

	s.RLock()
	defer s.RUnlock()

	return s.contentTypes[key]
}
