package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Object is a stored upload.
type Object struct {
	ContentType string
	Data        []byte
}

// MemoryStorage keeps uploads in process memory. It backs local development when no bucket is
// configured and the tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]Object
	baseURL string
}

// NewMemoryStorage returns an empty store whose URLs are rooted at baseURL.
func NewMemoryStorage(baseURL string) *MemoryStorage {
	if baseURL == "" {
		baseURL = "memory://media"
	}
	return &MemoryStorage{
		objects: make(map[string]Object),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Save reads r fully and stores it under key.
func (s *MemoryStorage) Save(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", fmt.Errorf("memory storage: empty key")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("memory storage read %s: %w", key, err)
	}

	s.mu.Lock()
	s.objects[key] = Object{ContentType: contentType, Data: data}
	s.mu.Unlock()

	return fmt.Sprintf("%s/%s", s.baseURL, key), nil
}

// Get returns the object stored under key.
func (s *MemoryStorage) Get(key string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[strings.TrimLeft(key, "/")]
	return obj, ok
}

// Len reports how many objects are stored.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
