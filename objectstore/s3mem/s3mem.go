// Package s3mem is an in-memory objectstore.Store used by tests, playing
// the same role the teacher's in-memory piece store plays for
// storagenode-dependent unit tests: a fast, dependency-free stand-in so
// test suites don't need a running object store.
package s3mem

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"storj.io/cratesregistry/objectstore"
)

// Store is a goroutine-safe, in-memory objectstore.Store.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: map[string][]byte{}}
}

// Put implements objectstore.Store.
func (s *Store) Put(ctx context.Context, path string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
	return nil
}

// Get implements objectstore.Store.
func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, objectstore.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// List implements objectstore.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []objectstore.ObjectMeta
	for path, data := range s.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, objectstore.ObjectMeta{Path: path, Size: int64(len(data)), LastModified: time.Now()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

var _ objectstore.Store = (*Store)(nil)
