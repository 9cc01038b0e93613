// Package fs is a local-filesystem objectstore.Store, used in development.
// It lays objects out under baseDir using the
// object path directly as a relative filesystem path, mirroring the
// teacher's storagenode blob layout style of mapping a logical key onto a
// sharded on-disk path rather than a flat directory.
package fs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/errs"

	"storj.io/cratesregistry/objectstore"
)

// Error is this package's class-tagged error, consistent with the rest of
// the registry's zeebo/errs usage. objectstore.ErrNotExist is a separate
// sentinel and is never wrapped in Error.
var Error = errs.Class("objectstore/fs")

// Store is a local-disk objectstore.Store rooted at a base directory.
type Store struct {
	baseDir string
}

// New returns a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, Error.Wrap(fmt.Errorf("create object store root: %w", err))
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) resolve(path string) (string, error) {
	full := filepath.Join(s.baseDir, filepath.FromSlash(path))
	if !strings.HasPrefix(full, s.baseDir) {
		return "", Error.New("path %q escapes store root", path)
	}
	return full, nil
}

// Put implements objectstore.Store.
func (s *Store) Put(ctx context.Context, path string, body io.Reader, size int64) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Error.Wrap(fmt.Errorf("create object directory: %w", err))
	}
	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return Error.Wrap(fmt.Errorf("create temp object: %w", err))
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(tmp)
		return Error.Wrap(fmt.Errorf("write object: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return Error.Wrap(fmt.Errorf("close object: %w", err))
	}
	if err := os.Rename(tmp, full); err != nil {
		return Error.Wrap(fmt.Errorf("finalize object: %w", err))
	}
	return nil
}

// Get implements objectstore.Store.
func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, objectstore.ErrNotExist
	}
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("open object: %w", err))
	}
	return f, nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return Error.Wrap(fmt.Errorf("delete object: %w", err))
	}
	return nil
}

// List implements objectstore.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	root, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}

	var out []objectstore.ObjectMeta
	walkRoot := filepath.Dir(root)
	if _, err := os.Stat(walkRoot); os.IsNotExist(err) {
		return out, nil
	}

	err = filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel := filepath.ToSlash(strings.TrimPrefix(path, s.baseDir+string(filepath.Separator)))
		if !strings.HasPrefix(rel, prefix) || strings.HasSuffix(rel, ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, objectstore.ObjectMeta{
			Path:         rel,
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("list objects: %w", err))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

var _ objectstore.Store = (*Store)(nil)
