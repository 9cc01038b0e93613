// Package objectstore defines the abstract blob store (C2) that the
// publish coordinator, index synchroniser, and download redirect all
// depend on through this interface alone -- never a concrete backend.
//
// The interface shape (Put/Get/Delete/List) is unchanged from
// SPEC_FULL.md §4.2; implementations live in sub-packages: objectstore/fs
// for local-disk storage (grounded on the teacher's content-addressed,
// sharded-directory storagenode blob layout) and objectstore/s3 for an
// S3-compatible backend built on minio-go/v7 (the modern generation of the
// client family the teacher's own go.mod already depends on,
// github.com/minio/minio-go), plus objectstore/s3mem, an in-memory Store
// used by the testctx harness.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned by Get for a path with no object; Delete of such
// a path returns nil.
var ErrNotExist = errors.New("objectstore: object does not exist")

// ObjectMeta describes one object returned by List.
type ObjectMeta struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// Store is the abstract blob store every backend implements.
type Store interface {
	// Put writes body to path, replacing any existing object there.
	Put(ctx context.Context, path string, body io.Reader, size int64) error
	// Get opens path for reading. The caller must close the returned
	// ReadCloser. Returns ErrNotExist if path has no object.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// Delete removes path. Deleting a path that does not exist is not an
	// error, matching the idempotent-retry expectations of the job queue.
	Delete(ctx context.Context, path string) error
	// List returns metadata for every object whose path has the given
	// prefix, in lexical path order.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)
}

// Canonical path builders, centralising the layout from SPEC_FULL.md §4.2
// so no caller hand-assembles a path.

// CratePath is the canonical path for a crate's tarball.
func CratePath(name, version string) string {
	return "crates/" + name + "/" + name + "-" + version + ".crate"
}

// ReadmePath is the canonical path for a version's rendered readme.
func ReadmePath(name, version string) string {
	return "readmes/" + name + "/" + name + "-" + version + ".html"
}

// IndexPath is the canonical path for a sparse-index mirror entry, given
// the already-sharded relative path from package cratename.
func IndexPath(shardedPath string) string {
	return "index/" + shardedPath
}

// RSSCratesPath is the site-wide "new crates" RSS feed path.
func RSSCratesPath() string { return "rss/crates.xml" }

// RSSUpdatesPath is the site-wide "updated crates" RSS feed path.
func RSSUpdatesPath() string { return "rss/updates.xml" }

// RSSCratePath is the per-crate RSS feed path.
func RSSCratePath(name string) string {
	return "rss/crates/" + name + ".xml"
}
