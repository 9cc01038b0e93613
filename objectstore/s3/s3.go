// Package s3 is an S3-compatible objectstore.Store built on
// github.com/minio/minio-go/v7. The teacher's own go.mod already depends
// on the minio-go client family (github.com/minio/minio-go) for
// S3-compatible blob access; this core upgrades to the v7 client
// generation while keeping the same choice of library for the same
// concern.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zeebo/errs"

	"storj.io/cratesregistry/objectstore"
)

// Error is this package's class-tagged error, consistent with the rest of
// the registry's zeebo/errs usage. objectstore.ErrNotExist is a separate
// sentinel and is never wrapped in Error.
var Error = errs.Class("objectstore/s3")

// Config is the connection configuration for one bucket.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// Store is an objectstore.Store backed by a single S3-compatible bucket.
type Store struct {
	client *minio.Client
	bucket string
}

// New dials the configured endpoint and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("construct minio client: %w", err))
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("check bucket existence: %w", err))
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, Error.Wrap(fmt.Errorf("create bucket: %w", err))
		}
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Put implements objectstore.Store.
func (s *Store) Put(ctx context.Context, path string, body io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, path, body, size, minio.PutObjectOptions{})
	if err != nil {
		return Error.Wrap(fmt.Errorf("put object %q: %w", path, err))
	}
	return nil
}

// Get implements objectstore.Store.
func (s *Store) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("get object %q: %w", path, err))
	}
	// GetObject is lazy: force a stat to turn a missing key into
	// ErrNotExist now rather than on first Read.
	if _, err := obj.Stat(); err != nil {
		var errResp minio.ErrorResponse
		if errors.As(err, &errResp) && errResp.Code == "NoSuchKey" {
			obj.Close()
			return nil, objectstore.ErrNotExist
		}
		obj.Close()
		return nil, Error.Wrap(fmt.Errorf("stat object %q: %w", path, err))
	}
	return obj, nil
}

// Delete implements objectstore.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return Error.Wrap(fmt.Errorf("delete object %q: %w", path, err))
	}
	return nil
}

// List implements objectstore.Store.
func (s *Store) List(ctx context.Context, prefix string) ([]objectstore.ObjectMeta, error) {
	var out []objectstore.ObjectMeta
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, Error.Wrap(fmt.Errorf("list objects: %w", obj.Err))
		}
		out = append(out, objectstore.ObjectMeta{
			Path:         obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

var _ objectstore.Store = (*Store)(nil)
