package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"storj.io/cratesregistry/objectstore"
	"storj.io/cratesregistry/objectstore/fs"
	"storj.io/cratesregistry/objectstore/s3"
)

// buildObjectStoreFromEnv constructs the same object store cmd/registryd
// would, from REGISTRY_ADMIN_OBJECT_STORE_* environment variables rather
// than a config file: this binary runs as a one-off operator command, not
// a long-lived service, so it has no TOML config of its own.
func buildObjectStoreFromEnv(ctx context.Context) (objectstore.Store, error) {
	switch backend := os.Getenv("REGISTRY_ADMIN_OBJECT_STORE_BACKEND"); backend {
	case "", "fs":
		dir := os.Getenv("REGISTRY_ADMIN_OBJECT_STORE_FS_DIR")
		if dir == "" {
			dir = "./data/objects"
		}
		return fs.New(dir)
	case "s3":
		useSSL, _ := strconv.ParseBool(os.Getenv("REGISTRY_ADMIN_OBJECT_STORE_S3_USE_SSL"))
		return s3.New(ctx, s3.Config{
			Endpoint:        os.Getenv("REGISTRY_ADMIN_OBJECT_STORE_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("REGISTRY_ADMIN_OBJECT_STORE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("REGISTRY_ADMIN_OBJECT_STORE_S3_SECRET_ACCESS_KEY"),
			Bucket:          os.Getenv("REGISTRY_ADMIN_OBJECT_STORE_S3_BUCKET"),
			UseSSL:          useSSL,
		})
	default:
		return nil, fmt.Errorf("unknown REGISTRY_ADMIN_OBJECT_STORE_BACKEND %q", backend)
	}
}

// deleteVersionObjects removes a version's tarball and rendered readme from
// object storage. Deleting a path that was never written is not an error
// (objectstore.Store.Delete is idempotent), so a version published without
// a readme does not make this fail.
func deleteVersionObjects(ctx context.Context, store objectstore.Store, crateName, versionNum string) error {
	if err := store.Delete(ctx, objectstore.CratePath(crateName, versionNum)); err != nil {
		return fmt.Errorf("delete crate tarball: %w", err)
	}
	if err := store.Delete(ctx, objectstore.ReadmePath(crateName, versionNum)); err != nil {
		return fmt.Errorf("delete rendered readme: %w", err)
	}
	return nil
}
