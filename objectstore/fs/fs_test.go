package fs_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/objectstore"
	objfs "storj.io/cratesregistry/objectstore/fs"
)

func TestPutGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := objfs.New(t.TempDir())
	require.NoError(t, err)

	body := "hello crate"
	require.NoError(t, store.Put(ctx, "crates/demo/demo-1.0.0.crate", strings.NewReader(body), int64(len(body))))

	r, err := store.Get(ctx, "crates/demo/demo-1.0.0.crate")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.Equal(t, body, string(data))

	require.NoError(t, store.Delete(ctx, "crates/demo/demo-1.0.0.crate"))
	_, err = store.Get(ctx, "crates/demo/demo-1.0.0.crate")
	require.ErrorIs(t, err, objectstore.ErrNotExist)
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := objfs.New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "crates/a/a-1.0.0.crate", strings.NewReader("a"), 1))
	require.NoError(t, store.Put(ctx, "crates/b/b-1.0.0.crate", strings.NewReader("b"), 1))

	objs, err := store.List(ctx, "crates/a/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	require.Equal(t, "crates/a/a-1.0.0.crate", objs[0].Path)
}

func TestGetMissingReturnsErrNotExist(t *testing.T) {
	ctx := context.Background()
	store, err := objfs.New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(ctx, "nope")
	require.ErrorIs(t, err, objectstore.ErrNotExist)
}
