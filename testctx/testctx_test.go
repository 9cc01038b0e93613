package testctx_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/testctx"
)

func TestGoDirFile(t *testing.T) {
	ctx := testctx.New(t)
	defer ctx.Cleanup()

	ctx.Go(func() error {
		time.Sleep(time.Millisecond)
		return nil
	})

	dir := ctx.Dir("a", "b", "c")
	require.DirExists(t, dir)

	file := ctx.File("a", "w", "c.txt")
	require.DirExists(t, filepath.Dir(file))
}

func TestStoreIsUsable(t *testing.T) {
	ctx := testctx.New(t)
	defer ctx.Cleanup()

	store := ctx.Store()
	require.NotNil(t, store)
}

func TestDatabaseAppliesSchema(t *testing.T) {
	ctx := testctx.New(t)
	defer ctx.Cleanup()

	db := ctx.Database()
	_, err := database.ListCategories(ctx, db)
	require.NoError(t, err)
}
