package indexrepo_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/cratesregistry/indexrepo"
)

// newLocalRepo initializes a standalone repository with one commit so Open
// has a valid HEAD to work from.
func newLocalRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	wt, err := repo.Worktree()
	require.NoError(t, err)
	f, err := wt.Filesystem.Create("README.md")
	require.NoError(t, err)
	_, err = f.Write([]byte("index"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{Author: &indexrepo.CommitAuthor})
	require.NoError(t, err)
	return dir
}

func TestWriteAndCommitRejectsConfigJSON(t *testing.T) {
	dir := newLocalRepo(t)
	k, err := indexrepo.Open(context.Background(), zaptest.NewLogger(t), dir, "")
	require.NoError(t, err)

	g := k.Lock()
	defer g.Close()

	// config.json is refused before any push is attempted, so this must
	// not require a configured remote.
	err = k.WriteAndCommit(context.Background(), g, indexrepo.ConfigFilePath, []byte("{}"), "should be rejected")
	require.Error(t, err)
	require.Contains(t, err.Error(), indexrepo.ConfigFilePath)
}

func TestLockSerializesAccess(t *testing.T) {
	dir := newLocalRepo(t)
	k, err := indexrepo.Open(context.Background(), zaptest.NewLogger(t), dir, "")
	require.NoError(t, err)

	g := k.Lock()
	released := make(chan struct{})
	go func() {
		g2 := k.Lock()
		defer g2.Close()
		close(released)
	}()

	select {
	case <-released:
		t.Fatal("second Lock acquired while first guard still held")
	case <-time.After(50 * time.Millisecond):
	}
	g.Close()
	<-released
}
