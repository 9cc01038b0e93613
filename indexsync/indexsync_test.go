package indexsync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/database"
)

func TestDependencyKindString(t *testing.T) {
	require.Equal(t, "normal", dependencyKindString(database.DependencyKindNormal))
	require.Equal(t, "build", dependencyKindString(database.DependencyKindBuild))
	require.Equal(t, "dev", dependencyKindString(database.DependencyKindDev))
}

func TestJobDefinitionsMatchPublishAndOwnershipCopies(t *testing.T) {
	// publish.go and ownership.go each duplicate these two Definitions (see
	// DESIGN.md) instead of importing this package; pin the values here too so a
	// change to one side is caught without needing all three packages
	// imported into a single test.
	require.Equal(t, "sync_to_git_index", SyncToGitIndexJob.Name)
	require.Equal(t, int16(100), SyncToGitIndexJob.Priority)
	require.Equal(t, "repository", SyncToGitIndexJob.Queue)

	require.Equal(t, "sync_to_sparse_index", SyncToSparseIndexJob.Name)
	require.Equal(t, int16(100), SyncToSparseIndexJob.Priority)
	require.Equal(t, "default", SyncToSparseIndexJob.Queue)
}
