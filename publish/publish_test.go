package publish

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/tarball"
)

func TestIdentityPermittedByTrustedPublisher(t *testing.T) {
	id := Identity{TrustedPublisherCrateIDs: map[int64]bool{7: true}}
	require.True(t, id.permittedByTrustedPublisher(7))
	require.False(t, id.permittedByTrustedPublisher(8))

	var empty Identity
	require.False(t, empty.permittedByTrustedPublisher(7))
}

func TestDependencyKindMapsAllThreeTables(t *testing.T) {
	require.Equal(t, database.DependencyKindNormal, dependencyKind(tarball.DepKindNormal))
	require.Equal(t, database.DependencyKindBuild, dependencyKind(tarball.DepKindBuild))
	require.Equal(t, database.DependencyKindDev, dependencyKind(tarball.DepKindDev))
}

func TestNullStrEmptyIsInvalid(t *testing.T) {
	require.False(t, nullStr("").Valid)
	got := nullStr("hello")
	require.True(t, got.Valid)
	require.Equal(t, "hello", got.String)
}

func TestEnqueuePublishJobsSkipsNewCrateFeedOnUpdate(t *testing.T) {
	// The rss_sync_crates_feed job should only ever be reachable through the
	// isNew branch; this just pins down that definition's existence and
	// queue placement rather than exercising a live database.
	require.Equal(t, "rss_sync_crates_feed", syncCratesFeedJob.Name)
	require.Equal(t, "default", syncCratesFeedJob.Queue)
}

func TestJobDefinitionsAgreeWithOwnershipPackage(t *testing.T) {
	// publish and ownership each enqueue sync_to_git_index /
	// sync_to_sparse_index / update_default_version independently (see the
	// comment on ownership's copies) rather than sharing one definition; their
	// priorities must still match or jobqueue's deduplication would treat
	// the same logical job as two different rows.
	require.Equal(t, int16(100), syncToGitIndexJob.Priority)
	require.Equal(t, int16(100), syncToSparseIndexJob.Priority)
	require.Equal(t, int16(50), updateDefaultVersionJob.Priority)
}
