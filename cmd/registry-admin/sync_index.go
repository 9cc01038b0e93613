package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/indexrepo"
	"storj.io/cratesregistry/indexsync"
	"storj.io/cratesregistry/jobqueue"
)

var (
	syncIndexSingleCommit bool
	syncIndexRepoPath     string
	syncIndexRepoRemote   string
)

var syncIndexCmd = &cobra.Command{
	Use:   "sync-index <crate-name>...",
	Short: "Reconcile the git and sparse indexes with the database for one or more crates",
	Long: `sync-index recomputes and rewrites each named crate's index entry.
By default every crate is enqueued as an ordinary sync_to_git_index /
sync_to_sparse_index job pair, processed by the running worker like any
other job. With --single-commit, this process opens the git index
repository directly and batches every crate's git-index update into one
commit (package indexsync's BulkSyncToGitIndex), which is faster for a
large bulk re-sync but bypasses the job queue, so it prompts for
confirmation first.

Grounded on original_source/src/bin/crates-admin/sync_index.rs, which
offers the same per-crate-job vs. single-commit choice.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSyncIndex,
}

func init() {
	syncIndexCmd.Flags().BoolVar(&syncIndexSingleCommit, "single-commit", false, "batch every crate into one git commit instead of enqueuing jobs")
	syncIndexCmd.Flags().StringVar(&syncIndexRepoPath, "repo-path", "", "local path to the index git repository (required with --single-commit)")
	syncIndexCmd.Flags().StringVar(&syncIndexRepoRemote, "repo-remote", "", "git remote URL for the index repository (required with --single-commit)")
}

func runSyncIndex(cmd *cobra.Command, names []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()

	crates := make([]*database.Crate, 0, len(names))
	for _, name := range names {
		crate, err := lookupCrate(ctx, db, name)
		if err != nil {
			return err
		}
		crates = append(crates, crate)
	}

	if !syncIndexSingleCommit {
		for _, crate := range crates {
			if _, _, err := jobqueue.Enqueue(ctx, db, syncToGitIndexJob, cratePayload{CrateID: crate.ID, Name: crate.Name}); err != nil {
				return fmt.Errorf("enqueue sync_to_git_index for %s: %w", crate.Name, err)
			}
			if _, _, err := jobqueue.Enqueue(ctx, db, syncToSparseIndexJob, cratePayload{CrateID: crate.ID, Name: crate.Name}); err != nil {
				return fmt.Errorf("enqueue sync_to_sparse_index for %s: %w", crate.Name, err)
			}
		}
		fmt.Printf("enqueued index sync for %d crate(s)\n", len(crates))
		return nil
	}

	if syncIndexRepoPath == "" || syncIndexRepoRemote == "" {
		return fmt.Errorf("--single-commit requires --repo-path and --repo-remote")
	}
	if !confirm(fmt.Sprintf("Push one commit updating %d crate(s) directly to %s?", len(crates), syncIndexRepoRemote)) {
		fmt.Println("aborted")
		return nil
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	repo, err := indexrepo.Open(ctx, log, syncIndexRepoPath, syncIndexRepoRemote)
	if err != nil {
		return fmt.Errorf("open index repository: %w", err)
	}

	handlers := &indexsync.Handlers{DB: db, Repo: repo, Log: log}
	message := fmt.Sprintf("Bulk re-sync %d crate(s)", len(crates))
	if err := handlers.BulkSyncToGitIndex(ctx, names, message); err != nil {
		return fmt.Errorf("bulk sync git index: %w", err)
	}

	for _, crate := range crates {
		if _, _, err := jobqueue.Enqueue(ctx, db, syncToSparseIndexJob, cratePayload{CrateID: crate.ID, Name: crate.Name}); err != nil {
			return fmt.Errorf("enqueue sync_to_sparse_index for %s: %w", crate.Name, err)
		}
	}
	fmt.Printf("pushed one commit for %d crate(s), enqueued sparse index sync\n", len(crates))
	return nil
}
