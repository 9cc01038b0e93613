package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storj.io/cratesregistry/database"
	"storj.io/cratesregistry/jobqueue"
)

var (
	updateDefaultVersionJob = jobqueue.Definition{Name: "update_default_version", Priority: 50, Queue: "default", Deduplicated: true}
	syncToGitIndexJob       = jobqueue.Definition{Name: "sync_to_git_index", Priority: 100, Queue: "repository", Deduplicated: true}
	syncToSparseIndexJob    = jobqueue.Definition{Name: "sync_to_sparse_index", Priority: 100, Queue: "default", Deduplicated: true}
)

var deleteVersionForce bool

var deleteVersionCmd = &cobra.Command{
	Use:   "delete-version <crate-name> <version>",
	Short: "Permanently delete one published version",
	Long: `delete-version removes a version and every row referencing it
(dependencies, download counts, owner actions, keyword links), then
enqueues index-sync jobs so the git and sparse indexes catch up, plus a
default-version recomputation for the crate. It does not touch the
crate's other versions.

Grounded on original_source/src/bin/crates-admin/delete_version.rs,
which performs the same database row deletion before scheduling index
sync -- there only the version's tarball and readme are removed from
object storage as a separate step, reproduced here too.`,
	Args: cobra.ExactArgs(2),
	RunE: runDeleteVersion,
}

func init() {
	deleteVersionCmd.Flags().BoolVarP(&deleteVersionForce, "yes", "y", false, "skip the confirmation prompt")
}

func runDeleteVersion(cmd *cobra.Command, args []string) error {
	crateName, versionNum := args[0], args[1]

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()

	crate, err := lookupCrate(ctx, db, crateName)
	if err != nil {
		return err
	}
	version, err := database.FindVersion(ctx, db, crate.ID, versionNum)
	if err == database.ErrNotFound {
		return fmt.Errorf("crate %q has no version %q", crateName, versionNum)
	}
	if err != nil {
		return fmt.Errorf("look up version: %w", err)
	}

	if !deleteVersionForce {
		if !confirm(fmt.Sprintf("Permanently delete %s v%s? This cannot be undone.", crateName, versionNum)) {
			fmt.Println("aborted")
			return nil
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := database.DeleteVersion(ctx, tx, version.ID); err != nil {
		return err
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, syncToGitIndexJob, cratePayload{CrateID: crate.ID, Name: crate.Name}); err != nil {
		return fmt.Errorf("enqueue sync_to_git_index: %w", err)
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, syncToSparseIndexJob, cratePayload{CrateID: crate.ID, Name: crate.Name}); err != nil {
		return fmt.Errorf("enqueue sync_to_sparse_index: %w", err)
	}
	if _, _, err := jobqueue.Enqueue(ctx, tx, updateDefaultVersionJob, cratePayload{CrateID: crate.ID, Name: crate.Name}); err != nil {
		return fmt.Errorf("enqueue update_default_version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	store, err := buildObjectStoreFromEnv(ctx)
	if err != nil {
		fmt.Printf("warning: could not delete object storage files for %s v%s: %v\n", crateName, versionNum, err)
		return nil
	}
	if err := deleteVersionObjects(ctx, store, crateName, versionNum); err != nil {
		fmt.Printf("warning: deleted database rows but object storage cleanup failed: %v\n", err)
		return nil
	}

	fmt.Printf("deleted %s v%s\n", crateName, versionNum)
	return nil
}
